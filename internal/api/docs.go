package api

import (
	"github.com/Kamar-Folarin/commerce-sync/internal/engine"
	"github.com/Kamar-Folarin/commerce-sync/internal/manager"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// TriggerSyncRequest is the body of a manual sync request
// @Description Entity types and options for a manual sync
type TriggerSyncRequest struct {
	// Entity types to synchronize, in order
	EntityTypes []string `json:"entity_types" binding:"required,min=1" example:"products,orders"`
	// full or incremental
	SyncMode string `json:"sync_mode" example:"incremental"`
	// Page size handed to the connector
	BatchSize int `json:"batch_size" example:"100"`
	// high, normal or low
	Priority string `json:"priority" example:"normal"`
	// source_wins, target_wins, newest_wins or manual
	ConflictStrategy string `json:"conflict_strategy" example:"source_wins"`
}

// JobCreatedResponse is returned when a job is queued
type JobCreatedResponse struct {
	JobID  string `json:"job_id" example:"7f9c2d4e-8a61-4c3b-9e0f-1d2a3b4c5d6e"`
	Status string `json:"status" example:"pending"`
}

// JobListResponse wraps a page of jobs
type JobListResponse struct {
	Jobs  []*models.SyncJob `json:"jobs"`
	Total int               `json:"total" example:"1"`
}

// ResolveConflictRequest carries the value chosen by a user
type ResolveConflictRequest struct {
	ResolvedValue interface{} `json:"resolved_value" binding:"required"`
}

// StatusResponse is a bare status acknowledgement
type StatusResponse struct {
	Status string `json:"status" example:"cancelled"`
}

// HealthResponse combines engine health with the worker's counters
type HealthResponse struct {
	Engine  *engine.HealthStatus `json:"engine"`
	Manager manager.Stats        `json:"manager"`
}

// ErrorResponse represents an API error
// @Description Error details
type ErrorResponse struct {
	Error   string `json:"error" example:"sync job not found: 42"`
	Details string `json:"details,omitempty"`
}
