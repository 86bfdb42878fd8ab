package models

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
)

// EntityResult is what a connector reports for one entity type
type EntityResult struct {
	ItemsProcessed int                 `json:"items_processed"`
	ItemsCreated   int                 `json:"items_created"`
	ItemsUpdated   int                 `json:"items_updated"`
	ItemsDeleted   int                 `json:"items_deleted"`
	ItemsSkipped   int                 `json:"items_skipped"`
	ItemsFailed    int                 `json:"items_failed"`
	Errors         []string            `json:"errors,omitempty"`
	Conflicts      []PotentialConflict `json:"conflicts,omitempty"`
}

// SyncSummary aggregates counts across entity types
type SyncSummary struct {
	TotalProcessed int `json:"total_processed"`
	TotalCreated   int `json:"total_created"`
	TotalUpdated   int `json:"total_updated"`
	TotalDeleted   int `json:"total_deleted"`
	TotalSkipped   int `json:"total_skipped"`
	TotalFailed    int `json:"total_failed"`
	TotalConflicts int `json:"total_conflicts"`
}

// Add folds one entity result into the summary
func (s *SyncSummary) Add(r *EntityResult) {
	s.TotalProcessed += r.ItemsProcessed
	s.TotalCreated += r.ItemsCreated
	s.TotalUpdated += r.ItemsUpdated
	s.TotalDeleted += r.ItemsDeleted
	s.TotalSkipped += r.ItemsSkipped
	s.TotalFailed += r.ItemsFailed
}

// SyncResult is the in-memory aggregate of one job execution, serialized into
// the job record on completion
type SyncResult struct {
	Success    bool                         `json:"success"`
	Entities   map[string]*EntityResult     `json:"entities"`
	Summary    SyncSummary                  `json:"summary"`
	Conflicts  []*SyncConflict              `json:"conflicts,omitempty"`
	Errors     []*apperrors.EntitySyncError `json:"errors,omitempty"`
	DurationMs int64                        `json:"duration_ms"`
	StartedAt  time.Time                    `json:"started_at"`
}

// NewSyncResult creates an empty successful result
func NewSyncResult() *SyncResult {
	return &SyncResult{
		Success:   true,
		Entities:  make(map[string]*EntityResult),
		StartedAt: time.Now(),
	}
}

// String returns the JSON string representation of the result
func (r *SyncResult) String() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal sync result: %v"}`, err)
	}
	return string(data)
}
