package models

import (
	"time"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
)

// JobType describes how a job was triggered
type JobType string

const (
	JobTypeManual    JobType = "manual"
	JobTypeScheduled JobType = "scheduled"
	JobTypeRetry     JobType = "retry"
)

// JobStatus is the lifecycle state of a sync job
type JobStatus string

const (
	JobStatusPending             JobStatus = "pending"
	JobStatusInProgress          JobStatus = "in_progress"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
	JobStatusCancelled           JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// SyncMode selects full or incremental synchronization
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// Priority is the requested scheduling tier of a job
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Score maps the tier onto the numeric queue priority (higher = sooner)
func (p Priority) Score() int {
	switch p {
	case PriorityHigh:
		return 80
	case PriorityLow:
		return 20
	default:
		return 50
	}
}

// ConflictStrategy selects how field-level conflicts are resolved
type ConflictStrategy string

const (
	StrategySourceWins ConflictStrategy = "source_wins"
	StrategyTargetWins ConflictStrategy = "target_wins"
	StrategyNewestWins ConflictStrategy = "newest_wins"
	StrategyManual     ConflictStrategy = "manual"
)

// Valid reports whether the strategy is known
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategySourceWins, StrategyTargetWins, StrategyNewestWins, StrategyManual:
		return true
	}
	return false
}

// RetryPolicy bounds automatic retries of a job
type RetryPolicy struct {
	MaxAttempts int `json:"max_attempts"`
}

// SyncJobConfig is the immutable configuration snapshot of a job
type SyncJobConfig struct {
	IntegrationID    string           `json:"integration_id"`
	OrganizationID   string           `json:"organization_id"`
	CreatedBy        string           `json:"created_by,omitempty"`
	JobType          JobType          `json:"job_type"`
	EntityTypes      []string         `json:"entity_types"`
	SyncMode         SyncMode         `json:"sync_mode"`
	BatchSize        int              `json:"batch_size"`
	Priority         Priority         `json:"priority"`
	ConflictStrategy ConflictStrategy `json:"conflict_strategy"`
	RetryPolicy      RetryPolicy      `json:"retry_policy"`
	ScheduleID       string           `json:"schedule_id,omitempty"`
	ParentJobID      string           `json:"parent_job_id,omitempty"`
}

// SyncJob is one unit of synchronization work against an integration
type SyncJob struct {
	ID             string               `json:"id"`
	OrganizationID string               `json:"organization_id"`
	IntegrationID  string               `json:"integration_id"`
	JobType        JobType              `json:"job_type"`
	Config         SyncJobConfig        `json:"config"`
	Status         JobStatus            `json:"status"`
	Progress       *SyncProgress        `json:"progress,omitempty"`
	Result         *SyncResult          `json:"result,omitempty"`
	Error          *apperrors.SyncError `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	StartedAt      *time.Time           `json:"started_at,omitempty"`
	CompletedAt    *time.Time           `json:"completed_at,omitempty"`
}

// JobFilter narrows job listings
type JobFilter struct {
	OrganizationID string
	IntegrationID  string
	Status         JobStatus
	Limit          int
}
