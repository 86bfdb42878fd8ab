package db

import (
	"context"
	"time"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// Store defines the job store operations shared by every worker process.
// ClaimNextSyncJob, ReleaseSyncJob and CompleteSyncJob must be atomic.
type Store interface {
	// Integration operations
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	SaveIntegration(ctx context.Context, integration *models.Integration) error

	// Job operations
	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	DeleteSyncJob(ctx context.Context, jobID string) error
	GetSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error)
	ListSyncJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error)
	MarkJobStarted(ctx context.Context, jobID string, startedAt time.Time) error
	RecordJobError(ctx context.Context, jobID string, syncErr *apperrors.SyncError) error
	CancelSyncJob(ctx context.Context, jobID string, cancelledAt time.Time) error

	// Queue operations
	EnqueueJob(ctx context.Context, item *models.QueueItem) error
	GetQueueItem(ctx context.Context, jobID string) (*models.QueueItem, error)
	// ClaimNextSyncJob returns "" when nothing is claimable
	ClaimNextSyncJob(ctx context.Context, workerID string, lockDuration time.Duration) (string, error)
	ReleaseSyncJob(ctx context.Context, jobID string, retryDelay time.Duration) error
	CompleteSyncJob(ctx context.Context, jobID string, result *models.SyncResult, syncErr *apperrors.SyncError) error
	UpdateSyncJobProgress(ctx context.Context, jobID string, progress *models.SyncProgress) error
	ListStaleQueueItems(ctx context.Context, staleAfter time.Duration) ([]*models.QueueItem, error)

	// Schedule operations
	SaveSchedule(ctx context.Context, schedule *models.SyncSchedule) error
	ListDueSchedules(ctx context.Context, now time.Time) ([]*models.SyncSchedule, error)
	UpdateScheduleRun(ctx context.Context, scheduleID string, lastRunAt, nextRunAt time.Time) error

	// Conflict operations
	SaveConflicts(ctx context.Context, conflicts []*models.SyncConflict) error
	GetConflict(ctx context.Context, id string) (*models.SyncConflict, error)
	ListConflicts(ctx context.Context, jobID string) ([]*models.SyncConflict, error)
	ResolveConflict(ctx context.Context, id string, resolution *models.ConflictResolution) error

	// Metrics operations
	SaveMetrics(ctx context.Context, metrics *models.PerformanceMetrics) error
	GetMetrics(ctx context.Context, jobID string) (*models.PerformanceMetrics, error)
}

// terminalStatus derives the final job status from the execution outcome
func terminalStatus(result *models.SyncResult, syncErr *apperrors.SyncError) models.JobStatus {
	switch {
	case syncErr != nil && syncErr.Code == apperrors.CodeJobCancelled:
		return models.JobStatusCancelled
	case syncErr != nil:
		return models.JobStatusFailed
	case result != nil && !result.Success:
		return models.JobStatusCompletedWithErrors
	default:
		return models.JobStatusCompleted
	}
}
