package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/commerce-sync/internal/batch"
	"github.com/Kamar-Folarin/commerce-sync/internal/config"
	"github.com/Kamar-Folarin/commerce-sync/internal/conflict"
	"github.com/Kamar-Folarin/commerce-sync/internal/connector"
	"github.com/Kamar-Folarin/commerce-sync/internal/db"
	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/events"
	"github.com/Kamar-Folarin/commerce-sync/internal/metrics"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

var (
	// ErrJobCancelled is the cancellation cause of a caller-initiated cancel
	ErrJobCancelled = errors.New("job cancelled")
	// ErrJobTimeout is the cancellation cause when a job outlives its timeout
	ErrJobTimeout = errors.New("job timed out")
	// ErrEngineShutdown is the cancellation cause of jobs interrupted by Shutdown
	ErrEngineShutdown = errors.New("sync engine shutting down")
)

// Engine validates, creates and executes sync jobs
type Engine struct {
	store    db.Store
	registry *connector.Registry
	resolver *conflict.Resolver
	bus      *events.Bus
	batcher  *batch.Processor
	config   *config.EngineConfig
	logger   *logrus.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]context.CancelCauseFunc

	connMu     sync.Mutex
	connectors map[string]*connectorEntry
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the engine's time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a new sync engine
func New(store db.Store, registry *connector.Registry, bus *events.Bus, cfg *config.EngineConfig, logger *logrus.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		registry:   registry,
		resolver:   conflict.NewResolver(logger),
		bus:        bus,
		batcher:    batch.NewProcessor(&cfg.BatchConfig),
		config:     cfg,
		logger:     logger,
		now:        time.Now,
		active:     make(map[string]context.CancelCauseFunc),
		connectors: make(map[string]*connectorEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateSyncJob authorizes the caller against the integration, persists the
// job and enqueues it. A failed enqueue deletes the job again.
func (e *Engine) CreateSyncJob(ctx context.Context, cfg models.SyncJobConfig) (*models.SyncJob, error) {
	if err := e.applyDefaults(&cfg); err != nil {
		return nil, err
	}

	logger := e.logger.WithFields(logrus.Fields{
		"integration_id":  cfg.IntegrationID,
		"organization_id": cfg.OrganizationID,
		"job_type":        cfg.JobType,
	})

	integration, err := e.store.GetIntegration(ctx, cfg.IntegrationID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, err
		}
		return nil, apperrors.NewStoreError("get integration", err)
	}
	if integration.OrganizationID != cfg.OrganizationID {
		logger.Warn("Rejected sync job for integration outside caller organization")
		return nil, apperrors.NewAuthorizationError(cfg.IntegrationID, cfg.OrganizationID)
	}
	if !integration.Active {
		return nil, apperrors.NewValidationError(fmt.Sprintf("integration %s is not active", integration.ID), nil)
	}

	now := e.now()
	job := &models.SyncJob{
		ID:             uuid.NewString(),
		OrganizationID: cfg.OrganizationID,
		IntegrationID:  cfg.IntegrationID,
		JobType:        cfg.JobType,
		Config:         cfg,
		Status:         models.JobStatusPending,
		CreatedAt:      now,
	}
	if err := e.store.CreateSyncJob(ctx, job); err != nil {
		return nil, apperrors.NewStoreError("create sync job", err)
	}

	item := &models.QueueItem{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Priority:    cfg.Priority.Score(),
		MaxAttempts: cfg.RetryPolicy.MaxAttempts,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if err := e.store.EnqueueJob(ctx, item); err != nil {
		if delErr := e.store.DeleteSyncJob(context.WithoutCancel(ctx), job.ID); delErr != nil {
			logger.WithError(delErr).WithField("job_id", job.ID).Error("Failed to roll back job after enqueue failure")
		}
		return nil, apperrors.NewStoreError("enqueue sync job", err)
	}

	logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"priority": item.Priority,
		"entities": cfg.EntityTypes,
	}).Info("Sync job created")

	e.bus.Publish(events.Event{Type: events.JobCreated, JobID: job.ID, Job: job})
	return job, nil
}

func (e *Engine) applyDefaults(cfg *models.SyncJobConfig) error {
	if cfg.IntegrationID == "" {
		return apperrors.NewValidationError("integration_id is required", nil)
	}
	if cfg.OrganizationID == "" {
		return apperrors.NewValidationError("organization_id is required", nil)
	}
	if len(cfg.EntityTypes) == 0 {
		return apperrors.NewValidationError("at least one entity type is required", nil)
	}
	for _, et := range cfg.EntityTypes {
		if et == "" {
			return apperrors.NewValidationError("entity types cannot be empty", nil)
		}
	}

	if cfg.JobType == "" {
		cfg.JobType = models.JobTypeManual
	}
	if cfg.SyncMode == "" {
		cfg.SyncMode = models.SyncModeIncremental
	} else if cfg.SyncMode != models.SyncModeFull && cfg.SyncMode != models.SyncModeIncremental {
		return apperrors.NewValidationError(fmt.Sprintf("invalid sync mode %q", cfg.SyncMode), nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = e.config.DefaultBatchSize
	}
	if cfg.Priority == "" {
		cfg.Priority = models.PriorityNormal
	}
	if cfg.ConflictStrategy == "" {
		cfg.ConflictStrategy = e.config.DefaultConflictStrategy
	} else if !cfg.ConflictStrategy.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("invalid conflict strategy %q", cfg.ConflictStrategy), nil)
	}
	if cfg.RetryPolicy.MaxAttempts <= 0 {
		cfg.RetryPolicy.MaxAttempts = e.config.DefaultMaxAttempts
	}
	return nil
}

// ExecuteJob runs a claimed job to completion. On a retryable failure the
// error is recorded on the job and returned, leaving the queue item for the
// caller's retry policy. Cancelled jobs are completed here.
func (e *Engine) ExecuteJob(ctx context.Context, jobID string) error {
	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	e.mu.Lock()
	if len(e.active) >= e.config.MaxConcurrentJobs {
		active := len(e.active)
		e.mu.Unlock()
		return apperrors.NewConcurrencyLimitError(active, e.config.MaxConcurrentJobs)
	}
	if _, running := e.active[jobID]; running {
		e.mu.Unlock()
		return apperrors.NewValidationError(fmt.Sprintf("job %s is already running", jobID), nil)
	}
	e.active[jobID] = cancel
	metrics.ActiveJobs.Set(float64(len(e.active)))
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, jobID)
		metrics.ActiveJobs.Set(float64(len(e.active)))
		e.mu.Unlock()
	}()

	timeoutCtx, cancelTimeout := context.WithTimeoutCause(jobCtx, e.config.JobTimeout, ErrJobTimeout)
	defer cancelTimeout()

	// Outcomes are persisted even when the execution context is gone
	persistCtx := context.WithoutCancel(ctx)
	logger := e.logger.WithField("job_id", jobID)

	job, err := e.store.GetSyncJob(ctx, jobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return err
		}
		return apperrors.NewStoreError("get sync job", err)
	}
	if job.Status.IsTerminal() {
		logger.WithField("status", job.Status).Info("Skipping job already in a final state")
		return nil
	}
	logger = logger.WithField("integration_id", job.IntegrationID)

	integration, err := e.store.GetIntegration(ctx, job.IntegrationID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			syncErr := apperrors.NewSyncError(apperrors.CodeSyncFailed, err.Error(), false, err)
			return e.failJob(persistCtx, job, syncErr, logger)
		}
		return apperrors.NewStoreError("get integration", err)
	}

	startedAt := e.now()
	if err := e.store.MarkJobStarted(ctx, jobID, startedAt); err != nil {
		return apperrors.NewStoreError("mark job started", err)
	}
	job.Status = models.JobStatusInProgress
	job.StartedAt = &startedAt
	e.bus.Publish(events.Event{Type: events.JobStarted, JobID: jobID, Job: job})
	logger.Info("Sync job started")

	conn, err := e.getConnector(timeoutCtx, integration)
	if err != nil {
		syncErr := apperrors.NewSyncError(apperrors.CodeConnectorFailed, fmt.Sprintf("failed to initialize connector: %v", err), true, err)
		if cause := e.cancellationError(timeoutCtx, err); cause != nil {
			syncErr = cause
		}
		return e.failJob(persistCtx, job, syncErr, logger)
	}

	var tracker *metrics.Tracker
	if e.config.EnableMetrics {
		tracker = metrics.NewTracker(jobID)
	}

	result, err := e.executeSyncWithProgress(timeoutCtx, job, conn, tracker)
	if err != nil {
		return e.failJob(persistCtx, job, e.toSyncError(timeoutCtx, err), logger)
	}

	if tracker != nil {
		if err := e.store.SaveMetrics(persistCtx, tracker.Finish()); err != nil {
			logger.WithError(err).Warn("Failed to save performance metrics")
		}
	}

	if err := e.store.CompleteSyncJob(persistCtx, jobID, result, nil); err != nil {
		return apperrors.NewStoreError("complete sync job", err)
	}

	logger.WithFields(logrus.Fields{
		"success":     result.Success,
		"processed":   result.Summary.TotalProcessed,
		"failed":      result.Summary.TotalFailed,
		"conflicts":   result.Summary.TotalConflicts,
		"duration_ms": result.DurationMs,
	}).Info("Sync job completed")

	e.bus.Publish(events.Event{Type: events.JobCompleted, JobID: jobID, Job: e.reload(persistCtx, job), Result: result})
	return nil
}

// failJob completes non-retryable failures and records retryable ones
func (e *Engine) failJob(ctx context.Context, job *models.SyncJob, syncErr *apperrors.SyncError, logger *logrus.Entry) error {
	logger = logger.WithFields(logrus.Fields{
		"code":      syncErr.Code,
		"retryable": syncErr.Retryable,
	})

	if !syncErr.Retryable {
		if err := e.store.CompleteSyncJob(ctx, job.ID, nil, syncErr); err != nil {
			logger.WithError(err).Error("Failed to complete failed sync job")
			return apperrors.NewStoreError("complete sync job", err)
		}
	} else if err := e.store.RecordJobError(ctx, job.ID, syncErr); err != nil {
		logger.WithError(err).Warn("Failed to record job error")
	}

	if syncErr.Code == apperrors.CodeJobCancelled {
		logger.Info("Sync job stopped after cancellation")
		return syncErr
	}

	logger.WithError(syncErr).Error("Sync job failed")
	e.bus.Publish(events.Event{Type: events.JobFailed, JobID: job.ID, Job: e.reload(ctx, job), Error: syncErr})
	return syncErr
}

func (e *Engine) reload(ctx context.Context, job *models.SyncJob) *models.SyncJob {
	fresh, err := e.store.GetSyncJob(ctx, job.ID)
	if err != nil {
		return job
	}
	return fresh
}

// cancellationError maps a cancelled execution context onto a SyncError, or
// returns nil when ctx is still live
func (e *Engine) cancellationError(ctx context.Context, err error) *apperrors.SyncError {
	if ctx.Err() == nil {
		return nil
	}

	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrJobCancelled):
		return apperrors.NewSyncError(apperrors.CodeJobCancelled, "job was cancelled", false, cause)
	case errors.Is(cause, ErrJobTimeout):
		return apperrors.NewSyncError(apperrors.CodeJobTimeout,
			fmt.Sprintf("job exceeded timeout of %v", e.config.JobTimeout), true, cause)
	default:
		return apperrors.NewSyncError(apperrors.CodeSyncFailed,
			fmt.Sprintf("job interrupted: %v", cause), true, err)
	}
}

func (e *Engine) toSyncError(ctx context.Context, err error) *apperrors.SyncError {
	if syncErr := e.cancellationError(ctx, err); syncErr != nil {
		return syncErr
	}
	if syncErr, ok := apperrors.AsSyncError(err); ok {
		return syncErr
	}
	return apperrors.NewSyncError(apperrors.CodeSyncFailed, err.Error(), true, err)
}

// executeSyncWithProgress syncs the job's entity types in order. Entity
// failures are collected; cancellation aborts the whole job.
func (e *Engine) executeSyncWithProgress(ctx context.Context, job *models.SyncJob, conn connector.Connector, tracker *metrics.Tracker) (*models.SyncResult, error) {
	result := models.NewSyncResult()
	result.StartedAt = e.now()

	entityTypes := job.Config.EntityTypes
	total := len(entityTypes)

	for i, entityType := range entityTypes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		progress := models.SyncProgress{
			Phase:             models.PhaseFetching,
			CurrentEntity:     entityType,
			CompletedEntities: i,
			TotalEntities:     total,
			Percentage:        i * 100 / total,
			ItemsProcessed:    result.Summary.TotalProcessed,
		}
		e.publishProgress(ctx, job, &progress, tracker)

		logger := e.logger.WithFields(logrus.Fields{
			"job_id":      job.ID,
			"entity_type": entityType,
		})

		entityResult, err := conn.Sync(ctx, entityType, connector.SyncOptions{
			Limit:   job.Config.BatchSize,
			Force:   job.Config.SyncMode == models.SyncModeFull,
			Tracker: tracker,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			logger.WithError(err).Warn("Entity sync failed")
			result.Success = false
			result.Errors = append(result.Errors, apperrors.NewEntitySyncError(entityType, err))
			result.Entities[entityType] = &models.EntityResult{Errors: []string{err.Error()}}
			continue
		}
		if entityResult == nil {
			entityResult = &models.EntityResult{}
		}

		result.Entities[entityType] = entityResult
		result.Summary.Add(entityResult)

		if e.config.EnableConflictDetection && len(entityResult.Conflicts) > 0 {
			progress.ItemsProcessed = result.Summary.TotalProcessed
			conflicts, err := e.detectConflicts(ctx, job, entityType, entityResult.Conflicts, progress, tracker)
			if err != nil {
				if ctx.Err() != nil {
					return nil, err
				}
				logger.WithError(err).Error("Failed to persist conflicts")
				result.Success = false
				result.Errors = append(result.Errors, apperrors.NewEntitySyncError(entityType, err))
			}
			result.Conflicts = append(result.Conflicts, conflicts...)
			result.Summary.TotalConflicts += len(conflicts)
		}

		logger.WithFields(logrus.Fields{
			"processed": entityResult.ItemsProcessed,
			"created":   entityResult.ItemsCreated,
			"updated":   entityResult.ItemsUpdated,
			"failed":    entityResult.ItemsFailed,
		}).Debug("Entity sync finished")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.publishProgress(ctx, job, &models.SyncProgress{
		Phase:             models.PhaseFinalizing,
		CompletedEntities: total,
		TotalEntities:     total,
		Percentage:        100,
		ItemsProcessed:    result.Summary.TotalProcessed,
	}, tracker)

	result.DurationMs = e.now().Sub(result.StartedAt).Milliseconds()
	return result, nil
}

func (e *Engine) publishProgress(ctx context.Context, job *models.SyncJob, progress *models.SyncProgress, tracker *metrics.Tracker) {
	if ctx.Err() != nil {
		return
	}
	progress.LastUpdated = e.now()

	tracker.RecordDBQuery()
	if err := e.store.UpdateSyncJobProgress(ctx, job.ID, progress); err != nil {
		e.logger.WithError(err).WithField("job_id", job.ID).Warn("Failed to update job progress")
	}
	e.bus.Publish(events.Event{Type: events.JobProgress, JobID: job.ID, Progress: progress})
}

// detectConflicts records every candidate, resolving auto-resolvable ones
// with the job's strategy. Each saved batch is reported as progress on top
// of the entity's progress.
func (e *Engine) detectConflicts(ctx context.Context, job *models.SyncJob, entityType string, candidates []models.PotentialConflict, progress models.SyncProgress, tracker *metrics.Tracker) ([]*models.SyncConflict, error) {
	now := e.now()
	conflicts := make([]*models.SyncConflict, 0, len(candidates))
	for _, candidate := range candidates {
		c := &models.SyncConflict{
			ID:            uuid.NewString(),
			JobID:         job.ID,
			IntegrationID: job.IntegrationID,
			EntityType:    entityType,
			RecordID:      candidate.RecordID,
			FieldName:     candidate.FieldName,
			SourceValue:   candidate.SourceValue,
			TargetValue:   candidate.TargetValue,
			DetectedAt:    now,
		}
		if candidate.AutoResolvable {
			c.Resolution = e.resolver.Resolve(job.Config.ConflictStrategy, candidate)
		}
		conflicts = append(conflicts, c)
	}

	err := batch.Process(ctx, e.batcher, conflicts, func(ctx context.Context, chunk []*models.SyncConflict) error {
		tracker.RecordDBQuery()
		return e.store.SaveConflicts(ctx, chunk)
	}, func(p batch.Progress) {
		saved := progress
		saved.Phase = models.PhasePersistingConflicts
		saved.ConflictsSaved = p.ProcessedItems
		saved.ConflictsTotal = p.TotalItems
		e.publishProgress(ctx, job, &saved, tracker)
	})
	if err != nil {
		return nil, err
	}

	for _, c := range conflicts {
		e.bus.Publish(events.Event{Type: events.ConflictDetected, JobID: job.ID, Conflict: c})
	}
	return conflicts, nil
}

// CancelJob marks the job cancelled and stops its execution if it is running
// in this process
func (e *Engine) CancelJob(ctx context.Context, jobID string) error {
	job, err := e.store.GetSyncJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return apperrors.NewValidationError(fmt.Sprintf("job %s is already %s", jobID, job.Status), nil)
	}

	// Stop the execution first so it cannot report progress past the
	// cancelled status.
	e.mu.Lock()
	cancel, running := e.active[jobID]
	e.mu.Unlock()
	if running {
		cancel(ErrJobCancelled)
	}

	now := e.now()
	if err := e.store.CancelSyncJob(ctx, jobID, now); err != nil {
		// The interrupted execution may have recorded the cancellation first.
		if !running || e.reload(ctx, job).Status != models.JobStatusCancelled {
			return err
		}
	}

	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now

	e.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"running": running,
	}).Info("Sync job cancelled")

	e.bus.Publish(events.Event{Type: events.JobCancelled, JobID: jobID, Job: job})
	return nil
}

// ActiveJobCount returns the number of jobs executing in this process
func (e *Engine) ActiveJobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Shutdown interrupts every active job and disconnects all cached connectors
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	for jobID, cancel := range e.active {
		e.logger.WithField("job_id", jobID).Warn("Interrupting active job for shutdown")
		cancel(ErrEngineShutdown)
	}
	e.mu.Unlock()

	return e.disconnectAll(ctx)
}
