package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/commerce-sync/internal/config"
	"github.com/Kamar-Folarin/commerce-sync/internal/db"
	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/metrics"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// SyncEngine is the part of the sync engine the manager drives
type SyncEngine interface {
	CreateSyncJob(ctx context.Context, cfg models.SyncJobConfig) (*models.SyncJob, error)
	ExecuteJob(ctx context.Context, jobID string) error
	CancelJob(ctx context.Context, jobID string) error
	Shutdown(ctx context.Context) error
}

// Stats are the manager's counters since start
type Stats struct {
	WorkerID           string     `json:"worker_id"`
	Running            bool       `json:"running"`
	ActiveJobs         int        `json:"active_jobs"`
	MaxConcurrentJobs  int        `json:"max_concurrent_jobs"`
	JobsSucceeded      int64      `json:"jobs_succeeded"`
	JobsFailed         int64      `json:"jobs_failed"`
	JobsRetried        int64      `json:"jobs_retried"`
	SchedulesTriggered int64      `json:"schedules_triggered"`
	StaleLocksReleased int64      `json:"stale_locks_released"`
	LastPollAt         *time.Time `json:"last_poll_at,omitempty"`
}

// Manager is the worker loop: it claims jobs, evaluates schedules, applies
// the retry policy and reclaims stale locks
type Manager struct {
	store  db.Store
	engine SyncEngine
	config *config.ManagerConfig
	logger *logrus.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	active  map[string]struct{}
	stats   Stats
	stopCh  chan struct{}
	loopWg  sync.WaitGroup
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the manager's time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a new job manager
func New(store db.Store, engine SyncEngine, cfg *config.ManagerConfig, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		engine: engine,
		config: cfg,
		logger: logger,
		now:    time.Now,
		active: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins the poll loop. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.WithField("worker_id", m.config.WorkerID).Info("Job manager already running")
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"worker_id":           m.config.WorkerID,
		"poll_interval":       m.config.PollInterval,
		"max_concurrent_jobs": m.config.MaxConcurrentJobs,
		"scheduling":          m.config.EnableScheduling,
	}).Info("Starting job manager")

	m.loopWg.Add(1)
	go func() {
		defer m.loopWg.Done()

		ticker := time.NewTicker(m.config.PollInterval)
		defer ticker.Stop()

		m.pollForJobs(ctx)
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.pollForJobs(ctx)
			}
		}
	}()
}

// pollForJobs runs one tick of the loop. Claiming is skipped while at the
// concurrency ceiling; schedules and stale locks are handled regardless.
func (m *Manager) pollForJobs(ctx context.Context) {
	now := m.now()
	m.mu.Lock()
	m.stats.LastPollAt = &now
	m.mu.Unlock()

	if m.config.EnableScheduling {
		m.checkScheduledJobs(ctx)
	}

	if m.ActiveJobCount() < m.config.MaxConcurrentJobs {
		jobID, err := m.claimNextJob(ctx)
		if err != nil {
			m.logger.WithError(err).WithField("worker_id", m.config.WorkerID).Error("Failed to claim job")
		} else if jobID != "" {
			m.dispatch(jobID)
		}
	} else {
		m.logger.WithField("active_jobs", m.ActiveJobCount()).Debug("At concurrency limit, skipping claim")
	}

	m.cleanupStaleLocks(ctx)
}

func (m *Manager) claimNextJob(ctx context.Context) (string, error) {
	jobID, err := m.store.ClaimNextSyncJob(ctx, m.config.WorkerID, m.config.LockDuration)
	if err != nil {
		return "", apperrors.NewStoreError("claim next sync job", err)
	}
	return jobID, nil
}

// dispatch registers the job as active and runs it without blocking the loop
func (m *Manager) dispatch(jobID string) {
	m.mu.Lock()
	if _, ok := m.active[jobID]; ok {
		m.mu.Unlock()
		return
	}
	m.active[jobID] = struct{}{}
	m.mu.Unlock()

	go m.processJob(context.Background(), jobID)
}

func (m *Manager) processJob(ctx context.Context, jobID string) {
	defer func() {
		m.mu.Lock()
		delete(m.active, jobID)
		m.mu.Unlock()
	}()

	logger := m.logger.WithFields(logrus.Fields{
		"job_id":    jobID,
		"worker_id": m.config.WorkerID,
	})
	logger.Info("Processing claimed job")

	err := m.engine.ExecuteJob(ctx, jobID)
	if err == nil {
		m.mu.Lock()
		m.stats.JobsSucceeded++
		m.mu.Unlock()

		if job, err := m.store.GetSyncJob(ctx, jobID); err == nil && job.Result != nil {
			logger.WithFields(logrus.Fields{
				"status":    job.Status,
				"processed": job.Result.Summary.TotalProcessed,
				"created":   job.Result.Summary.TotalCreated,
				"updated":   job.Result.Summary.TotalUpdated,
				"failed":    job.Result.Summary.TotalFailed,
			}).Info("Job finished")
		}
		return
	}

	m.mu.Lock()
	m.stats.JobsFailed++
	m.mu.Unlock()
	logger.WithError(err).Warn("Job execution failed")

	if syncErr, ok := apperrors.AsSyncError(err); ok && !syncErr.Retryable {
		return
	}
	switch {
	case apperrors.IsNotFound(err), apperrors.IsInvalidInput(err):
		return
	case apperrors.IsConcurrencyLimit(err):
		if err := m.store.ReleaseSyncJob(ctx, jobID, m.config.PollInterval); err != nil {
			logger.WithError(err).Error("Failed to release job after concurrency limit")
		}
		return
	}

	if !m.config.AutoRetry {
		m.failTerminal(ctx, jobID, apperrors.CodeSyncFailed, err.Error(), err)
		return
	}
	m.handleJobRetry(ctx, jobID, err)
}

// handleJobRetry releases the job with exponential backoff while attempts
// remain, and fails it permanently once they are exhausted
func (m *Manager) handleJobRetry(ctx context.Context, jobID string, cause error) {
	logger := m.logger.WithField("job_id", jobID)

	item, err := m.store.GetQueueItem(ctx, jobID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			logger.Debug("Queue item already removed, nothing to retry")
			return
		}
		logger.WithError(err).Error("Failed to load queue item for retry")
		return
	}

	// MaxAttempts bounds executions, so the failure that reaches it is final
	// and the row itself never holds attempts == max_attempts.
	failures := item.Attempts + 1
	if failures < item.MaxAttempts {
		delay := RetryDelay(failures)
		if err := m.store.ReleaseSyncJob(ctx, jobID, delay); err != nil {
			logger.WithError(err).Error("Failed to release job for retry")
			return
		}

		metrics.JobRetries.Inc()
		metrics.JobsProcessed.WithLabelValues("retried").Inc()
		m.mu.Lock()
		m.stats.JobsRetried++
		m.mu.Unlock()

		logger.WithFields(logrus.Fields{
			"attempt":      failures,
			"max_attempts": item.MaxAttempts,
			"retry_delay":  delay,
		}).Info("Job released for retry")
		return
	}

	m.failTerminal(ctx, jobID, apperrors.CodeRetryExhausted,
		fmt.Sprintf("retry attempts exhausted after %d attempts: %v", failures, cause), cause)
}

// failTerminal completes the job as failed with no further retries
func (m *Manager) failTerminal(ctx context.Context, jobID, code, message string, cause error) {
	syncErr := apperrors.NewSyncError(code, message, false, cause)
	syncErr.Terminal = true

	if err := m.store.CompleteSyncJob(ctx, jobID, nil, syncErr); err != nil {
		m.logger.WithError(err).WithField("job_id", jobID).Error("Failed to mark job as permanently failed")
		return
	}
	m.logger.WithFields(logrus.Fields{
		"job_id": jobID,
		"code":   code,
	}).Warn("Job failed permanently")
}

// checkScheduledJobs spawns a job for every due schedule inside its window and
// advances the schedule immediately
func (m *Manager) checkScheduledJobs(ctx context.Context) {
	now := m.now()
	schedules, err := m.store.ListDueSchedules(ctx, now)
	if err != nil {
		m.logger.WithError(apperrors.NewStoreError("list due schedules", err)).Error("Failed to load schedules")
		return
	}

	for _, schedule := range schedules {
		logger := m.logger.WithFields(logrus.Fields{
			"schedule_id":    schedule.ID,
			"integration_id": schedule.IntegrationID,
		})

		if schedule.ActiveHours != nil {
			if _, err := withinActiveHours(schedule.ActiveHours, now); err != nil {
				logger.WithError(err).Warn("Ignoring invalid active hours")
			}
		}
		if !ShouldRunSchedule(schedule, now) {
			continue
		}

		job, err := m.engine.CreateSyncJob(ctx, models.SyncJobConfig{
			IntegrationID:  schedule.IntegrationID,
			OrganizationID: schedule.OrganizationID,
			CreatedBy:      schedule.CreatedBy,
			JobType:        models.JobTypeScheduled,
			EntityTypes:    schedule.EntityTypes,
			SyncMode:       schedule.SyncMode,
			Priority:       schedule.Priority,
			ScheduleID:     schedule.ID,
		})
		if err != nil {
			logger.WithError(err).Error("Failed to create scheduled job")
			continue
		}

		next := now.Add(schedule.Frequency.Interval())
		if err := m.store.UpdateScheduleRun(ctx, schedule.ID, now, next); err != nil {
			logger.WithError(err).Error("Failed to advance schedule")
			continue
		}

		m.mu.Lock()
		m.stats.SchedulesTriggered++
		m.mu.Unlock()

		logger.WithFields(logrus.Fields{
			"job_id":      job.ID,
			"next_run_at": next,
		}).Info("Scheduled job created")
	}
}

// cleanupStaleLocks releases queue items whose lock outlived twice the lock
// duration. Jobs this process is still running are left alone.
func (m *Manager) cleanupStaleLocks(ctx context.Context) {
	items, err := m.store.ListStaleQueueItems(ctx, 2*m.config.LockDuration)
	if err != nil {
		m.logger.WithError(apperrors.NewStoreError("list stale queue items", err)).Error("Failed to load stale locks")
		return
	}

	for _, item := range items {
		if m.isActive(item.JobID) {
			continue
		}
		if err := m.store.ReleaseSyncJob(ctx, item.JobID, 0); err != nil {
			m.logger.WithError(err).WithField("job_id", item.JobID).Error("Failed to release stale lock")
			continue
		}

		metrics.StaleLocksReleased.Inc()
		m.mu.Lock()
		m.stats.StaleLocksReleased++
		m.mu.Unlock()

		lockedBy := ""
		if item.LockedBy != nil {
			lockedBy = *item.LockedBy
		}
		m.logger.WithFields(logrus.Fields{
			"job_id":    item.JobID,
			"locked_by": lockedBy,
		}).Warn("Released stale job lock")
	}
}

// Stop halts polling, waits for active jobs and escalates to cancellation
// after forceKillAfter. The engine is shut down in every case.
func (m *Manager) Stop(ctx context.Context, gracefulShutdown, forceKillAfter time.Duration) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return m.engine.Shutdown(ctx)
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.loopWg.Wait()
	m.logger.WithField("active_jobs", m.ActiveJobCount()).Info("Job manager stopped polling")

	interval := m.config.ShutdownCheckInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	started := time.Now()
	warned := false
	for m.ActiveJobCount() > 0 {
		elapsed := time.Since(started)
		if elapsed >= forceKillAfter {
			m.forceCancel(ctx)
			break
		}
		if elapsed >= gracefulShutdown && !warned {
			warned = true
			m.logger.WithField("active_jobs", m.ActiveJobIDs()).Warn("Graceful shutdown period elapsed, still waiting for jobs")
		}
		<-ticker.C
	}

	return m.engine.Shutdown(ctx)
}

func (m *Manager) forceCancel(ctx context.Context) {
	for _, jobID := range m.ActiveJobIDs() {
		m.logger.WithField("job_id", jobID).Warn("Force cancelling job")
		if err := m.engine.CancelJob(ctx, jobID); err != nil {
			m.logger.WithError(err).WithField("job_id", jobID).Error("Failed to cancel job")
		}
	}
}

// TriggerManualSync creates an on-demand job for an integration
func (m *Manager) TriggerManualSync(ctx context.Context, req ManualSyncRequest) (*models.SyncJob, error) {
	return m.engine.CreateSyncJob(ctx, models.SyncJobConfig{
		IntegrationID:    req.IntegrationID,
		OrganizationID:   req.OrganizationID,
		CreatedBy:        req.UserID,
		JobType:          models.JobTypeManual,
		EntityTypes:      req.EntityTypes,
		SyncMode:         req.SyncMode,
		BatchSize:        req.BatchSize,
		Priority:         req.Priority,
		ConflictStrategy: req.ConflictStrategy,
	})
}

// RetryJob clones a finished job's configuration into a single-attempt retry job
func (m *Manager) RetryJob(ctx context.Context, organizationID, userID, jobID string) (*models.SyncJob, error) {
	original, err := m.store.GetSyncJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if original.OrganizationID != organizationID {
		return nil, apperrors.NewResourceNotFoundError("sync job", jobID)
	}
	if !original.Status.IsTerminal() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("job %s is still %s", jobID, original.Status), nil)
	}

	cfg := original.Config
	cfg.EntityTypes = append([]string(nil), original.Config.EntityTypes...)
	cfg.JobType = models.JobTypeRetry
	cfg.RetryPolicy = models.RetryPolicy{MaxAttempts: 1}
	cfg.ParentJobID = original.ID
	cfg.ScheduleID = ""
	cfg.OrganizationID = organizationID
	if userID != "" {
		cfg.CreatedBy = userID
	}

	return m.engine.CreateSyncJob(ctx, cfg)
}

// ManualSyncRequest is the input of TriggerManualSync
type ManualSyncRequest struct {
	IntegrationID    string
	OrganizationID   string
	UserID           string
	EntityTypes      []string
	SyncMode         models.SyncMode
	BatchSize        int
	Priority         models.Priority
	ConflictStrategy models.ConflictStrategy
}

func (m *Manager) isActive(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[jobID]
	return ok
}

// ActiveJobCount returns the number of jobs this manager is processing
func (m *Manager) ActiveJobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ActiveJobIDs returns the IDs of jobs this manager is processing
func (m *Manager) ActiveJobIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns a snapshot of the manager's counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.WorkerID = m.config.WorkerID
	stats.Running = m.running
	stats.ActiveJobs = len(m.active)
	stats.MaxConcurrentJobs = m.config.MaxConcurrentJobs
	return stats
}
