package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// MemoryStore is a single-process Store. All operations hold one mutex, which
// makes claim, release and complete atomic with respect to each other.
type MemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	integrations map[string]*models.Integration
	jobs         map[string]*models.SyncJob
	queue        map[string]*models.QueueItem // keyed by job ID
	schedules    map[string]*models.SyncSchedule
	conflicts    map[string]*models.SyncConflict
	metrics      map[string]*models.PerformanceMetrics
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source used for locks and availability
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:          time.Now,
		integrations: make(map[string]*models.Integration),
		jobs:         make(map[string]*models.SyncJob),
		queue:        make(map[string]*models.QueueItem),
		schedules:    make(map[string]*models.SyncSchedule),
		conflicts:    make(map[string]*models.SyncConflict),
		metrics:      make(map[string]*models.PerformanceMetrics),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	integration, ok := s.integrations[id]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("integration", id)
	}
	cp := *integration
	return &cp, nil
}

func (s *MemoryStore) SaveIntegration(ctx context.Context, integration *models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *integration
	now := s.now()
	if existing, ok := s.integrations[integration.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.integrations[integration.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("failed to create sync job: duplicate id %s", job.ID)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) DeleteSyncJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID)
	delete(s.queue, jobID)
	delete(s.metrics, jobID)
	for id, c := range s.conflicts {
		if c.JobID == jobID {
			delete(s.conflicts, id)
		}
	}
	return nil
}

func (s *MemoryStore) GetSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("sync job", jobID)
	}
	return cloneJob(job), nil
}

func (s *MemoryStore) ListSyncJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []*models.SyncJob
	for _, job := range s.jobs {
		if filter.OrganizationID != "" && job.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.IntegrationID != "" && job.IntegrationID != filter.IntegrationID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) MarkJobStarted(ctx context.Context, jobID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NewResourceNotFoundError("sync job", jobID)
	}
	if job.Status.IsTerminal() {
		return nil
	}
	job.Status = models.JobStatusInProgress
	job.StartedAt = &startedAt
	job.Error = nil
	return nil
}

func (s *MemoryStore) RecordJobError(ctx context.Context, jobID string, syncErr *apperrors.SyncError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NewResourceNotFoundError("sync job", jobID)
	}
	job.Error = syncErr
	return nil
}

func (s *MemoryStore) CancelSyncJob(ctx context.Context, jobID string, cancelledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NewResourceNotFoundError("sync job", jobID)
	}
	if job.Status.IsTerminal() {
		return apperrors.NewValidationError(fmt.Sprintf("job %s is not cancellable", jobID), nil)
	}
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &cancelledAt
	delete(s.queue, jobID)
	return nil
}

func (s *MemoryStore) EnqueueJob(ctx context.Context, item *models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[item.JobID]; !ok {
		return apperrors.NewResourceNotFoundError("sync job", item.JobID)
	}
	if _, ok := s.queue[item.JobID]; ok {
		return fmt.Errorf("failed to enqueue job: job %s already queued", item.JobID)
	}
	cp := *item
	s.queue[item.JobID] = &cp
	return nil
}

func (s *MemoryStore) GetQueueItem(ctx context.Context, jobID string) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[jobID]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("queue item", jobID)
	}
	cp := *item
	return &cp, nil
}

func (s *MemoryStore) ClaimNextSyncJob(ctx context.Context, workerID string, lockDuration time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var next *models.QueueItem
	for _, item := range s.queue {
		if !item.Claimable(now, lockDuration) {
			continue
		}
		if next == nil ||
			item.Priority > next.Priority ||
			(item.Priority == next.Priority && item.CreatedAt.Before(next.CreatedAt)) {
			next = item
		}
	}
	if next == nil {
		return "", nil
	}

	worker := workerID
	lockedAt := now
	next.LockedBy = &worker
	next.LockedAt = &lockedAt
	return next.JobID, nil
}

func (s *MemoryStore) ReleaseSyncJob(ctx context.Context, jobID string, retryDelay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[jobID]
	if !ok {
		return apperrors.NewResourceNotFoundError("queue item", jobID)
	}
	item.LockedBy = nil
	item.LockedAt = nil
	if item.Attempts < item.MaxAttempts {
		item.Attempts++
	}
	item.AvailableAt = s.now().Add(retryDelay)

	if job, ok := s.jobs[jobID]; ok && !job.Status.IsTerminal() {
		job.Status = models.JobStatusPending
	}
	return nil
}

func (s *MemoryStore) CompleteSyncJob(ctx context.Context, jobID string, result *models.SyncResult, syncErr *apperrors.SyncError) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NewResourceNotFoundError("sync job", jobID)
	}
	if job.Status != models.JobStatusCancelled {
		job.Status = terminalStatus(result, syncErr)
	}
	job.Result = result
	job.Error = syncErr
	if job.CompletedAt == nil {
		now := s.now()
		job.CompletedAt = &now
	}
	delete(s.queue, jobID)
	return nil
}

func (s *MemoryStore) UpdateSyncJobProgress(ctx context.Context, jobID string, progress *models.SyncProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.Status != models.JobStatusInProgress {
		return nil
	}
	cp := *progress
	job.Progress = &cp
	return nil
}

func (s *MemoryStore) ListStaleQueueItems(ctx context.Context, staleAfter time.Duration) ([]*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var items []*models.QueueItem
	for _, item := range s.queue {
		if item.LockedBy != nil && item.LockedAt != nil && now.Sub(*item.LockedAt) > staleAfter {
			cp := *item
			items = append(items, &cp)
		}
	}
	return items, nil
}

func (s *MemoryStore) SaveSchedule(ctx context.Context, schedule *models.SyncSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *schedule
	s.schedules[schedule.ID] = &cp
	return nil
}

func (s *MemoryStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.SyncSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.SyncSchedule
	for _, schedule := range s.schedules {
		if !schedule.Enabled {
			continue
		}
		if schedule.NextRunAt == nil || !schedule.NextRunAt.After(now) {
			cp := *schedule
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ID < due[j].ID
	})
	return due, nil
}

func (s *MemoryStore) UpdateScheduleRun(ctx context.Context, scheduleID string, lastRunAt, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[scheduleID]
	if !ok {
		return apperrors.NewResourceNotFoundError("schedule", scheduleID)
	}
	schedule.LastRunAt = &lastRunAt
	schedule.NextRunAt = &nextRunAt
	return nil
}

func (s *MemoryStore) SaveConflicts(ctx context.Context, conflicts []*models.SyncConflict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range conflicts {
		cp := *c
		s.conflicts[c.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetConflict(ctx context.Context, id string) (*models.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("conflict", id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListConflicts(ctx context.Context, jobID string) ([]*models.SyncConflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var conflicts []*models.SyncConflict
	for _, c := range s.conflicts {
		if c.JobID == jobID {
			cp := *c
			conflicts = append(conflicts, &cp)
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].DetectedAt.Before(conflicts[j].DetectedAt)
	})
	return conflicts, nil
}

func (s *MemoryStore) ResolveConflict(ctx context.Context, id string, resolution *models.ConflictResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conflicts[id]
	if !ok {
		return apperrors.NewResourceNotFoundError("conflict", id)
	}
	if c.Resolved() {
		return apperrors.NewValidationError(fmt.Sprintf("conflict %s is already resolved", id), nil)
	}
	cp := *resolution
	c.Resolution = &cp
	return nil
}

func (s *MemoryStore) SaveMetrics(ctx context.Context, m *models.PerformanceMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metrics[m.JobID]; ok {
		return nil
	}
	cp := *m
	s.metrics[m.JobID] = &cp
	return nil
}

func (s *MemoryStore) GetMetrics(ctx context.Context, jobID string) (*models.PerformanceMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metrics[jobID]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("metrics", jobID)
	}
	cp := *m
	return &cp, nil
}

func cloneJob(job *models.SyncJob) *models.SyncJob {
	cp := *job
	cp.Config.EntityTypes = append([]string(nil), job.Config.EntityTypes...)
	if job.Progress != nil {
		progress := *job.Progress
		cp.Progress = &progress
	}
	if job.Error != nil {
		syncErr := *job.Error
		cp.Error = &syncErr
	}
	return &cp
}
