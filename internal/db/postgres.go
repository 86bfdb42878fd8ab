package db

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened connection pool
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetIntegration retrieves an integration by ID
func (s *PostgresStore) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	var (
		integration           models.Integration
		credentials, settings []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, platform, name, base_url, credentials, settings, active, created_at, updated_at
		FROM integrations WHERE id = $1`, id).Scan(
		&integration.ID,
		&integration.OrganizationID,
		&integration.Platform,
		&integration.Name,
		&integration.BaseURL,
		&credentials,
		&settings,
		&integration.Active,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewResourceNotFoundError("integration", id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	if err := json.Unmarshal(credentials, &integration.Credentials); err != nil {
		return nil, fmt.Errorf("failed to unmarshal integration credentials: %w", err)
	}
	if err := json.Unmarshal(settings, &integration.Settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal integration settings: %w", err)
	}

	return &integration, nil
}

// SaveIntegration inserts or updates an integration
func (s *PostgresStore) SaveIntegration(ctx context.Context, integration *models.Integration) error {
	credentials, err := marshalJSON(integration.Credentials, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal integration credentials: %w", err)
	}
	settings, err := marshalJSON(integration.Settings, "{}")
	if err != nil {
		return fmt.Errorf("failed to marshal integration settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, organization_id, platform, name, base_url, credentials, settings, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			platform = EXCLUDED.platform,
			name = EXCLUDED.name,
			base_url = EXCLUDED.base_url,
			credentials = EXCLUDED.credentials,
			settings = EXCLUDED.settings,
			active = EXCLUDED.active,
			updated_at = NOW()`,
		integration.ID,
		integration.OrganizationID,
		integration.Platform,
		integration.Name,
		integration.BaseURL,
		credentials,
		settings,
		integration.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save integration: %w", err)
	}
	return nil
}

// CreateSyncJob persists a new job
func (s *PostgresStore) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal job config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (id, organization_id, integration_id, job_type, config, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OrganizationID, job.IntegrationID, job.JobType, config, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// DeleteSyncJob removes a job and, by cascade, its queue item
func (s *PostgresStore) DeleteSyncJob(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_jobs WHERE id = $1", jobID); err != nil {
		return fmt.Errorf("failed to delete sync job: %w", err)
	}
	return nil
}

const jobColumns = `id, organization_id, integration_id, job_type, config, status, progress, result, error, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	var (
		job                               models.SyncJob
		config, progress, result, errJSON []byte
		startedAt, completedAt            sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.OrganizationID,
		&job.IntegrationID,
		&job.JobType,
		&config,
		&job.Status,
		&progress,
		&result,
		&errJSON,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(config, &job.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job config: %w", err)
	}
	if len(progress) > 0 {
		job.Progress = &models.SyncProgress{}
		if err := json.Unmarshal(progress, job.Progress); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job progress: %w", err)
		}
	}
	if len(result) > 0 {
		job.Result = &models.SyncResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
		}
	}
	if len(errJSON) > 0 {
		job.Error = &apperrors.SyncError{}
		if err := json.Unmarshal(errJSON, job.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job error: %w", err)
		}
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

// GetSyncJob retrieves a job by ID
func (s *PostgresStore) GetSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM sync_jobs WHERE id = $1", jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewResourceNotFoundError("sync job", jobID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}
	return job, nil
}

// ListSyncJobs lists jobs matching the filter, newest first
func (s *PostgresStore) ListSyncJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error) {
	query := "SELECT " + jobColumns + " FROM sync_jobs"
	var (
		conditions []string
		args       []interface{}
	)

	if filter.OrganizationID != "" {
		args = append(args, filter.OrganizationID)
		conditions = append(conditions, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if filter.IntegrationID != "" {
		args = append(args, filter.IntegrationID)
		conditions = append(conditions, fmt.Sprintf("integration_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync jobs: %w", err)
	}

	return jobs, nil
}

// MarkJobStarted moves a job into in_progress
func (s *PostgresStore) MarkJobStarted(ctx context.Context, jobID string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'in_progress', started_at = $2, error = NULL
		WHERE id = $1 AND status NOT IN ('completed', 'completed_with_errors', 'failed', 'cancelled')`,
		jobID, startedAt)
	if err != nil {
		return fmt.Errorf("failed to mark job started: %w", err)
	}
	return nil
}

// RecordJobError stores the latest job-level error without finishing the job
func (s *PostgresStore) RecordJobError(ctx context.Context, jobID string, syncErr *apperrors.SyncError) error {
	errJSON, err := json.Marshal(syncErr)
	if err != nil {
		return fmt.Errorf("failed to marshal job error: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE sync_jobs SET error = $2 WHERE id = $1", jobID, errJSON); err != nil {
		return fmt.Errorf("failed to record job error: %w", err)
	}
	return nil
}

// CancelSyncJob marks a job cancelled and removes its queue item
func (s *PostgresStore) CancelSyncJob(ctx context.Context, jobID string, cancelledAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status NOT IN ('completed', 'completed_with_errors', 'failed', 'cancelled')`,
		jobID, cancelledAt)
	if err != nil {
		return fmt.Errorf("failed to cancel sync job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewValidationError(fmt.Sprintf("job %s is not cancellable", jobID), nil)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE job_id = $1", jobID); err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EnqueueJob inserts the queue item of a job
func (s *PostgresStore) EnqueueJob(ctx context.Context, item *models.QueueItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, job_id, priority, attempts, max_attempts, available_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.ID, item.JobID, item.Priority, item.Attempts, item.MaxAttempts, item.AvailableAt, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

const queueColumns = `id, job_id, priority, attempts, max_attempts, locked_by, locked_at, available_at, created_at`

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item     models.QueueItem
		lockedBy sql.NullString
		lockedAt sql.NullTime
	)
	if err := row.Scan(
		&item.ID,
		&item.JobID,
		&item.Priority,
		&item.Attempts,
		&item.MaxAttempts,
		&lockedBy,
		&lockedAt,
		&item.AvailableAt,
		&item.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lockedBy.Valid {
		item.LockedBy = &lockedBy.String
	}
	if lockedAt.Valid {
		item.LockedAt = &lockedAt.Time
	}
	return &item, nil
}

// GetQueueItem retrieves the queue item of a job
func (s *PostgresStore) GetQueueItem(ctx context.Context, jobID string) (*models.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+queueColumns+" FROM sync_queue WHERE job_id = $1", jobID)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewResourceNotFoundError("queue item", jobID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

// ClaimNextSyncJob locks the highest-priority claimable item in one statement.
// SKIP LOCKED keeps concurrent claimers from blocking on or sharing a row.
func (s *PostgresStore) ClaimNextSyncJob(ctx context.Context, workerID string, lockDuration time.Duration) (string, error) {
	staleSeconds := (2 * lockDuration).Seconds()

	var jobID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE sync_queue SET locked_by = $1, locked_at = NOW()
		WHERE id = (
			SELECT id FROM sync_queue
			WHERE available_at <= NOW()
				AND (locked_by IS NULL OR locked_at < NOW() - ($2 * INTERVAL '1 second'))
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id`, workerID, staleSeconds).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to claim sync job: %w", err)
	}
	return jobID, nil
}

// ReleaseSyncJob clears the lock, counts the attempt and delays the next claim
func (s *PostgresStore) ReleaseSyncJob(ctx context.Context, jobID string, retryDelay time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE sync_queue SET
			locked_by = NULL,
			locked_at = NULL,
			attempts = LEAST(attempts + 1, max_attempts),
			available_at = NOW() + ($2 * INTERVAL '1 second')
		WHERE job_id = $1`, jobID, retryDelay.Seconds())
	if err != nil {
		return fmt.Errorf("failed to release sync job: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewResourceNotFoundError("queue item", jobID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET status = 'pending'
		WHERE id = $1 AND status NOT IN ('completed', 'completed_with_errors', 'failed', 'cancelled')`, jobID); err != nil {
		return fmt.Errorf("failed to reset job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CompleteSyncJob sets the terminal status, result and error and removes the
// queue item. A job already cancelled keeps its cancelled status.
func (s *PostgresStore) CompleteSyncJob(ctx context.Context, jobID string, result *models.SyncResult, syncErr *apperrors.SyncError) error {
	resultJSON, err := marshalJSON(result, "")
	if err != nil {
		return fmt.Errorf("failed to marshal job result: %w", err)
	}
	errJSON, err := marshalJSON(syncErr, "")
	if err != nil {
		return fmt.Errorf("failed to marshal job error: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sync_jobs SET
			status = CASE WHEN status = 'cancelled' THEN status ELSE $2 END,
			result = $3,
			error = $4,
			completed_at = COALESCE(completed_at, NOW())
		WHERE id = $1`,
		jobID, terminalStatus(result, syncErr), resultJSON, errJSON)
	if err != nil {
		return fmt.Errorf("failed to complete sync job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewResourceNotFoundError("sync job", jobID)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sync_queue WHERE job_id = $1", jobID); err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateSyncJobProgress is a best-effort write ignored once the job is not running
func (s *PostgresStore) UpdateSyncJobProgress(ctx context.Context, jobID string, progress *models.SyncProgress) error {
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE sync_jobs SET progress = $2 WHERE id = $1 AND status = 'in_progress'",
		jobID, progressJSON)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

// ListStaleQueueItems returns items locked for longer than staleAfter
func (s *PostgresStore) ListStaleQueueItems(ctx context.Context, staleAfter time.Duration) ([]*models.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE locked_by IS NOT NULL AND locked_at < NOW() - ($1 * INTERVAL '1 second')`,
		staleAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale queue items: %w", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}
	return items, nil
}

// SaveSchedule inserts or updates a schedule
func (s *PostgresStore) SaveSchedule(ctx context.Context, schedule *models.SyncSchedule) error {
	var activeHours interface{}
	if schedule.ActiveHours != nil {
		data, err := json.Marshal(schedule.ActiveHours)
		if err != nil {
			return fmt.Errorf("failed to marshal active hours: %w", err)
		}
		activeHours = data
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_schedules (id, integration_id, organization_id, created_by, frequency, active_hours,
			entity_types, sync_mode, priority, last_run_at, next_run_at, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			frequency = EXCLUDED.frequency,
			active_hours = EXCLUDED.active_hours,
			entity_types = EXCLUDED.entity_types,
			sync_mode = EXCLUDED.sync_mode,
			priority = EXCLUDED.priority,
			last_run_at = EXCLUDED.last_run_at,
			next_run_at = EXCLUDED.next_run_at,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()`,
		schedule.ID,
		schedule.IntegrationID,
		schedule.OrganizationID,
		schedule.CreatedBy,
		schedule.Frequency,
		activeHours,
		pq.Array(schedule.EntityTypes),
		schedule.SyncMode,
		schedule.Priority,
		nullTime(schedule.LastRunAt),
		nullTime(schedule.NextRunAt),
		schedule.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// ListDueSchedules returns enabled schedules that never ran or are due
func (s *PostgresStore) ListDueSchedules(ctx context.Context, now time.Time) ([]*models.SyncSchedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, integration_id, organization_id, created_by, frequency, active_hours, entity_types,
			sync_mode, priority, last_run_at, next_run_at, enabled
		FROM sync_schedules
		WHERE enabled AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at ASC NULLS FIRST`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.SyncSchedule
	for rows.Next() {
		var (
			schedule             models.SyncSchedule
			activeHours          []byte
			lastRunAt, nextRunAt sql.NullTime
		)
		if err := rows.Scan(
			&schedule.ID,
			&schedule.IntegrationID,
			&schedule.OrganizationID,
			&schedule.CreatedBy,
			&schedule.Frequency,
			&activeHours,
			pq.Array(&schedule.EntityTypes),
			&schedule.SyncMode,
			&schedule.Priority,
			&lastRunAt,
			&nextRunAt,
			&schedule.Enabled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		if len(activeHours) > 0 {
			schedule.ActiveHours = &models.ActiveHours{}
			if err := json.Unmarshal(activeHours, schedule.ActiveHours); err != nil {
				return nil, fmt.Errorf("failed to unmarshal active hours: %w", err)
			}
		}
		if lastRunAt.Valid {
			schedule.LastRunAt = &lastRunAt.Time
		}
		if nextRunAt.Valid {
			schedule.NextRunAt = &nextRunAt.Time
		}
		schedules = append(schedules, &schedule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}
	return schedules, nil
}

// UpdateScheduleRun advances a schedule after a job was spawned
func (s *PostgresStore) UpdateScheduleRun(ctx context.Context, scheduleID string, lastRunAt, nextRunAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_schedules SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1`, scheduleID, lastRunAt, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to update schedule run: %w", err)
	}
	return nil
}

// SaveConflicts inserts a batch of conflicts in one transaction
func (s *PostgresStore) SaveConflicts(ctx context.Context, conflicts []*models.SyncConflict) error {
	if len(conflicts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_conflicts (id, job_id, integration_id, entity_type, record_id, field_name,
			source_value, target_value, detected_at, resolution)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)
	if err != nil {
		return fmt.Errorf("failed to prepare conflict statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range conflicts {
		source, err := json.Marshal(c.SourceValue)
		if err != nil {
			return fmt.Errorf("failed to marshal source value: %w", err)
		}
		target, err := json.Marshal(c.TargetValue)
		if err != nil {
			return fmt.Errorf("failed to marshal target value: %w", err)
		}
		resolution, err := marshalJSON(c.Resolution, "")
		if err != nil {
			return fmt.Errorf("failed to marshal resolution: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.JobID, c.IntegrationID, c.EntityType, c.RecordID, c.FieldName,
			source, target, c.DetectedAt, resolution); err != nil {
			return fmt.Errorf("failed to save conflict %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conflict transaction: %w", err)
	}
	return nil
}

const conflictColumns = `id, job_id, integration_id, entity_type, record_id, field_name, source_value, target_value, detected_at, resolution`

func scanConflict(row rowScanner) (*models.SyncConflict, error) {
	var (
		c                          models.SyncConflict
		source, target, resolution []byte
	)
	if err := row.Scan(&c.ID, &c.JobID, &c.IntegrationID, &c.EntityType, &c.RecordID, &c.FieldName,
		&source, &target, &c.DetectedAt, &resolution); err != nil {
		return nil, err
	}
	if len(source) > 0 {
		if err := json.Unmarshal(source, &c.SourceValue); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source value: %w", err)
		}
	}
	if len(target) > 0 {
		if err := json.Unmarshal(target, &c.TargetValue); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target value: %w", err)
		}
	}
	if len(resolution) > 0 {
		c.Resolution = &models.ConflictResolution{}
		if err := json.Unmarshal(resolution, c.Resolution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution: %w", err)
		}
	}
	return &c, nil
}

// GetConflict retrieves a conflict by ID
func (s *PostgresStore) GetConflict(ctx context.Context, id string) (*models.SyncConflict, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+conflictColumns+" FROM sync_conflicts WHERE id = $1", id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewResourceNotFoundError("conflict", id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return c, nil
}

// ListConflicts lists the conflicts detected by a job
func (s *PostgresStore) ListConflicts(ctx context.Context, jobID string) ([]*models.SyncConflict, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conflictColumns+" FROM sync_conflicts WHERE job_id = $1 ORDER BY detected_at ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// ResolveConflict records a resolution once; resolved conflicts are immutable
func (s *PostgresStore) ResolveConflict(ctx context.Context, id string, resolution *models.ConflictResolution) error {
	data, err := json.Marshal(resolution)
	if err != nil {
		return fmt.Errorf("failed to marshal resolution: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE sync_conflicts SET resolution = $2 WHERE id = $1 AND resolution IS NULL", id, data)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetConflict(ctx, id); err != nil {
			return err
		}
		return apperrors.NewValidationError(fmt.Sprintf("conflict %s is already resolved", id), nil)
	}
	return nil
}

// SaveMetrics writes the metrics of a job once
func (s *PostgresStore) SaveMetrics(ctx context.Context, m *models.PerformanceMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_performance_metrics (job_id, api_calls, db_queries, bytes_sent, bytes_received,
			duration_ms, memory_bytes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING`,
		m.JobID, m.APICalls, m.DBQueries, m.BytesSent, m.BytesReceived, m.DurationMs, int64(m.MemoryBytes), m.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}
	return nil
}

// GetMetrics retrieves the metrics of a job
func (s *PostgresStore) GetMetrics(ctx context.Context, jobID string) (*models.PerformanceMetrics, error) {
	var (
		m      models.PerformanceMetrics
		memory int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, api_calls, db_queries, bytes_sent, bytes_received, duration_ms, memory_bytes, recorded_at
		FROM sync_performance_metrics WHERE job_id = $1`, jobID).Scan(
		&m.JobID, &m.APICalls, &m.DBQueries, &m.BytesSent, &m.BytesReceived, &m.DurationMs, &memory, &m.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewResourceNotFoundError("metrics", jobID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}
	m.MemoryBytes = uint64(memory)
	return &m, nil
}

// marshalJSON encodes v, returning nil (SQL NULL) or the fallback literal for
// nil values
func marshalJSON(v interface{}, fallback string) (interface{}, error) {
	if isNil(v) {
		if fallback == "" {
			return nil, nil
		}
		return []byte(fallback), nil
	}
	return json.Marshal(v)
}

func isNil(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case *models.SyncResult:
		return t == nil
	case *apperrors.SyncError:
		return t == nil
	case *models.ConflictResolution:
		return t == nil
	case map[string]string:
		return t == nil
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
