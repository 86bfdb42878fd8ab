package engine

import (
	"context"

	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

// GetJob returns a job owned by the organization
func (e *Engine) GetJob(ctx context.Context, organizationID, jobID string) (*models.SyncJob, error) {
	job, err := e.store.GetSyncJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.OrganizationID != organizationID {
		return nil, apperrors.NewResourceNotFoundError("sync job", jobID)
	}
	return job, nil
}

// ListJobs lists the organization's jobs
func (e *Engine) ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error) {
	if filter.OrganizationID == "" {
		return nil, apperrors.NewValidationError("organization_id is required", nil)
	}
	return e.store.ListSyncJobs(ctx, filter)
}

// ListConflicts returns the conflicts detected by one of the organization's jobs
func (e *Engine) ListConflicts(ctx context.Context, organizationID, jobID string) ([]*models.SyncConflict, error) {
	if _, err := e.GetJob(ctx, organizationID, jobID); err != nil {
		return nil, err
	}
	return e.store.ListConflicts(ctx, jobID)
}

// ResolveConflict records a manual decision for an unresolved conflict
func (e *Engine) ResolveConflict(ctx context.Context, organizationID, userID, conflictID string, value interface{}) (*models.SyncConflict, error) {
	c, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if _, err := e.GetJob(ctx, organizationID, c.JobID); err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewResourceNotFoundError("conflict", conflictID)
		}
		return nil, err
	}

	resolution := &models.ConflictResolution{
		Strategy:      models.StrategyManual,
		ResolvedValue: value,
		ResolvedAt:    e.now(),
		ResolvedBy:    userID,
	}
	if err := e.store.ResolveConflict(ctx, conflictID, resolution); err != nil {
		return nil, err
	}

	e.logger.WithField("conflict_id", conflictID).WithField("resolved_by", userID).Info("Conflict resolved manually")

	c.Resolution = resolution
	return c, nil
}
