package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/commerce-sync/internal/engine"
	apperrors "github.com/Kamar-Folarin/commerce-sync/internal/errors"
	"github.com/Kamar-Folarin/commerce-sync/internal/manager"
	"github.com/Kamar-Folarin/commerce-sync/internal/models"
)

const (
	headerOrganizationID = "X-Organization-ID"
	headerUserID         = "X-User-ID"

	ctxOrganizationID = "organization_id"
	ctxUserID         = "user_id"
)

// EngineService is the read and control surface of the sync engine
type EngineService interface {
	GetJob(ctx context.Context, organizationID, jobID string) (*models.SyncJob, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.SyncJob, error)
	CancelJob(ctx context.Context, jobID string) error
	ListConflicts(ctx context.Context, organizationID, jobID string) ([]*models.SyncConflict, error)
	ResolveConflict(ctx context.Context, organizationID, userID, conflictID string, value interface{}) (*models.SyncConflict, error)
	GetHealthStatus(ctx context.Context) *engine.HealthStatus
}

// ManagerService creates jobs on behalf of callers
type ManagerService interface {
	TriggerManualSync(ctx context.Context, req manager.ManualSyncRequest) (*models.SyncJob, error)
	RetryJob(ctx context.Context, organizationID, userID, jobID string) (*models.SyncJob, error)
	Stats() manager.Stats
}

// Handler handles HTTP requests
type Handler struct {
	engine  EngineService
	manager ManagerService
	logger  *logrus.Logger
}

// NewHandler creates a new API handler
func NewHandler(engine EngineService, manager ManagerService, logger *logrus.Logger) *Handler {
	return &Handler{
		engine:  engine,
		manager: manager,
		logger:  logger,
	}
}

// requireIdentity reads the caller identity set by the upstream gateway
func requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.GetHeader(headerOrganizationID)
		if orgID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "missing " + headerOrganizationID + " header"})
			return
		}
		c.Set(ctxOrganizationID, orgID)
		c.Set(ctxUserID, c.GetHeader(headerUserID))
		c.Next()
	}
}

// TriggerSync godoc
// @Summary Trigger a manual sync
// @Description Queue a sync job for an integration
// @Tags sync
// @Accept json
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param X-User-ID header string false "User ID"
// @Param id path string true "Integration ID"
// @Param request body TriggerSyncRequest true "Sync request"
// @Success 202 {object} JobCreatedResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /integrations/{id}/sync [post]
func (h *Handler) TriggerSync(c *gin.Context) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	job, err := h.manager.TriggerManualSync(c.Request.Context(), manager.ManualSyncRequest{
		IntegrationID:    c.Param("id"),
		OrganizationID:   c.GetString(ctxOrganizationID),
		UserID:           c.GetString(ctxUserID),
		EntityTypes:      req.EntityTypes,
		SyncMode:         models.SyncMode(req.SyncMode),
		BatchSize:        req.BatchSize,
		Priority:         models.Priority(req.Priority),
		ConflictStrategy: models.ConflictStrategy(req.ConflictStrategy),
	})
	if err != nil {
		h.handleError(c, err, "Failed to trigger sync")
		return
	}

	c.JSON(http.StatusAccepted, JobCreatedResponse{JobID: job.ID, Status: string(job.Status)})
}

// ListJobs godoc
// @Summary List sync jobs
// @Tags jobs
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param status query string false "Job status"
// @Param integration_id query string false "Integration ID"
// @Param limit query int false "Maximum number of jobs" default(50)
// @Success 200 {object} JobListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs [get]
func (h *Handler) ListJobs(c *gin.Context) {
	limit, err := getIntQuery(c, "limit", 50)
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit parameter"})
		return
	}

	jobs, err := h.engine.ListJobs(c.Request.Context(), models.JobFilter{
		OrganizationID: c.GetString(ctxOrganizationID),
		IntegrationID:  c.Query("integration_id"),
		Status:         models.JobStatus(c.Query("status")),
		Limit:          limit,
	})
	if err != nil {
		h.handleError(c, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.SyncJob{}
	}

	c.JSON(http.StatusOK, JobListResponse{Jobs: jobs, Total: len(jobs)})
}

// GetJob godoc
// @Summary Get a sync job
// @Tags jobs
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param id path string true "Job ID"
// @Success 200 {object} models.SyncJob
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.engine.GetJob(c.Request.Context(), c.GetString(ctxOrganizationID), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "Failed to get job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// RetryJob godoc
// @Summary Retry a finished job
// @Description Create a single-attempt job from a finished job's configuration
// @Tags jobs
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param X-User-ID header string false "User ID"
// @Param id path string true "Job ID"
// @Success 202 {object} JobCreatedResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id}/retry [post]
func (h *Handler) RetryJob(c *gin.Context) {
	job, err := h.manager.RetryJob(c.Request.Context(),
		c.GetString(ctxOrganizationID), c.GetString(ctxUserID), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "Failed to retry job")
		return
	}
	c.JSON(http.StatusAccepted, JobCreatedResponse{JobID: job.ID, Status: string(job.Status)})
}

// CancelJob godoc
// @Summary Cancel a job
// @Tags jobs
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param id path string true "Job ID"
// @Success 200 {object} StatusResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	if _, err := h.engine.GetJob(ctx, c.GetString(ctxOrganizationID), jobID); err != nil {
		h.handleError(c, err, "Failed to cancel job")
		return
	}
	if err := h.engine.CancelJob(ctx, jobID); err != nil {
		h.handleError(c, err, "Failed to cancel job")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"user_id": c.GetString(ctxUserID),
	}).Info("Job cancelled via API")
	c.JSON(http.StatusOK, StatusResponse{Status: string(models.JobStatusCancelled)})
}

// ListConflicts godoc
// @Summary List conflicts detected by a job
// @Tags conflicts
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param id path string true "Job ID"
// @Success 200 {array} models.SyncConflict
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /jobs/{id}/conflicts [get]
func (h *Handler) ListConflicts(c *gin.Context) {
	conflicts, err := h.engine.ListConflicts(c.Request.Context(), c.GetString(ctxOrganizationID), c.Param("id"))
	if err != nil {
		h.handleError(c, err, "Failed to list conflicts")
		return
	}
	if conflicts == nil {
		conflicts = []*models.SyncConflict{}
	}
	c.JSON(http.StatusOK, conflicts)
}

// ResolveConflict godoc
// @Summary Resolve a conflict manually
// @Tags conflicts
// @Accept json
// @Produce json
// @Param X-Organization-ID header string true "Organization ID"
// @Param X-User-ID header string false "User ID"
// @Param id path string true "Conflict ID"
// @Param request body ResolveConflictRequest true "Resolution"
// @Success 200 {object} models.SyncConflict
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /conflicts/{id}/resolve [post]
func (h *Handler) ResolveConflict(c *gin.Context) {
	var req ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}

	resolved, err := h.engine.ResolveConflict(c.Request.Context(),
		c.GetString(ctxOrganizationID), c.GetString(ctxUserID), c.Param("id"), req.ResolvedValue)
	if err != nil {
		h.handleError(c, err, "Failed to resolve conflict")
		return
	}
	c.JSON(http.StatusOK, resolved)
}

// Health godoc
// @Summary Service health
// @Description Engine health and job manager counters
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	health := h.engine.GetHealthStatus(c.Request.Context())

	code := http.StatusOK
	if health.Status == engine.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{Engine: health, Manager: h.manager.Stats()})
}

// handleError maps domain errors onto HTTP status codes
func (h *Handler) handleError(c *gin.Context, err error, message string) {
	switch {
	case apperrors.IsAuthorization(err):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case apperrors.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case apperrors.IsConcurrencyLimit(err):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: err.Error()})
	default:
		h.logger.WithError(err).WithField("path", c.FullPath()).Error(message)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: message})
	}
}

func getIntQuery(c *gin.Context, name string, defaultValue int) (int, error) {
	value := c.Query(name)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}
