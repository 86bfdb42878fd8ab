package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrNotFound         ErrorType = "NOT_FOUND"
	ErrInvalidInput     ErrorType = "INVALID_INPUT"
	ErrInternal         ErrorType = "INTERNAL"
	ErrUnauthorized     ErrorType = "UNAUTHORIZED"
	ErrConcurrencyLimit ErrorType = "CONCURRENCY_LIMIT"
	ErrStore            ErrorType = "STORE"
)

// Sync error codes persisted with failed jobs.
const (
	CodeJobCancelled    = "JOB_CANCELLED"
	CodeJobTimeout      = "JOB_TIMEOUT"
	CodeSyncFailed      = "SYNC_FAILED"
	CodeEntitySync      = "ENTITY_SYNC_FAILED"
	CodeRetryExhausted  = "RETRY_EXHAUSTED"
	CodeConnectorFailed = "CONNECTOR_FAILED"
)

// AppError represents an application error
type AppError struct {
	Type      ErrorType
	Message   string
	Cause     error
	Timestamp time.Time
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:      errType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return true
	}
	return isType(err, ErrNotFound)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return isType(err, ErrInvalidInput)
}

// IsAuthorization checks if the error is an authorization error
func IsAuthorization(err error) bool {
	var authErr *AuthorizationError
	return stderrors.As(err, &authErr) || isType(err, ErrUnauthorized)
}

// IsConcurrencyLimit checks if the error is a concurrency limit error
func IsConcurrencyLimit(err error) bool {
	var limitErr *ConcurrencyLimitError
	return stderrors.As(err, &limitErr)
}

// IsStore checks if the error came from the job store
func IsStore(err error) bool {
	var storeErr *StoreError
	return stderrors.As(err, &storeErr) || isType(err, ErrStore)
}

// NewValidationError creates a new validation error
func NewValidationError(message string, err error) *AppError {
	return New(ErrInvalidInput, message, err)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return New(ErrInternal, message, err)
}

// AuthorizationError is returned when an integration does not belong to the
// caller's organization. The job is never created.
type AuthorizationError struct {
	IntegrationID  string
	OrganizationID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("integration %s does not belong to organization %s", e.IntegrationID, e.OrganizationID)
}

// NewAuthorizationError creates a new AuthorizationError
func NewAuthorizationError(integrationID, organizationID string) error {
	return &AuthorizationError{
		IntegrationID:  integrationID,
		OrganizationID: organizationID,
	}
}

// ConcurrencyLimitError is transient; callers may retry later.
type ConcurrencyLimitError struct {
	Active int
	Limit  int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit reached: %d/%d jobs active", e.Active, e.Limit)
}

// NewConcurrencyLimitError creates a new ConcurrencyLimitError
func NewConcurrencyLimitError(active, limit int) error {
	return &ConcurrencyLimitError{Active: active, Limit: limit}
}

// EntitySyncError records the failure of one entity type inside a job. It is
// collected into the job result and never aborts the job.
type EntitySyncError struct {
	EntityType string    `json:"entity_type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *EntitySyncError) Error() string {
	return fmt.Sprintf("sync of %s failed: %s", e.EntityType, e.Message)
}

// NewEntitySyncError creates a new EntitySyncError from the cause
func NewEntitySyncError(entityType string, cause error) *EntitySyncError {
	return &EntitySyncError{
		EntityType: entityType,
		Code:       CodeEntitySync,
		Message:    cause.Error(),
		Timestamp:  time.Now(),
	}
}

// SyncError is a job-level terminal failure.
type SyncError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Retryable bool      `json:"retryable"`
	Terminal  bool      `json:"terminal,omitempty"`
	Cause     error     `json:"-"`
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewSyncError creates a new SyncError
func NewSyncError(code, message string, retryable bool, cause error) *SyncError {
	return &SyncError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryable,
		Cause:     cause,
	}
}

// AsSyncError extracts a SyncError from the chain
func AsSyncError(err error) (*SyncError, bool) {
	var syncErr *SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr, true
	}
	return nil, false
}

// StoreError wraps a failed job store operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store operation %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// NotFoundError represents a not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewResourceNotFoundError creates a new NotFoundError for a specific resource
func NewResourceNotFoundError(resource, id string) error {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}
