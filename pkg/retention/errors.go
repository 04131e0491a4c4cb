package retention

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies a typed, caller-visible outcome.
type Code string

const (
	CodeAlreadyLocked               Code = "AlreadyLocked"
	CodeLockIsImmutable             Code = "LockIsImmutable"
	CodeRetentionTypeChangeRejected Code = "RetentionTypeChangeRejected"
	CodeRetentionDecreaseRejected   Code = "RetentionDecreaseRejected"
	CodeRetentionWindowActive       Code = "RetentionWindowActive"
	CodeInvalidRetentionRule        Code = "InvalidRetentionRule"
	CodeAlreadyExists               Code = "AlreadyExists"
	CodeInvalidRequest              Code = "InvalidRequest"
	CodeVersionConflict             Code = "VersionConflict"
	CodeBusy                        Code = "Busy"
	CodeNotFound                    Code = "NotFound"
)

// Transient reports whether an operation rejected with c may succeed when
// retried against fresh state.
func (c Code) Transient() bool {
	return c == CodeVersionConflict || c == CodeBusy
}

// Sentinel rejections for errors.Is. Only the code is compared.
var (
	ErrAlreadyLocked               = &Rejection{Code: CodeAlreadyLocked}
	ErrLockIsImmutable             = &Rejection{Code: CodeLockIsImmutable}
	ErrRetentionTypeChangeRejected = &Rejection{Code: CodeRetentionTypeChangeRejected}
	ErrRetentionDecreaseRejected   = &Rejection{Code: CodeRetentionDecreaseRejected}
	ErrRetentionWindowActive       = &Rejection{Code: CodeRetentionWindowActive}
	ErrInvalidRetentionRule        = &Rejection{Code: CodeInvalidRetentionRule}
	ErrAlreadyExists               = &Rejection{Code: CodeAlreadyExists}
	ErrInvalidRequest              = &Rejection{Code: CodeInvalidRequest}
	ErrVersionConflict             = &Rejection{Code: CodeVersionConflict}
	ErrBusy                        = &Rejection{Code: CodeBusy}
	ErrNotFound                    = &Rejection{Code: CodeNotFound}
)

// ActiveJob is a job that still blocks a deletion.
type ActiveJob struct {
	CopyID string `json:"copy_id,omitempty"`
	JobID  string `json:"job_id"`

	// ExpiresAt is set for day-based rules.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// CyclesNewer is the number of full cycles newer than the job's cycle,
	// set for job-based rules.
	CyclesNewer *int `json:"cycles_newer,omitempty"`

	// ExtendedUntil is set when an extended retention rule keeps the job
	// past its base window.
	ExtendedUntil *time.Time `json:"extended_until,omitempty"`
}

// Details carries the state a rejection was decided against.
type Details struct {
	CopyID          string         `json:"copy_id,omitempty"`
	Rule            *RetentionRule `json:"rule,omitempty"`
	Floor           *RetentionRule `json:"floor,omitempty"`
	Requested       *RetentionRule `json:"requested,omitempty"`
	CurrentVersion  uint64         `json:"current_version,omitempty"`
	ExpectedVersion uint64         `json:"expected_version,omitempty"`
	ActiveJobs      []ActiveJob    `json:"active_jobs,omitempty"`

	// LockSource is set on rejections decided by a compliance lock.
	LockSource LockSource `json:"lock_source,omitempty"`

	// ExtendedRules and RequestedExtended are set when an extended
	// retention change is refused.
	ExtendedRules     []ExtendedRule `json:"extended_rules,omitempty"`
	RequestedExtended []ExtendedRule `json:"requested_extended,omitempty"`
}

// Rejection is a typed refusal of an operation. Rejections are never
// infrastructure failures; nothing is changed when one is returned.
type Rejection struct {
	Code    Code
	Message string
	Details Details
}

// Reject creates a rejection with a message.
func Reject(code Code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// Error implements the error interface.
func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Is matches any rejection with the same code.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	if !ok {
		return false
	}
	return t.Code == r.Code
}

// WithDetails returns r with d attached.
func (r *Rejection) WithDetails(d Details) *Rejection {
	r.Details = d
	return r
}

// AsRejection extracts a rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// NotFound returns a NotFound rejection for a copy.
func NotFound(copyID string) *Rejection {
	return Reject(CodeNotFound, fmt.Sprintf("copy %q not found", copyID)).
		WithDetails(Details{CopyID: copyID})
}

// StorageError represents an error from a persistence backend.
type StorageError struct {
	Backend   string // Storage backend type ("sqlite", "memory")
	Operation string // Operation that failed ("get", "cas", "append", etc.)
	Cause     error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error [backend=%s, operation=%s]: %v", e.Backend, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a new StorageError.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{
		Backend:   backend,
		Operation: operation,
		Cause:     cause,
	}
}

// AuditError is returned when an audit record could not be appended.
// The operation it describes has not been applied.
type AuditError struct {
	CopyID    string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *AuditError) Error() string {
	return fmt.Sprintf("audit error [copy_id=%s, operation=%s]: %v", e.CopyID, e.Operation, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *AuditError) Unwrap() error {
	return e.Cause
}

// NewAuditError creates a new AuditError.
func NewAuditError(copyID, operation string, cause error) *AuditError {
	return &AuditError{CopyID: copyID, Operation: operation, Cause: cause}
}

// CollaboratorError wraps failures of external systems (job catalog,
// physical deletion).
type CollaboratorError struct {
	Collaborator string // "job_source", "deleter"
	CopyID       string
	Cause        error
}

// Error implements the error interface.
func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s error [copy_id=%s]: %v", e.Collaborator, e.CopyID, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *CollaboratorError) Unwrap() error {
	return e.Cause
}

// NewCollaboratorError creates a new CollaboratorError.
func NewCollaboratorError(collaborator, copyID string, cause error) *CollaboratorError {
	return &CollaboratorError{Collaborator: collaborator, CopyID: copyID, Cause: cause}
}
