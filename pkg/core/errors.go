package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrInvalidJobTypeName = errors.New("jobs: invalid job type name (must be alphanumeric, start with letter)")
	ErrJobTypeNameTooLong = errors.New("jobs: job type name too long")
	ErrJobPayloadTooLarge = errors.New("jobs: job payload exceeds size limit")
	ErrInvalidProgress    = errors.New("jobs: progress must be between 0 and 100")
	ErrInvalidLockName    = errors.New("jobs: lock name must not be empty")
)

// Processing errors
var (
	// ErrNotFound is returned when operating on an unknown job or lock.
	ErrNotFound = errors.New("jobs: not found")

	// ErrNotRunning is returned for progress reported by a job that is no
	// longer processing, e.g. one cancelled or timed out under its handler.
	ErrNotRunning = errors.New("jobs: job is not running")

	// ErrInvalidLockTTL is returned when a lock is requested without a
	// positive lifetime.
	ErrInvalidLockTTL = errors.New("jobs: lock ttl must be positive")

	// ErrHandlerMissing is permanent: a job whose type has no registered
	// handler is failed without retry.
	ErrHandlerMissing = errors.New("jobs: no handler registered")

	// ErrTimeoutExceeded is reported when a handler outlives its soft timeout.
	ErrTimeoutExceeded = errors.New("jobs: timed out")

	// ErrDuplicateHandler is raised when a job type is registered twice.
	ErrDuplicateHandler = errors.New("jobs: handler already registered")
)

// StorageError wraps a failure of the underlying store. It aborts the current
// dispatcher tick; the next tick retries naturally.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("jobs: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapStorage wraps err as a StorageError unless it is nil or already a
// sentinel the caller should see unchanged.
func WrapStorage(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotRunning) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err came from the store.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// HandlerError is a failure returned by (or on behalf of) a job handler.
type HandlerError struct {
	JobID   string
	Type    string
	Attempt int
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("job %s (%s) attempt %d: %v", e.JobID, e.Type, e.Attempt, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// CircuitOpenError is returned when a call is short-circuited by an open
// breaker. The dependency was not invoked.
type CircuitOpenError struct {
	ServiceID string
	RetryAt   time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("jobs: circuit open for %s", e.ServiceID)
	}
	return fmt.Sprintf("jobs: circuit open for %s until %s", e.ServiceID, e.RetryAt.UTC().Format(time.RFC3339))
}

// IsCircuitOpen reports whether err is, or wraps, a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// NoRetryError indicates an error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates an error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
