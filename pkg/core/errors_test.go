package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoRetryError(t *testing.T) {
	originalErr := errors.New("permanent failure")
	wrapped := NoRetry(originalErr)

	var noRetryErr *NoRetryError
	assert.True(t, errors.As(wrapped, &noRetryErr))
	assert.Equal(t, originalErr, noRetryErr.Unwrap())
	assert.Contains(t, noRetryErr.Error(), "no retry")
	assert.Contains(t, noRetryErr.Error(), "permanent failure")
}

func TestRetryAfterError(t *testing.T) {
	originalErr := errors.New("temporary failure")
	delay := 5 * time.Second
	wrapped := RetryAfter(delay, originalErr)

	var retryErr *RetryAfterError
	assert.True(t, errors.As(wrapped, &retryErr))
	assert.Equal(t, originalErr, retryErr.Unwrap())
	assert.Equal(t, delay, retryErr.Delay)
	assert.Contains(t, retryErr.Error(), "retry after")
	assert.Contains(t, retryErr.Error(), "5s")
}

func TestWrapStorage(t *testing.T) {
	assert.NoError(t, WrapStorage("get", nil))
	assert.Same(t, ErrNotFound, WrapStorage("get", ErrNotFound))

	err := WrapStorage("claim", errors.New("disk I/O error"))
	assert.True(t, IsStorageError(err))
	assert.Contains(t, err.Error(), "claim")
	assert.Contains(t, err.Error(), "disk I/O error")

	// Already wrapped errors are not wrapped twice.
	again := WrapStorage("outer", err)
	assert.Same(t, err, again)

	assert.False(t, IsStorageError(errors.New("plain")))
}

func TestHandlerError_Unwrap(t *testing.T) {
	err := &HandlerError{JobID: "j1", Type: "demo", Attempt: 2, Err: ErrTimeoutExceeded}
	assert.ErrorIs(t, err, ErrTimeoutExceeded)
	assert.Contains(t, err.Error(), "j1")
	assert.Contains(t, err.Error(), "attempt 2")
}

func TestCircuitOpenError(t *testing.T) {
	retryAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := fmt.Errorf("call: %w", &CircuitOpenError{ServiceID: "generator", RetryAt: retryAt})

	assert.True(t, IsCircuitOpen(err))
	assert.Contains(t, err.Error(), "generator")
	assert.Contains(t, err.Error(), "2026-01-02T03:04:05Z")
	assert.False(t, IsCircuitOpen(errors.New("boom")))

	bare := &CircuitOpenError{ServiceID: "generator"}
	assert.Equal(t, "jobs: circuit open for generator", bare.Error())
}

func TestErrorVariables(t *testing.T) {
	assert.Contains(t, ErrInvalidJobTypeName.Error(), "invalid job type name")
	assert.Contains(t, ErrNotFound.Error(), "not found")
	assert.Contains(t, ErrHandlerMissing.Error(), "no handler")
	assert.Equal(t, "jobs: timed out", ErrTimeoutExceeded.Error())
}
