package core

import (
	"context"
	"time"
)

// JobFilter narrows ListJobs results. Zero values match everything.
type JobFilter struct {
	Status JobStatus
	Type   string
	Limit  int
}

// StaleResult reports what RequeueStale did with claims left behind by a
// dead node. Each lost claim counts as one attempt.
type StaleResult struct {
	Requeued int64
	// Abandoned jobs had no attempts left and were failed.
	Abandoned int64
}

// Storage defines the persistence layer for jobs.
type Storage interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	Enqueue(ctx context.Context, job *Job) error
	ClaimReady(ctx context.Context, limit int, token string) ([]*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, progress int, message string) error
	UpdateProgress(ctx context.Context, jobID string, progress int, message string) error
	MarkRetry(ctx context.Context, jobID string, attempts int, delay time.Duration, errMsg string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, attempts int, errMsg string) error
	Cancel(ctx context.Context, jobID string) (bool, error)

	// Queries
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)
	Stats(ctx context.Context, window time.Duration) (map[JobStatus]int64, error)

	// Maintenance
	PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) (StaleResult, error)
}

// LockStore is the persistence contract behind the store-backed lock.
// Each method is a single atomic statement against the shared store.
type LockStore interface {
	// InsertLock creates the row if no row exists for the key.
	// It reports whether the row was created.
	InsertLock(ctx context.Context, lock *Lock) (bool, error)

	// GetLock returns the current row, or ErrNotFound.
	GetLock(ctx context.Context, key string) (*Lock, error)

	// TakeoverLock replaces owner and expiry only if owner and version still
	// match what the caller read.
	TakeoverLock(ctx context.Context, key, prevOwner string, prevVersion int64, owner string, expiresAt time.Time) (bool, error)

	// ExtendLock moves expiry forward for a live lock held by owner.
	ExtendLock(ctx context.Context, key, owner string, expiresAt time.Time) (bool, error)

	// DeleteLock removes the row only if owner matches.
	DeleteLock(ctx context.Context, key, owner string) (bool, error)

	// IsLocked reports whether a non-expired row exists.
	IsLocked(ctx context.Context, key string) (bool, error)
}
