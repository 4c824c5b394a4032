// Package jobs provides a durable, lock-guarded job processor with retry
// policies, per-service circuit breakers and progress tracking.
//
// This is the main package users should import. It re-exports the public
// types of the pkg/ packages and wires them together in a Processor.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("jobs.db"), &gorm.Config{})
//	p, _ := jobs.New(db)
//
//	// Register handler
//	p.Register("send-email", func(ctx context.Context, email string) error {
//	    jobs.UpdateProgress(ctx, 50, "rendering")
//	    return sendEmail(email)
//	}, jobs.WithPolicy(jobs.ClassNetwork), jobs.WithService("smtp"))
//
//	// Enqueue job
//	id, _ := p.Enqueue(ctx, "send-email", "user@example.com")
//
//	// Run ticks every 10s until shutdown
//	p.Start()
//	defer p.Stop(context.Background())
package jobs

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/resilient-jobs/pkg/breaker"
	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/jobctx"
	"github.com/jdziat/resilient-jobs/pkg/lock"
	"github.com/jdziat/resilient-jobs/pkg/queue"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/security"
	"github.com/jdziat/resilient-jobs/pkg/status"
	"github.com/jdziat/resilient-jobs/pkg/storage"
	"github.com/jdziat/resilient-jobs/pkg/worker"
)

// Type aliases for the pkg/ packages.
type (
	// Job represents a unit of deferred work.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// JobFilter narrows job listings.
	JobFilter = core.JobFilter

	// Storage defines the persistence layer for jobs.
	Storage = core.Storage

	// Event is the interface for all queue events.
	Event = core.Event

	JobStarted          = core.JobStarted
	JobCompleted        = core.JobCompleted
	JobFailed           = core.JobFailed
	JobRetrying         = core.JobRetrying
	JobProgress         = core.JobProgress
	JobCancelled        = core.JobCancelled
	CircuitStateChanged = core.CircuitStateChanged

	// Notifier receives job failure and circuit-open notifications.
	Notifier = core.Notifier

	// Notification is one notifier message.
	Notification = core.Notification

	// NoRetryError indicates an error that should not be retried.
	NoRetryError = core.NoRetryError

	// RetryAfterError indicates an error that should be retried after a delay.
	RetryAfterError = core.RetryAfterError

	// CircuitOpenError is returned for calls short-circuited by a breaker.
	CircuitOpenError = core.CircuitOpenError

	// HandlerError wraps a failed handler attempt.
	HandlerError = core.HandlerError

	// Queue manages handler registration, enqueueing and lifecycle hooks.
	Queue = queue.Queue

	// Option configures a registration or an enqueued job.
	Option = queue.Option

	// RetryClass names a retry policy.
	RetryClass = retry.Class

	// RetryPolicy configures how a failed job is retried.
	RetryPolicy = retry.Policy

	// WorkerOption configures the executor and dispatcher.
	WorkerOption = worker.WorkerOption

	// SchedulerOption configures the scheduler.
	SchedulerOption = worker.SchedulerOption

	// Dispatcher runs lock-guarded ticks.
	Dispatcher = worker.Dispatcher

	// TickReport summarizes one dispatcher tick.
	TickReport = worker.TickReport

	// Outcome is the result of executing one job.
	Outcome = worker.Outcome

	// Locker is a distributed lock.
	Locker = lock.Locker

	// BreakerConfig configures one circuit breaker.
	BreakerConfig = breaker.Config

	// BreakerStatus is a point-in-time view of one breaker.
	BreakerStatus = breaker.Status

	// Tracker serves cached job status.
	Tracker = status.Tracker

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage
)

// Status constants
const (
	StatusQueued     = core.StatusQueued
	StatusProcessing = core.StatusProcessing
	StatusRetrying   = core.StatusRetrying
	StatusCompleted  = core.StatusCompleted
	StatusFailed     = core.StatusFailed
	StatusCancelled  = core.StatusCancelled
)

// Retry classes
const (
	ClassDefault  = retry.ClassDefault
	ClassNetwork  = retry.ClassNetwork
	ClassDatabase = retry.ClassDatabase
)

// Security limits
const (
	MaxJobTypeNameLength  = security.MaxJobTypeNameLength
	MaxPayloadSize        = security.MaxPayloadSize
	MaxAttempts           = security.MaxAttempts
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables
var (
	ErrInvalidJobTypeName = core.ErrInvalidJobTypeName
	ErrJobTypeNameTooLong = core.ErrJobTypeNameTooLong
	ErrJobPayloadTooLarge = core.ErrJobPayloadTooLarge
	ErrInvalidProgress    = core.ErrInvalidProgress
	ErrNotFound           = core.ErrNotFound
	ErrNotRunning         = core.ErrNotRunning
	ErrInvalidLockTTL     = core.ErrInvalidLockTTL
	ErrHandlerMissing     = core.ErrHandlerMissing
	ErrTimeoutExceeded    = core.ErrTimeoutExceeded
)

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...storage.Option) *GormStorage {
	return storage.NewGormStorage(db, opts...)
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return core.NoRetry(err)
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// IsCircuitOpen reports whether err came from an open circuit breaker.
func IsCircuitOpen(err error) bool {
	return core.IsCircuitOpen(err)
}

// DefaultPolicies returns the built-in retry classes.
func DefaultPolicies() retry.Policies {
	return retry.DefaultPolicies()
}

// Job option functions

// Priority sets the job priority (lower runs first).
func Priority(p int) Option {
	return queue.Priority(p)
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return queue.Delay(d)
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return queue.At(t)
}

// WithPolicy selects a retry class for a job type.
func WithPolicy(class RetryClass) Option {
	return queue.WithPolicy(class)
}

// WithCustomPolicy sets an explicit retry policy for a job type.
func WithCustomPolicy(p RetryPolicy) Option {
	return queue.WithCustomPolicy(p)
}

// WithTimeout overrides the soft timeout for a job type.
func WithTimeout(d time.Duration) Option {
	return queue.WithTimeout(d)
}

// WithService routes a job type's handler through the named service's breaker.
func WithService(serviceID string) Option {
	return queue.WithService(serviceID)
}

// Worker option functions

// MaxConcurrentJobs sets how many jobs one tick claims.
func MaxConcurrentJobs(n int) WorkerOption {
	return worker.MaxConcurrentJobs(n)
}

// Concurrency sets how many claimed jobs run in parallel.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// JobTimeout sets the default soft timeout per job.
func JobTimeout(d time.Duration) WorkerOption {
	return worker.JobTimeout(d)
}

// LockTTL sets the dispatcher lock lifetime.
func LockTTL(d time.Duration) WorkerOption {
	return worker.LockTTL(d)
}

// Retention sets how long terminal jobs are kept.
func Retention(d time.Duration) WorkerOption {
	return worker.Retention(d)
}

// TickInterval sets how often the scheduler runs a tick.
func TickInterval(d time.Duration) SchedulerOption {
	return worker.TickInterval(d)
}

// SweepInterval sets how often the scheduler purges old jobs.
func SweepInterval(d time.Duration) SchedulerOption {
	return worker.SweepInterval(d)
}

// Handler context helpers

// JobFromContext returns the current Job from context, or nil if not in a job handler.
func JobFromContext(ctx context.Context) *Job {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	return jobctx.JobIDFromContext(ctx)
}

// UpdateProgress records progress (0-100) and a message for the running job.
func UpdateProgress(ctx context.Context, progress int, message string) error {
	return jobctx.UpdateProgress(ctx, progress, message)
}

// Logger returns a logger annotated with the running job.
func Logger(ctx context.Context) *slog.Logger {
	return jobctx.Logger(ctx)
}
