// Package worker runs claimed jobs: the Executor runs one job, the Dispatcher
// runs one lock-guarded tick, and the Scheduler triggers ticks on an interval.
package worker

import (
	"log/slog"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/jdziat/resilient-jobs/pkg/breaker"
	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/metrics"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/security"
)

// Defaults for the dispatcher and executor.
const (
	DefaultJobTimeout        = 300 * time.Second
	DefaultLockTTL           = 300 * time.Second
	DefaultMaxConcurrentJobs = 3
	DefaultWorkers           = 1
	DefaultRetention         = 7 * 24 * time.Hour
)

// Lock names shared by every node.
const (
	LockDispatcher = "dispatcher"
	LockRetention  = "retention"
)

// WorkerConfig holds executor and dispatcher configuration.
type WorkerConfig struct {
	WorkerID          string
	JobTimeout        time.Duration
	LockTTL           time.Duration
	MaxConcurrentJobs int
	Workers           int
	Retention         time.Duration
	StorageRetry      retry.Config

	Clock    clock.Clock
	Logger   *slog.Logger
	Breakers *breaker.Registry
	Notifier core.Notifier
	Metrics  *metrics.Metrics
}

func defaultConfig() WorkerConfig {
	return WorkerConfig{
		JobTimeout:        DefaultJobTimeout,
		LockTTL:           DefaultLockTTL,
		MaxConcurrentJobs: DefaultMaxConcurrentJobs,
		Workers:           DefaultWorkers,
		Retention:         DefaultRetention,
		StorageRetry:      retry.DefaultConfig(),
		Clock:             clock.C,
		Logger:            slog.Default(),
	}
}

// WorkerOption configures an Executor or Dispatcher.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WithWorkerID names this node in claim tokens and logs.
func WithWorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// JobTimeout sets the default soft timeout for handlers.
func JobTimeout(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.JobTimeout = d
		}
	})
}

// LockTTL sets how long the dispatcher lock lives without a heartbeat.
func LockTTL(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.LockTTL = d
		}
	})
}

// MaxConcurrentJobs sets how many jobs one tick claims.
// Values are clamped to [1, MaxConcurrency].
func MaxConcurrentJobs(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.MaxConcurrentJobs = security.ClampConcurrency(n)
	})
}

// Concurrency sets how many claimed jobs run at once within a tick.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Workers = security.ClampConcurrency(n)
	})
}

// Retention sets how long terminal jobs are kept before Sweep removes them.
func Retention(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.Retention = d
		}
	})
}

// WithStorageRetry sets the retry used for job status writes.
func WithStorageRetry(cfg retry.Config) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = cfg
	})
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(clk clock.Clock) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Clock = clk
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if l != nil {
			c.Logger = l
		}
	})
}

// WithBreakers runs handlers registered with a service id through reg.
func WithBreakers(reg *breaker.Registry) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Breakers = reg
	})
}

// WithNotifier is told about permanent failures and circuits opening.
func WithNotifier(n core.Notifier) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Notifier = n
	})
}

// WithMetrics records outcomes and ticks.
func WithMetrics(m *metrics.Metrics) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Metrics = m
	})
}
