package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	jobs "github.com/jdziat/resilient-jobs"
	"github.com/jdziat/resilient-jobs/pkg/breaker"
	"github.com/jdziat/resilient-jobs/pkg/config"
	"github.com/jdziat/resilient-jobs/pkg/worker"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "jobsd",
		Short: "Durable job processing with retries and circuit breakers",
		Long: `
Durable job processing with retries and circuit breakers

Configurable Options:

Options are read from environment variables. You only need to define the
values for which you wish to override the default.

  JOBS_DB_DRIVER          (string)   sqlite | postgres
  JOBS_DB_DSN             (string)
  JOBS_REDIS_ADDR         (string)   use a Redis dispatcher lock
  JOBS_REDIS_PASSWORD     (string)
  JOBS_HTTP_ADDR          (string)
  JOBS_MAX_CONCURRENT     (int)      jobs claimed per tick
  JOBS_WORKERS            (int)      claimed jobs run in parallel
  JOBS_TICK_INTERVAL      (duration)
  JOBS_SWEEP_INTERVAL     (duration)
  JOBS_LOCK_TTL           (duration)
  JOBS_JOB_TIMEOUT        (duration)
  JOBS_RETENTION          (duration)
  JOBS_BREAKER_THRESHOLD  (int)
  JOBS_BREAKER_TIMEOUT    (duration)
  JOBS_STATUS_CACHE_TTL   (duration)
  JOBS_LOG_LEVEL          (string)   debug | info | warn | error
  JOBS_LOG_FORMAT         (string)   text | json
`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		createServeCmd(),
		createTickCmd(),
		createEnqueueCmd(),
		createStatusCmd(),
		createCancelCmd(),
		createStatsCmd(),
		createPurgeCmd(),
	)
	return rootCmd
}

// node is a processor built from the environment.
type node struct {
	cfg      config.Config
	db       *gorm.DB
	proc     *jobs.Processor
	registry *prometheus.Registry
}

// close stops the processor and releases the database connections.
func (n *node) close(ctx context.Context) error {
	var result *multierror.Error
	if err := n.proc.Stop(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if sqlDB, err := n.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close database: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// openNode loads configuration and builds a processor with the built-in
// handlers registered.
func openNode(cmd *cobra.Command) (*node, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	db, err := cfg.OpenDB()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []jobs.ProcessorOption{
		jobs.WithLogger(logger),
		jobs.WithMetrics(reg),
		jobs.WithStatusTTL(cfg.StatusCacheTTL),
		jobs.WithBreakerDefaults(breaker.Config{
			FailureThreshold: cfg.BreakerThreshold,
			Timeout:          cfg.BreakerTimeout,
		}),
		jobs.WithWorkerOptions(
			jobs.MaxConcurrentJobs(cfg.MaxConcurrent),
			jobs.Concurrency(cfg.Workers),
			jobs.LockTTL(cfg.LockTTL),
			jobs.JobTimeout(cfg.JobTimeout),
			jobs.Retention(cfg.Retention),
		),
		jobs.WithSchedulerOptions(
			worker.TickInterval(cfg.TickInterval),
			worker.SweepInterval(cfg.SweepInterval),
		),
	}
	if client := cfg.RedisClient(); client != nil {
		opts = append(opts, jobs.WithRedisLock(client))
	}

	proc, err := jobs.New(db, opts...)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	registerBuiltins(proc)

	return &node{cfg: cfg, db: db, proc: proc, registry: reg}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
