package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/jdziat/resilient-jobs/pkg/breaker"
	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/lock"
	"github.com/jdziat/resilient-jobs/pkg/metrics"
	"github.com/jdziat/resilient-jobs/pkg/notify"
	"github.com/jdziat/resilient-jobs/pkg/queue"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/status"
	"github.com/jdziat/resilient-jobs/pkg/storage"
	"github.com/jdziat/resilient-jobs/pkg/worker"
	"github.com/jdziat/resilient-jobs/ui"
)

// ProcessorOption configures New.
type ProcessorOption interface {
	applyProcessor(*processorConfig)
}

type processorOptionFunc func(*processorConfig)

func (f processorOptionFunc) applyProcessor(c *processorConfig) { f(c) }

type processorConfig struct {
	clock           clock.Clock
	logger          *slog.Logger
	redis           redis.UniversalClient
	breakerDefaults breaker.Config
	notifier        core.Notifier
	registerer      prometheus.Registerer
	policies        retry.Policies
	statusTTL       time.Duration
	workerOpts      []worker.WorkerOption
	schedulerOpts   []worker.SchedulerOption
	skipMigrate     bool
}

// WithClock sets the clock shared by storage, queue, lock and workers.
func WithClock(c clock.Clock) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.clock = c
	})
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.logger = l
	})
}

// WithRedisLock guards ticks with a Redis lock instead of the job database.
func WithRedisLock(client redis.UniversalClient) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.redis = client
	})
}

// WithBreakerDefaults sets the breaker configuration for every service.
func WithBreakerDefaults(c BreakerConfig) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.breakerDefaults = c
	})
}

// WithNotifier sets where failure and circuit-open notifications go.
// Delivery is asynchronous. Default: a slog notifier.
func WithNotifier(n Notifier) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.notifier = n
	})
}

// WithMetrics registers prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.registerer = reg
	})
}

// WithPolicies replaces the retry classes.
func WithPolicies(ps retry.Policies) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.policies = ps
	})
}

// WithStatusTTL sets how long status lookups are cached.
func WithStatusTTL(d time.Duration) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.statusTTL = d
	})
}

// WithWorkerOptions passes options to the executor and dispatcher.
func WithWorkerOptions(opts ...WorkerOption) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.workerOpts = append(cfg.workerOpts, opts...)
	})
}

// WithSchedulerOptions passes options to the scheduler.
func WithSchedulerOptions(opts ...SchedulerOption) ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.schedulerOpts = append(cfg.schedulerOpts, opts...)
	})
}

// SkipMigrate leaves schema management to the caller.
func SkipMigrate() ProcessorOption {
	return processorOptionFunc(func(cfg *processorConfig) {
		cfg.skipMigrate = true
	})
}

// Processor wires storage, queue, lock, breakers, dispatcher, scheduler and
// status tracker for one node.
type Processor struct {
	Store      *storage.GormStorage
	Queue      *queue.Queue
	Locker     lock.Locker
	Breakers   *breaker.Registry
	Dispatcher *worker.Dispatcher
	Scheduler  *worker.Scheduler
	Tracker    *status.Tracker
	Metrics    *metrics.Metrics

	notifier *notify.Async
	logger   *slog.Logger
}

// New builds a Processor over db and migrates its tables.
func New(db *gorm.DB, opts ...ProcessorOption) (*Processor, error) {
	cfg := processorConfig{
		clock:           clock.C,
		logger:          slog.Default(),
		breakerDefaults: breaker.DefaultConfig(),
		policies:        retry.DefaultPolicies(),
		statusTTL:       status.DefaultTTL,
	}
	for _, opt := range opts {
		opt.applyProcessor(&cfg)
	}

	store := storage.NewGormStorage(db, storage.WithClock(cfg.clock))
	if !cfg.skipMigrate {
		if err := store.Migrate(context.Background()); err != nil {
			return nil, fmt.Errorf("jobs: migrate: %w", err)
		}
	}

	q := queue.New(store, queue.WithClock(cfg.clock), queue.WithPolicies(cfg.policies))

	var locker lock.Locker
	lockOpts := []lock.Option{lock.WithClock(cfg.clock), lock.WithLogger(cfg.logger)}
	if cfg.redis != nil {
		locker = lock.NewRedisLock(cfg.redis, lockOpts...)
	} else {
		locker = lock.NewStoreLock(store, lockOpts...)
	}

	breakers := breaker.NewRegistry(
		breaker.WithDefaults(cfg.breakerDefaults),
		breaker.WithLogger(cfg.logger),
	)

	var base core.Notifier = notify.NewLog(cfg.logger)
	if cfg.notifier != nil {
		base = cfg.notifier
	}
	async := notify.NewAsync(base, cfg.logger)

	var m *metrics.Metrics
	if cfg.registerer != nil {
		m = metrics.New(cfg.registerer)
	}

	workerOpts := append([]worker.WorkerOption{
		worker.WithClock(cfg.clock),
		worker.WithLogger(cfg.logger),
		worker.WithBreakers(breakers),
		worker.WithNotifier(async),
		worker.WithMetrics(m),
	}, cfg.workerOpts...)
	dispatcher := worker.NewDispatcher(q, locker, workerOpts...)

	tracker := status.NewTracker(store, status.WithTTL(cfg.statusTTL))
	tracker.Attach(q)

	return &Processor{
		Store:      store,
		Queue:      q,
		Locker:     locker,
		Breakers:   breakers,
		Dispatcher: dispatcher,
		Scheduler:  worker.NewScheduler(dispatcher, cfg.schedulerOpts...),
		Tracker:    tracker,
		Metrics:    m,
		notifier:   async,
		logger:     cfg.logger,
	}, nil
}

// Register registers a job handler. See queue.Queue.Register.
func (p *Processor) Register(name string, fn any, opts ...Option) {
	p.Queue.Register(name, fn, opts...)
}

// Enqueue persists a new job and returns its id.
func (p *Processor) Enqueue(ctx context.Context, name string, payload any, opts ...Option) (string, error) {
	return p.Queue.Enqueue(ctx, name, payload, opts...)
}

// Cancel cancels a job that has not been claimed yet.
func (p *Processor) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := p.Queue.Cancel(ctx, jobID)
	if ok {
		p.Tracker.Invalidate(jobID)
	}
	return ok, err
}

// Status returns the job's current state, or ErrNotFound.
func (p *Processor) Status(ctx context.Context, jobID string) (*Job, error) {
	return p.Tracker.Get(ctx, jobID)
}

// Stats counts jobs by status, optionally limited to those updated within window.
func (p *Processor) Stats(ctx context.Context, window time.Duration) (map[JobStatus]int64, error) {
	return p.Tracker.Stats(ctx, window)
}

// Tick runs one dispatcher tick.
func (p *Processor) Tick(ctx context.Context) (TickReport, error) {
	return p.Dispatcher.Tick(ctx)
}

// ConfigureBreaker sets the breaker configuration for one service.
func (p *Processor) ConfigureBreaker(serviceID string, cfg BreakerConfig) {
	p.Breakers.Configure(serviceID, cfg)
}

// Handler returns the admin API for this processor.
func (p *Processor) Handler(opts ...ui.Option) http.Handler {
	base := []ui.Option{
		ui.WithTracker(p.Tracker),
		ui.WithBreakers(p.Breakers),
		ui.WithLogger(p.logger),
	}
	return ui.Handler(p.Queue, append(base, opts...)...)
}

// Start starts the scheduler.
func (p *Processor) Start() {
	p.Scheduler.Start()
}

// Stop stops the scheduler, waiting for a running tick, then waits for
// pending notifications. Errors from each step are combined.
func (p *Processor) Stop(ctx context.Context) error {
	var result *multierror.Error
	if err := p.Scheduler.Stop(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("scheduler: %w", err))
	}

	done := make(chan struct{})
	go func() {
		p.notifier.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		result = multierror.Append(result, fmt.Errorf("notifications: %w", ctx.Err()))
	}
	return result.ErrorOrNil()
}
