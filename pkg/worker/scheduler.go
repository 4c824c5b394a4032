package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jdziat/resilient-jobs/pkg/queue"
)

// Scheduler defaults.
const (
	DefaultTickInterval  = time.Minute
	DefaultSweepInterval = time.Hour
)

// cronParser accepts standard 5-field expressions and descriptors like "@hourly".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// SchedulerOption configures a Scheduler.
type SchedulerOption interface {
	applyScheduler(*Scheduler)
}

type schedulerOptionFunc func(*Scheduler)

func (f schedulerOptionFunc) applyScheduler(s *Scheduler) { f(s) }

// TickInterval sets how often the dispatcher ticks. Zero disables ticking.
func TickInterval(d time.Duration) SchedulerOption {
	return schedulerOptionFunc(func(s *Scheduler) {
		s.tickInterval = d
	})
}

// SweepInterval sets how often terminal jobs are purged. Zero disables sweeping.
func SweepInterval(d time.Duration) SchedulerOption {
	return schedulerOptionFunc(func(s *Scheduler) {
		s.sweepInterval = d
	})
}

// Scheduler triggers dispatcher ticks and retention sweeps on a cron. A run
// that is still going when its next trigger fires is skipped, not queued.
type Scheduler struct {
	dispatcher    *Dispatcher
	cron          *cron.Cron
	logger        *slog.Logger
	tickInterval  time.Duration
	sweepInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler for d. Call Start to begin triggering.
func NewScheduler(d *Dispatcher, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		dispatcher:    d,
		logger:        d.config.Logger.With("component", "scheduler"),
		tickInterval:  DefaultTickInterval,
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt.applyScheduler(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	logger := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if s.tickInterval > 0 {
		s.cron.Schedule(cron.Every(s.tickInterval), cron.FuncJob(s.runTick))
	}
	if s.sweepInterval > 0 {
		s.cron.Schedule(cron.Every(s.sweepInterval), cron.FuncJob(s.runSweep))
	}
	return s
}

// Every runs fn every interval alongside the dispatcher. Errors are logged.
func (s *Scheduler) Every(interval time.Duration, name string, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("jobs: interval for %q must be positive", name)
	}
	s.cron.Schedule(cron.Every(interval), s.wrap(name, fn))
	return nil
}

// Cron runs fn on a cron expression such as "*/5 * * * *" or "@daily".
func (s *Scheduler) Cron(spec, name string, fn func(ctx context.Context) error) error {
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return fmt.Errorf("jobs: invalid cron expression %q: %w", spec, err)
	}
	s.cron.Schedule(sched, s.wrap(name, fn))
	return nil
}

// Recurring enqueues a jobType job on a cron expression.
func (s *Scheduler) Recurring(spec, jobType string, payload any, opts ...queue.Option) error {
	if !s.dispatcher.queue.HasHandler(jobType) {
		return fmt.Errorf("jobs: no handler registered for %q", jobType)
	}
	return s.Cron(spec, "recurring:"+jobType, func(ctx context.Context) error {
		_, err := s.dispatcher.queue.Enqueue(ctx, jobType, payload, opts...)
		return err
	})
}

func (s *Scheduler) wrap(name string, fn func(ctx context.Context) error) cron.Job {
	return cron.FuncJob(func() {
		if err := fn(s.ctx); err != nil {
			s.logger.Error("scheduled task failed", "task", name, "error", err)
		}
	})
}

// Start begins triggering. It does not block.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("scheduler started", "tick_interval", s.tickInterval, "sweep_interval", s.sweepInterval)
}

// Stop stops triggering and waits for running ticks to finish. If ctx ends
// first, running handlers see their context cancelled and Stop returns
// ctx.Err().
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if !started {
		s.cancel()
		return nil
	}

	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) runTick() {
	if _, err := s.dispatcher.Tick(s.ctx); err != nil {
		s.logger.Error("dispatcher tick failed", "error", err)
	}
}

func (s *Scheduler) runSweep() {
	if _, err := s.dispatcher.Sweep(s.ctx); err != nil {
		s.logger.Error("retention sweep failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
