package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/resilient-jobs/pkg/lock"
	"github.com/jdziat/resilient-jobs/pkg/queue"
)

// TickReport summarizes one dispatcher tick.
type TickReport struct {
	// Skipped is true when another node held the dispatcher lock.
	Skipped   bool          `json:"skipped"`
	Requeued  int64         `json:"requeued"`
	Abandoned int64         `json:"abandoned"`
	Claimed   int           `json:"claimed"`
	Completed int           `json:"completed"`
	Retrying  int           `json:"retrying"`
	Failed    int           `json:"failed"`
	Deferred  int           `json:"deferred"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
	Outcomes  []Outcome     `json:"-"`
}

func (r *TickReport) add(o Outcome) {
	switch o.Kind {
	case OutcomeCompleted:
		r.Completed++
	case OutcomeRetrying:
		r.Retrying++
	case OutcomeFailed:
		r.Failed++
	case OutcomeDeferred:
		r.Deferred++
	default:
		r.Errors++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Dispatcher claims ready jobs and runs them, one lock-guarded batch per tick.
type Dispatcher struct {
	queue    *queue.Queue
	locker   lock.Locker
	executor *Executor
	config   WorkerConfig
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher for q. The locker keeps ticks on
// different nodes from overlapping.
func NewDispatcher(q *queue.Queue, locker lock.Locker, opts ...WorkerOption) *Dispatcher {
	config := defaultConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	if config.WorkerID == "" {
		config.WorkerID = uuid.New().String()
	}
	if config.Workers > config.MaxConcurrentJobs {
		config.Workers = config.MaxConcurrentJobs
	}

	return &Dispatcher{
		queue:    q,
		locker:   locker,
		executor: newExecutor(q, config),
		config:   config,
		logger:   config.Logger.With("component", "dispatcher", "worker_id", config.WorkerID),
	}
}

// Executor returns the executor the dispatcher runs jobs with.
func (d *Dispatcher) Executor() *Executor {
	return d.executor
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() WorkerConfig {
	return d.config
}

// Tick runs one dispatch cycle. If another node holds the dispatcher lock the
// tick is skipped and no error is returned. Lock and store errors abort the
// tick; failures of individual jobs are reported in the TickReport.
func (d *Dispatcher) Tick(ctx context.Context) (report TickReport, err error) {
	start := d.config.Clock.Now()
	defer func() {
		result := "ran"
		switch {
		case err != nil:
			result = "error"
		case report.Skipped:
			result = "skipped"
		}
		report.Duration = d.config.Clock.Now().Sub(start)
		d.config.Metrics.ObserveTick(result, report.Duration)
	}()

	token := uuid.New().String()
	ok, err := d.locker.Acquire(ctx, LockDispatcher, token, d.config.LockTTL)
	if err != nil {
		return report, fmt.Errorf("jobs: acquire dispatcher lock: %w", err)
	}
	if !ok {
		d.logger.Debug("dispatcher lock held elsewhere, skipping tick")
		report.Skipped = true
		return report, nil
	}
	defer d.release(ctx, LockDispatcher, token)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go d.heartbeat(hbCtx, LockDispatcher, token)

	storage := d.queue.Storage()

	// A processing row older than a handler timeout plus a lock lifetime
	// belongs to a dispatcher that died mid-tick.
	stale, err := storage.RequeueStale(ctx, d.config.JobTimeout+d.config.LockTTL)
	if err != nil {
		return report, err
	}
	report.Requeued = stale.Requeued
	report.Abandoned = stale.Abandoned
	if stale.Requeued > 0 || stale.Abandoned > 0 {
		d.logger.Warn("recovered stale jobs", "requeued", stale.Requeued, "abandoned", stale.Abandoned)
	}

	jobs, err := storage.ClaimReady(ctx, d.config.MaxConcurrentJobs, token)
	if err != nil {
		return report, err
	}
	report.Claimed = len(jobs)

	outcomes := make([]Outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(d.config.Workers)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = d.executor.Execute(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		report.add(o)
	}

	if d.config.Metrics != nil {
		if counts, serr := storage.Stats(ctx, 0); serr == nil {
			d.config.Metrics.SetQueueDepth(counts)
		}
	}

	if report.Claimed > 0 {
		d.logger.Info("tick finished",
			"claimed", report.Claimed, "completed", report.Completed,
			"retrying", report.Retrying, "failed", report.Failed,
			"deferred", report.Deferred, "errors", report.Errors)
	}
	return report, nil
}

// Sweep deletes terminal jobs older than the retention period. Like Tick, it
// runs on one node at a time and reports 0 when another node holds the lock.
func (d *Dispatcher) Sweep(ctx context.Context) (int64, error) {
	token := uuid.New().String()
	ok, err := d.locker.Acquire(ctx, LockRetention, token, d.config.LockTTL)
	if err != nil {
		return 0, fmt.Errorf("jobs: acquire retention lock: %w", err)
	}
	if !ok {
		return 0, nil
	}
	defer d.release(ctx, LockRetention, token)

	n, err := d.queue.Storage().PurgeTerminal(ctx, d.config.Retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Info("purged terminal jobs", "count", n, "retention", d.config.Retention)
	}
	return n, nil
}

func (d *Dispatcher) release(ctx context.Context, name, token string) {
	// Release even when the caller's context is already cancelled.
	if _, err := d.locker.Release(context.WithoutCancel(ctx), name, token); err != nil {
		d.logger.Warn("failed to release lock", "lock", name, "error", err)
	}
}

// heartbeat extends the lock every third of its TTL until ctx ends.
func (d *Dispatcher) heartbeat(ctx context.Context, name, token string) {
	ticker := time.NewTicker(d.config.LockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := d.locker.Extend(ctx, name, token, d.config.LockTTL)
			switch {
			case err != nil:
				d.logger.Warn("lock heartbeat failed", "lock", name, "error", err)
			case !ok:
				d.logger.Warn("lock lost during tick", "lock", name)
				return
			default:
				d.logger.Debug("lock extended", "lock", name)
			}
		}
	}
}
