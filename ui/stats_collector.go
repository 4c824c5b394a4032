package ui

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/queue"
)

// depthScanLimit bounds how many jobs per status one snapshot reads.
const depthScanLimit = 10000

// StatsCollector subscribes to queue events and periodically snapshots queue depth.
type StatsCollector struct {
	queue     *queue.Queue
	stats     StatsStorage
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu       sync.Mutex
	counters map[string]*Counters

	// ready is closed once the collector has subscribed to events and is processing.
	ready     chan struct{}
	readyOnce sync.Once
}

// StatsCollectorOption configures the StatsCollector.
type StatsCollectorOption interface {
	apply(*StatsCollector)
}

type statsCollectorOptionFunc func(*StatsCollector)

func (f statsCollectorOptionFunc) apply(sc *StatsCollector) { f(sc) }

// WithStatsCollectorRetention sets the retention duration for stats rows.
func WithStatsCollectorRetention(d time.Duration) StatsCollectorOption {
	return statsCollectorOptionFunc(func(sc *StatsCollector) {
		sc.retention = d
	})
}

// WithStatsCollectorInterval sets how often counters are flushed. Default: 1 minute.
func WithStatsCollectorInterval(d time.Duration) StatsCollectorOption {
	return statsCollectorOptionFunc(func(sc *StatsCollector) {
		if d > 0 {
			sc.interval = d
		}
	})
}

// WithStatsCollectorClock sets the clock used to bucket rows.
func WithStatsCollectorClock(c clock.Clock) StatsCollectorOption {
	return statsCollectorOptionFunc(func(sc *StatsCollector) {
		sc.clock = c
	})
}

// WithStatsCollectorLogger sets the logger for write failures.
func WithStatsCollectorLogger(l *slog.Logger) StatsCollectorOption {
	return statsCollectorOptionFunc(func(sc *StatsCollector) {
		sc.logger = l
	})
}

// NewStatsCollector creates a new StatsCollector.
func NewStatsCollector(q *queue.Queue, stats StatsStorage, opts ...StatsCollectorOption) *StatsCollector {
	sc := &StatsCollector{
		queue:     q,
		stats:     stats,
		retention: 7 * 24 * time.Hour,
		interval:  time.Minute,
		clock:     q.Clock(),
		logger:    slog.Default(),
		counters:  make(map[string]*Counters),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt.apply(sc)
	}
	return sc
}

// WaitReady blocks until the collector has subscribed to events.
func (sc *StatsCollector) WaitReady() {
	<-sc.ready
}

// Start begins the event listener and periodic snapshot ticker.
// Blocks until ctx is cancelled.
func (sc *StatsCollector) Start(ctx context.Context) {
	events := sc.queue.Events()
	defer sc.queue.Unsubscribe(events)

	sc.readyOnce.Do(func() { close(sc.ready) })

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			sc.Flush(flushCtx)
			cancel()
			return
		case e := <-events:
			sc.handleEvent(e)
		case <-ticker.C:
			sc.Flush(ctx)
			sc.Snapshot(ctx)
			sc.prune(ctx)
		}
	}
}

func (sc *StatsCollector) handleEvent(e core.Event) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	switch ev := e.(type) {
	case *core.JobCompleted:
		sc.countersFor(ev.Job.Type).Completed++
	case *core.JobFailed:
		sc.countersFor(ev.Job.Type).Failed++
	case *core.JobRetrying:
		sc.countersFor(ev.Job.Type).Retried++
	}
}

func (sc *StatsCollector) countersFor(jobType string) *Counters {
	c, ok := sc.counters[jobType]
	if !ok {
		c = &Counters{}
		sc.counters[jobType] = c
	}
	return c
}

func (sc *StatsCollector) now() time.Time {
	return sc.clock.Now().UTC().Truncate(time.Minute)
}

// Flush writes accumulated counters to the stats storage.
func (sc *StatsCollector) Flush(ctx context.Context) {
	sc.mu.Lock()
	batch := sc.counters
	sc.counters = make(map[string]*Counters)
	sc.mu.Unlock()

	ts := sc.now()
	for jobType, c := range batch {
		if c.IsZero() {
			continue
		}
		if err := sc.stats.AddCounters(ctx, jobType, ts, *c); err != nil {
			sc.logger.Error("stats flush failed", "type", jobType, "error", err)
		}
	}
}

// Snapshot records the current number of waiting and running jobs per type.
func (sc *StatsCollector) Snapshot(ctx context.Context) {
	ts := sc.now()
	storage := sc.queue.Storage()

	depth := make(map[string]*Depth)
	statuses := []core.JobStatus{core.StatusQueued, core.StatusRetrying, core.StatusProcessing}
	for _, status := range statuses {
		jobs, err := storage.ListJobs(ctx, core.JobFilter{Status: status, Limit: depthScanLimit})
		if err != nil {
			sc.logger.Error("stats snapshot failed", "status", string(status), "error", err)
			continue
		}
		for _, job := range jobs {
			d, ok := depth[job.Type]
			if !ok {
				d = &Depth{}
				depth[job.Type] = d
			}
			if status == core.StatusProcessing {
				d.Running++
			} else {
				d.Pending++
			}
		}
	}

	for jobType, d := range depth {
		if err := sc.stats.SetDepth(ctx, jobType, ts, *d); err != nil {
			sc.logger.Error("stats snapshot failed", "type", jobType, "error", err)
		}
	}
}

func (sc *StatsCollector) prune(ctx context.Context) {
	if sc.retention <= 0 {
		return
	}
	if _, err := sc.stats.PruneStats(ctx, sc.clock.Now().UTC().Add(-sc.retention)); err != nil {
		sc.logger.Error("stats prune failed", "error", err)
	}
}
