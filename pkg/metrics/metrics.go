package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

const namespace = "jobs"

// Breaker state gauge values.
const (
	breakerClosed   = 0
	breakerHalfOpen = 1
	breakerOpen     = 2
)

var allStatuses = []core.JobStatus{
	core.StatusQueued,
	core.StatusProcessing,
	core.StatusRetrying,
	core.StatusCompleted,
	core.StatusFailed,
	core.StatusCancelled,
}

// Metrics holds the prometheus collectors for job processing. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	jobsProcessed *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
	breakerState  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. Collectors that are
// already registered are reused, so New may be called more than once against
// the same registry.
func New(reg prometheus.Registerer) *Metrics {
	registerOrExisting := func(coll prometheus.Collector) prometheus.Collector {
		if err := reg.Register(coll); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
			panic(err)
		}
		return coll
	}

	return &Metrics{
		jobsProcessed: registerOrExisting(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "processed_total",
				Help:      "Jobs run by the executor, by type and outcome.",
			},
			[]string{"type", "outcome"},
		)).(*prometheus.CounterVec),

		jobDuration: registerOrExisting(prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "duration_seconds",
				Help:      "Wall-clock time spent in job handlers.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"type"},
		)).(*prometheus.HistogramVec),

		ticks: registerOrExisting(prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "ticks_total",
				Help:      "Dispatcher ticks by result (ran, skipped, error).",
			},
			[]string{"result"},
		)).(*prometheus.CounterVec),

		tickDuration: registerOrExisting(prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "tick_duration_seconds",
				Help:      "Time spent in dispatcher ticks that held the lock.",
			},
		)).(prometheus.Histogram),

		queueDepth: registerOrExisting(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Jobs currently in each status.",
			},
			[]string{"status"},
		)).(*prometheus.GaugeVec),

		breakerState: registerOrExisting(prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state per service (0 closed, 1 half-open, 2 open).",
			},
			[]string{"service"},
		)).(*prometheus.GaugeVec),
	}
}

// ObserveJob records one executor outcome.
func (m *Metrics) ObserveJob(jobType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// ObserveTick records a dispatcher tick. Duration is only observed for ticks
// that ran.
func (m *Metrics) ObserveTick(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.WithLabelValues(result).Inc()
	if result == "ran" {
		m.tickDuration.Observe(d.Seconds())
	}
}

// SetQueueDepth replaces the per-status gauges. Statuses missing from counts
// are reported as zero.
func (m *Metrics) SetQueueDepth(counts map[core.JobStatus]int64) {
	if m == nil {
		return
	}
	for _, s := range allStatuses {
		m.queueDepth.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

// SetBreakerState records a breaker transition.
func (m *Metrics) SetBreakerState(serviceID, state string) {
	if m == nil {
		return
	}
	v := breakerClosed
	switch state {
	case "open":
		v = breakerOpen
	case "half_open":
		v = breakerHalfOpen
	}
	m.breakerState.WithLabelValues(serviceID).Set(float64(v))
}
