package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveJob("report", "completed", time.Second)
	m.ObserveTick("ran", time.Second)
	m.SetQueueDepth(nil)
	m.SetBreakerState("crm", "closed")

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"jobs_processed_total",
		"jobs_duration_seconds",
		"jobs_dispatcher_ticks_total",
		"jobs_dispatcher_tick_duration_seconds",
		"jobs_queue_depth",
		"jobs_breaker_state",
	}, names)
}

func TestNew_ReusesExistingCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg)
	b := New(reg)

	a.ObserveJob("report", "failed", 0)
	b.ObserveJob("report", "failed", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.jobsProcessed.WithLabelValues("report", "failed")))
}

func TestObserveJob(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveJob("report", "completed", 2*time.Second)
	m.ObserveJob("report", "retrying", time.Second)
	m.ObserveJob("report", "completed", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues("report", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues("report", "retrying")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
}

func TestObserveTick(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveTick("ran", time.Second)
	m.ObserveTick("skipped", 0)
	m.ObserveTick("skipped", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ticks.WithLabelValues("ran")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks.WithLabelValues("skipped")))

	expected := `
# HELP jobs_dispatcher_tick_duration_seconds Time spent in dispatcher ticks that held the lock.
# TYPE jobs_dispatcher_tick_duration_seconds histogram
jobs_dispatcher_tick_duration_seconds_bucket{le="0.005"} 0
jobs_dispatcher_tick_duration_seconds_bucket{le="0.01"} 0
jobs_dispatcher_tick_duration_seconds_bucket{le="0.025"} 0
jobs_dispatcher_tick_duration_seconds_bucket{le="0.05"} 0
jobs_dispatcher_tick_duration_seconds_bucket{le="0.1"} 0
jobs_dispatcher_tick_duration_seconds_bucket{le="0.25"} 0
jobs_dispatcher_tick_duration_seconds_bucket{le="0.5"} 0
jobs_dispatcher_tick_duration_seconds_bucket{le="1"} 1
jobs_dispatcher_tick_duration_seconds_bucket{le="2.5"} 1
jobs_dispatcher_tick_duration_seconds_bucket{le="5"} 1
jobs_dispatcher_tick_duration_seconds_bucket{le="10"} 1
jobs_dispatcher_tick_duration_seconds_bucket{le="+Inf"} 1
jobs_dispatcher_tick_duration_seconds_sum 1
jobs_dispatcher_tick_duration_seconds_count 1
`
	require.NoError(t, testutil.CollectAndCompare(m.tickDuration, strings.NewReader(expected)))
}

func TestSetQueueDepth(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetQueueDepth(map[core.JobStatus]int64{
		core.StatusQueued: 4,
		core.StatusFailed: 1,
	})

	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("processing")))
	assert.Equal(t, 6, testutil.CollectAndCount(m.queueDepth))

	m.SetQueueDepth(map[core.JobStatus]int64{core.StatusQueued: 1})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("queued")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("failed")))
}

func TestSetBreakerState(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetBreakerState("crm", "open")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("crm")))

	m.SetBreakerState("crm", "half_open")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.breakerState.WithLabelValues("crm")))

	m.SetBreakerState("crm", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.breakerState.WithLabelValues("crm")))
}

func TestNilMetrics_IsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveJob("x", "completed", time.Second)
		m.ObserveTick("ran", time.Second)
		m.SetQueueDepth(map[core.JobStatus]int64{core.StatusQueued: 1})
		m.SetBreakerState("x", "open")
	})
}
