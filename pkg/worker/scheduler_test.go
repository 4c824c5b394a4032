package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

func TestScheduler_TicksDispatcher(t *testing.T) {
	env := newTestEnv(t)
	env.queue.Register("noop", func(ctx context.Context) error { return nil })
	id := env.enqueue(t, "noop", nil)

	s := NewScheduler(env.dispatcher(), TickInterval(time.Second), SweepInterval(0))
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Stop(ctx))
	}()

	require.Eventually(t, func() bool {
		job, err := env.store.GetJob(context.Background(), id)
		return err == nil && job.Status == core.StatusCompleted
	}, 5*time.Second, 50*time.Millisecond)
}

func TestScheduler_Every(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(env.dispatcher(), TickInterval(0), SweepInterval(0))

	var calls atomic.Int32
	require.NoError(t, s.Every(time.Second, "count", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("logged, not fatal")
	}))

	s.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_Every_RejectsNonPositive(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(env.dispatcher())
	assert.Error(t, s.Every(0, "bad", func(context.Context) error { return nil }))
}

func TestScheduler_Cron_InvalidExpression(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(env.dispatcher())

	err := s.Cron("not a cron", "bad", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	assert.NoError(t, s.Cron("@daily", "ok", func(context.Context) error { return nil }))
	assert.NoError(t, s.Cron("*/5 * * * *", "ok", func(context.Context) error { return nil }))
}

func TestScheduler_Recurring(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(env.dispatcher())

	err := s.Recurring("@hourly", "unknown", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown")

	env.queue.Register("digest", func(ctx context.Context) error { return nil })
	assert.NoError(t, s.Recurring("@hourly", "digest", nil))
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(env.dispatcher())
	assert.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	s := NewScheduler(env.dispatcher(), TickInterval(time.Hour), SweepInterval(0))
	s.Start()
	s.Start()
	assert.NoError(t, s.Stop(context.Background()))
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Info("start", "entries", 2)
	l.Error(errors.New("boom"), "panic", "job", "tick")

	out := buf.String()
	assert.Contains(t, out, "cron: start")
	assert.Contains(t, out, "entries=2")
	assert.Contains(t, out, "cron: panic")
	assert.Contains(t, out, "error=boom")
}
