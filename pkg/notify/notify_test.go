package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

func sample() core.Notification {
	return core.Notification{
		Kind:      core.NotifyJobFailed,
		JobID:     "job-1",
		JobType:   "email",
		Message:   "smtp refused",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

type recorder struct {
	mu  sync.Mutex
	got []core.Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n core.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestFunc(t *testing.T) {
	var got core.Notification
	f := Func(func(_ context.Context, n core.Notification) error {
		got = n
		return nil
	})

	require.NoError(t, f.Notify(context.Background(), sample()))
	assert.Equal(t, "job-1", got.JobID)
}

func TestLog_WritesWarning(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, l.Notify(context.Background(), sample()))

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, `msg="smtp refused"`)
	assert.Contains(t, out, "kind=job_failed")
	assert.Contains(t, out, "job_id=job-1")
	assert.NotContains(t, out, "service=")
}

func TestLog_CircuitOpen(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	err := l.Notify(context.Background(), core.Notification{
		Kind:      core.NotifyCircuitOpen,
		ServiceID: "smtp",
		Message:   "circuit opened",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "service=smtp")
	assert.NotContains(t, buf.String(), "job_id=")
}

func TestNewLog_NilLogger(t *testing.T) {
	assert.Equal(t, slog.Default(), NewLog(nil).Logger)
}

func TestMulti_DeliversToAllAndCombinesErrors(t *testing.T) {
	a := &recorder{err: errors.New("a down")}
	b := &recorder{}
	c := &recorder{err: errors.New("c down")}

	err := Multi{a, b, c}.Notify(context.Background(), sample())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "c down")
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
	assert.Equal(t, 1, c.count())
}

func TestMulti_NoErrors(t *testing.T) {
	assert.NoError(t, Multi{&recorder{}, &recorder{}}.Notify(context.Background(), sample()))
	assert.NoError(t, Multi(nil).Notify(context.Background(), sample()))
}

func TestAsync_DeliversInBackground(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Notify(ctx, sample()))
	cancel()
	a.Wait()

	assert.Equal(t, 1, rec.count())
}

func TestAsync_LogsErrors(t *testing.T) {
	var buf bytes.Buffer
	rec := &recorder{err: errors.New("webhook 500")}
	a := NewAsync(rec, slog.New(slog.NewTextHandler(&buf, nil)))

	assert.NoError(t, a.Notify(context.Background(), sample()))
	a.Wait()

	assert.Contains(t, buf.String(), "notification delivery failed")
	assert.Contains(t, buf.String(), "webhook 500")
}
