package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/lock"
	"github.com/jdziat/resilient-jobs/pkg/queue"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/storage"
)

type mockClock interface {
	clock.Clock
	AddTime(d time.Duration)
}

// testEnv is a queue, store and lock sharing one in-memory database and one
// mock clock.
type testEnv struct {
	store  *storage.GormStorage
	clock  mockClock
	queue  *queue.Queue
	locker *lock.StoreLock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db))

	clk := clock.NewMockClock()
	store := storage.NewGormStorage(db, storage.WithClock(clk))
	require.NoError(t, store.Migrate(context.Background()))

	return &testEnv{
		store:  store,
		clock:  clk,
		queue:  queue.New(store, queue.WithClock(clk)),
		locker: lock.NewStoreLock(store, lock.WithClock(clk), lock.WithRetry(fastRetry())),
	}
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// baseOptions are the options every test executor and dispatcher gets.
func (e *testEnv) baseOptions(extra ...WorkerOption) []WorkerOption {
	return append([]WorkerOption{
		WithClock(e.clock),
		WithLogger(quietLogger()),
		WithStorageRetry(fastRetry()),
		WithWorkerID("test-worker"),
	}, extra...)
}

func (e *testEnv) executor(opts ...WorkerOption) *Executor {
	return NewExecutor(e.queue, e.baseOptions(opts...)...)
}

func (e *testEnv) dispatcher(opts ...WorkerOption) *Dispatcher {
	return NewDispatcher(e.queue, e.locker, e.baseOptions(opts...)...)
}

func (e *testEnv) enqueue(t *testing.T, jobType string, payload any, opts ...queue.Option) string {
	t.Helper()
	id, err := e.queue.Enqueue(context.Background(), jobType, payload, opts...)
	require.NoError(t, err)
	return id
}

func (e *testEnv) job(t *testing.T, id string) *core.Job {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}

// quickPolicy retries without real waiting: delays only move the mock clock.
func quickPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{MaxAttempts: maxAttempts, BaseDelay: time.Second, Multiplier: 2}
}

// recordingNotifier collects notifications.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []core.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note core.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) kinds() []core.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.NotificationKind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

// drain returns every event currently buffered on ch.
func drain(ch <-chan core.Event) []core.Event {
	var out []core.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}
