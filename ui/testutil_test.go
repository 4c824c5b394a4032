package ui

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/resilient-jobs/pkg/queue"
	"github.com/jdziat/resilient-jobs/pkg/storage"
)

type mockClock interface {
	clock.Clock
	AddTime(d time.Duration)
}

type testEnv struct {
	store *storage.GormStorage
	clock mockClock
	queue *queue.Queue
}

// newTestEnv returns a queue over an in-memory database with an "email"
// handler registered.
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

	q := queue.New(store, queue.WithClock(clk))
	q.Register("email", func(ctx context.Context, to string) error { return nil })

	return &testEnv{store: store, clock: clk, queue: q}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
