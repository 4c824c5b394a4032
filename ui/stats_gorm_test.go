package ui

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/resilient-jobs/pkg/storage"
)

func newStatsStore(t *testing.T) StatsStorage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, storage.ConfigurePool(db))

	s := NewGormStatsStorage(db)
	require.NoError(t, s.MigrateStats(context.Background()))
	return s
}

func around(ts time.Time) HistoryQuery {
	return HistoryQuery{Since: ts.Add(-time.Minute), Until: ts.Add(time.Minute)}
}

func TestGormStats_AddCountersAccumulates(t *testing.T) {
	s := newStatsStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	require.NoError(t, s.AddCounters(ctx, "email", ts, Counters{Completed: 5, Failed: 2, Retried: 1}))
	// Same minute, different second: lands in the same bucket.
	require.NoError(t, s.AddCounters(ctx, "email", ts.Add(20*time.Second), Counters{Completed: 3, Failed: 1}))

	rows, err := s.History(ctx, around(ts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "email", rows[0].JobType)
	assert.Equal(t, int64(8), rows[0].Completed)
	assert.Equal(t, int64(3), rows[0].Failed)
	assert.Equal(t, int64(1), rows[0].Retried)
	assert.True(t, rows[0].Bucket.Equal(ts))
}

func TestGormStats_SetDepthKeepsCounters(t *testing.T) {
	s := newStatsStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	require.NoError(t, s.AddCounters(ctx, "email", ts, Counters{Completed: 5, Failed: 2, Retried: 1}))
	require.NoError(t, s.SetDepth(ctx, "email", ts, Depth{Pending: 20, Running: 5}))
	require.NoError(t, s.SetDepth(ctx, "email", ts, Depth{Pending: 7, Running: 1}))

	rows, err := s.History(ctx, around(ts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].Completed)
	assert.Equal(t, int64(2), rows[0].Failed)
	assert.Equal(t, int64(7), rows[0].Pending, "depth is overwritten, not added")
	assert.Equal(t, int64(1), rows[0].Running)
}

func TestGormStats_SetDepthCreatesBucket(t *testing.T) {
	s := newStatsStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	require.NoError(t, s.SetDepth(ctx, "report", ts, Depth{Pending: 3}))

	rows, err := s.History(ctx, around(ts))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Pending)
	assert.Zero(t, rows[0].Completed)
}

func TestGormStats_HistoryFiltersAndOrders(t *testing.T) {
	s := newStatsStore(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)

	require.NoError(t, s.AddCounters(ctx, "payment", t1, Counters{Completed: 2}))
	require.NoError(t, s.AddCounters(ctx, "email", t1, Counters{Completed: 20}))
	require.NoError(t, s.AddCounters(ctx, "email", t0, Counters{Completed: 10}))

	rows, err := s.History(ctx, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(10), rows[0].Completed)
	assert.Equal(t, "email", rows[1].JobType)
	assert.Equal(t, "payment", rows[2].JobType)

	rows, err = s.History(ctx, HistoryQuery{JobType: "email"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.History(ctx, HistoryQuery{Since: t0.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.History(ctx, HistoryQuery{Until: t0})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].Completed)
}

func TestGormStats_Prune(t *testing.T) {
	s := newStatsStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddCounters(ctx, "email", now.Add(-48*time.Hour), Counters{Completed: 1}))
	require.NoError(t, s.AddCounters(ctx, "email", now, Counters{Completed: 1}))

	pruned, err := s.PruneStats(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	rows, err := s.History(ctx, HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Bucket.Equal(now))
}
