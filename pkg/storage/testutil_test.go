package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance on a single connection.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err, "open postgres test db")
		require.NoError(t, ConfigurePool(db, MaxOpenConns(4), MaxIdleConns(2)))

		sqlDB, err := db.DB()
		require.NoError(t, err, "get underlying sql.DB")

		// Clean before AND after to ensure test isolation.
		cleanupPostgresDB(t, db)
		t.Cleanup(func() {
			cleanupPostgresDB(t, db)
			_ = sqlDB.Close()
		})
		return db
	}
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open in-memory sqlite")
	require.NoError(t, ConfigurePool(db))
	return db
}

// cleanupPostgresDB deletes all rows so tests are isolated without
// requiring a fresh database per test.
func cleanupPostgresDB(t *testing.T, db *gorm.DB) {
	t.Helper()
	for _, tbl := range []string{"job_locks", "jobs"} {
		db.Exec("DELETE FROM " + tbl)
	}
}

// mockClock is the subset of the clock package's mock used by tests.
type mockClock interface {
	clock.Clock
	AddTime(d time.Duration)
}

// newTestStorage returns migrated storage driven by a mock clock.
func newTestStorage(t *testing.T) (*GormStorage, mockClock) {
	t.Helper()
	clk := clock.NewMockClock()
	s := NewGormStorage(openTestDB(t), WithClock(clk))
	require.NoError(t, s.Migrate(context.Background()), "migrate schema")
	return s, clk
}

// newTestJob builds a minimal valid Job for insertion in tests.
func newTestJob(jobType string, priority int) *core.Job {
	return &core.Job{
		Type:     jobType,
		Payload:  []byte(`{"n":1}`),
		Priority: priority,
	}
}
