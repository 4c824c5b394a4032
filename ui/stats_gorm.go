package ui

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

var bucketColumns = []clause.Column{{Name: "job_type"}, {Name: "bucket"}}

// gormStatsStorage keeps stats buckets in the job_stats table. Every write is
// a single upsert on (job_type, bucket), so concurrent collectors on several
// nodes add to the same row.
type gormStatsStorage struct {
	db *gorm.DB
}

// NewGormStatsStorage creates a GORM-backed stats storage.
func NewGormStatsStorage(db *gorm.DB) StatsStorage {
	return &gormStatsStorage{db: db}
}

func (s *gormStatsStorage) MigrateStats(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&JobStat{}); err != nil {
		return core.WrapStorage("migrate stats", err)
	}
	return nil
}

func (s *gormStatsStorage) AddCounters(ctx context.Context, jobType string, bucket time.Time, c Counters) error {
	row := &JobStat{
		JobType:   jobType,
		Bucket:    bucket.UTC().Truncate(time.Minute),
		Completed: c.Completed,
		Failed:    c.Failed,
		Retried:   c.Retried,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: bucketColumns,
		DoUpdates: clause.Assignments(map[string]any{
			"completed": gorm.Expr("job_stats.completed + ?", c.Completed),
			"failed":    gorm.Expr("job_stats.failed + ?", c.Failed),
			"retried":   gorm.Expr("job_stats.retried + ?", c.Retried),
		}),
	}).Create(row).Error
	if err != nil {
		return core.WrapStorage("add stat counters", err)
	}
	return nil
}

func (s *gormStatsStorage) SetDepth(ctx context.Context, jobType string, bucket time.Time, d Depth) error {
	row := &JobStat{
		JobType: jobType,
		Bucket:  bucket.UTC().Truncate(time.Minute),
		Pending: d.Pending,
		Running: d.Running,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: bucketColumns,
		DoUpdates: clause.Assignments(map[string]any{
			"pending": d.Pending,
			"running": d.Running,
		}),
	}).Create(row).Error
	if err != nil {
		return core.WrapStorage("set queue depth", err)
	}
	return nil
}

func (s *gormStatsStorage) History(ctx context.Context, q HistoryQuery) ([]JobStat, error) {
	tx := s.db.WithContext(ctx).Order("bucket ASC, job_type ASC")
	if q.JobType != "" {
		tx = tx.Where("job_type = ?", q.JobType)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("bucket >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		tx = tx.Where("bucket <= ?", q.Until.UTC())
	}

	var rows []JobStat
	if err := tx.Find(&rows).Error; err != nil {
		return nil, core.WrapStorage("stats history", err)
	}
	return rows, nil
}

func (s *gormStatsStorage) PruneStats(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("bucket < ?", before.UTC()).Delete(&JobStat{})
	if result.Error != nil {
		return 0, core.WrapStorage("prune stats", result.Error)
	}
	return result.RowsAffected, nil
}
