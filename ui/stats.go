package ui

import (
	"context"
	"time"
)

// JobStat is one per-minute bucket of outcome counters and queue depth for a
// job type.
type JobStat struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	JobType   string    `gorm:"column:job_type;uniqueIndex:idx_job_stats_type_bucket;size:255;not null" json:"type"`
	Bucket    time.Time `gorm:"uniqueIndex:idx_job_stats_type_bucket;index;not null" json:"bucket"`
	Pending   int64     `gorm:"default:0" json:"pending"`
	Running   int64     `gorm:"default:0" json:"running"`
	Completed int64     `gorm:"default:0" json:"completed"`
	Failed    int64     `gorm:"default:0" json:"failed"`
	Retried   int64     `gorm:"default:0" json:"retried"`
}

// Counters are outcome counts added to a bucket.
type Counters struct {
	Completed int64
	Failed    int64
	Retried   int64
}

// IsZero reports whether there is nothing to add.
func (c Counters) IsZero() bool {
	return c.Completed == 0 && c.Failed == 0 && c.Retried == 0
}

// Depth is the number of waiting and running jobs of one type at snapshot time.
type Depth struct {
	Pending int64
	Running int64
}

// HistoryQuery selects stats rows. Zero fields are unbounded.
type HistoryQuery struct {
	JobType string
	Since   time.Time
	Until   time.Time
}

// StatsStorage persists per-minute stats buckets.
type StatsStorage interface {
	MigrateStats(ctx context.Context) error
	// AddCounters adds c to the bucket, creating it if needed.
	AddCounters(ctx context.Context, jobType string, bucket time.Time, c Counters) error
	// SetDepth overwrites the bucket's depth, leaving its counters alone.
	SetDepth(ctx context.Context, jobType string, bucket time.Time, d Depth) error
	// History returns matching rows ordered by bucket, then type.
	History(ctx context.Context, q HistoryQuery) ([]JobStat, error)
	PruneStats(ctx context.Context, before time.Time) (int64, error)
}
