// Package storage provides storage implementations for the jobs package.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/security"
)

// defaultListLimit caps ListJobs when the filter sets no limit.
const defaultListLimit = 50

// GormStorage implements core.Storage and core.LockStore using GORM.
type GormStorage struct {
	db    *gorm.DB
	clock clock.Clock
}

// Option configures a GormStorage.
type Option interface {
	applyStorage(*GormStorage)
}

type optionFunc func(*GormStorage)

func (f optionFunc) applyStorage(s *GormStorage) { f(s) }

// WithClock replaces the wall clock used for scheduling and lock expiry.
func WithClock(c clock.Clock) Option {
	return optionFunc(func(s *GormStorage) {
		s.clock = c
	})
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...Option) *GormStorage {
	s := &GormStorage{db: db, clock: clock.C}
	for _, opt := range opts {
		opt.applyStorage(s)
	}
	if db != nil {
		// Auto timestamps follow the injected clock too.
		s.db = db.Session(&gorm.Session{NowFunc: s.now})
	}
	return s
}

// DB returns the underlying connection, for components that keep their own
// tables next to the jobs table.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Clock returns the clock the storage schedules against.
func (s *GormStorage) Clock() clock.Clock {
	return s.clock
}

func (s *GormStorage) now() time.Time {
	return s.clock.Now().UTC()
}

func (s *GormStorage) isPostgres() bool {
	return s.db.Dialector != nil && s.db.Dialector.Name() == "postgres"
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return core.WrapStorage("migrate", s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.Lock{}))
}

// Enqueue inserts a queued job. A zero ScheduledAt means "now".
func (s *GormStorage) Enqueue(ctx context.Context, job *core.Job) error {
	now := s.now()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusQueued
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	job.ScheduledAt = job.ScheduledAt.UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	return core.WrapStorage("enqueue", s.db.WithContext(ctx).Create(job).Error)
}

// ClaimReady moves up to limit ready jobs to processing and returns them in
// (priority, scheduled_at) order. Only rows this call transitioned are
// returned, so concurrent claimers never share a job.
func (s *GormStorage) ClaimReady(ctx context.Context, limit int, token string) ([]*core.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()
	var claimed []*core.Job

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("status IN ?", core.ReadyStatuses).
			Where("scheduled_at <= ?", now).
			Order("priority ASC, scheduled_at ASC, created_at ASC").
			Limit(limit)
		if s.isPostgres() {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []*core.Job
		if err := q.Find(&candidates).Error; err != nil {
			return err
		}

		for _, job := range candidates {
			result := tx.Model(&core.Job{}).
				Where("id = ? AND status IN ?", job.ID, core.ReadyStatuses).
				Updates(map[string]any{
					"status":     core.StatusProcessing,
					"progress":   0,
					"claimed_by": token,
					"started_at": now,
					"updated_at": now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			job.Status = core.StatusProcessing
			job.Progress = 0
			job.ClaimedBy = token
			job.StartedAt = &now
			job.UpdatedAt = now
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, core.WrapStorage("claim", err)
	}
	return claimed, nil
}

// UpdateStatus applies a partial status update. Unknown ids report ErrNotFound.
func (s *GormStorage) UpdateStatus(ctx context.Context, jobID string, status core.JobStatus, progress int, message string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":     status,
			"progress":   clampProgress(progress),
			"message":    security.SanitizeErrorMessage(message),
			"updated_at": s.now(),
		})
	if result.Error != nil {
		return core.WrapStorage("update status", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// UpdateProgress records handler progress. It only applies while the job is
// processing; late writes from an abandoned handler get ErrNotRunning.
func (s *GormStorage) UpdateProgress(ctx context.Context, jobID string, progress int, message string) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", jobID, core.StatusProcessing).
		Updates(map[string]any{
			"progress":   clampProgress(progress),
			"message":    security.SanitizeErrorMessage(message),
			"updated_at": s.now(),
		})
	if result.Error != nil {
		return core.WrapStorage("update progress", result.Error)
	}
	if result.RowsAffected == 0 {
		if err := s.exists(ctx, jobID); err != nil {
			return err
		}
		return core.ErrNotRunning
	}
	return nil
}

// MarkRetry reschedules a job for another attempt after delay.
// Error messages are sanitized before storage.
func (s *GormStorage) MarkRetry(ctx context.Context, jobID string, attempts int, delay time.Duration, errMsg string) error {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       core.StatusRetrying,
			"attempts":     attempts,
			"scheduled_at": now.Add(delay),
			"last_error":   security.SanitizeErrorMessage(errMsg),
			"message":      "retry scheduled",
			"claimed_by":   "",
			"updated_at":   now,
		})
	if result.Error != nil {
		return core.WrapStorage("mark retry", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// MarkCompleted marks a job as successfully completed.
func (s *GormStorage) MarkCompleted(ctx context.Context, jobID string) error {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       core.StatusCompleted,
			"progress":     100,
			"message":      "completed",
			"claimed_by":   "",
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return core.WrapStorage("mark completed", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// MarkFailed marks a job as permanently failed.
func (s *GormStorage) MarkFailed(ctx context.Context, jobID string, attempts int, errMsg string) error {
	now := s.now()
	msg := security.SanitizeErrorMessage(errMsg)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"status":       core.StatusFailed,
			"attempts":     attempts,
			"last_error":   msg,
			"message":      msg,
			"claimed_by":   "",
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return core.WrapStorage("mark failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// Cancel moves an unclaimed job to cancelled. It reports false without error
// when the job is already processing or terminal.
func (s *GormStorage) Cancel(ctx context.Context, jobID string) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status IN ?", jobID, core.ReadyStatuses).
		Updates(map[string]any{
			"status":       core.StatusCancelled,
			"message":      "cancelled",
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, core.WrapStorage("cancel", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, s.exists(ctx, jobID)
	}
	return true, nil
}

// GetJob retrieves a job by ID.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.WrapStorage("get job", err)
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *GormStorage) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var jobList []*core.Job
	err := q.Order("created_at DESC, id ASC").Limit(limit).Find(&jobList).Error
	if err != nil {
		return nil, core.WrapStorage("list jobs", err)
	}
	return jobList, nil
}

// Stats counts jobs by status among rows touched within window.
// A zero window counts every row.
func (s *GormStorage) Stats(ctx context.Context, window time.Duration) (map[core.JobStatus]int64, error) {
	type row struct {
		Status core.JobStatus
		Count  int64
	}
	q := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("status, count(*) as count")
	if window > 0 {
		q = q.Where("updated_at >= ?", s.now().Add(-window))
	}

	var rows []row
	if err := q.Group("status").Find(&rows).Error; err != nil {
		return nil, core.WrapStorage("stats", err)
	}

	counts := make(map[core.JobStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// PurgeTerminal deletes terminal jobs last updated before now - olderThan.
func (s *GormStorage) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status IN ?", core.TerminalStatuses).
		Where("updated_at < ?", s.now().Add(-olderThan)).
		Delete(&core.Job{})
	if result.Error != nil {
		return 0, core.WrapStorage("purge", result.Error)
	}
	return result.RowsAffected, nil
}

// AbandonedMessage is stored on a job failed because its last attempt was
// lost with the node that ran it.
const AbandonedMessage = "abandoned by crashed worker"

// RequeueStale recovers jobs stuck in processing since before now - olderThan.
// Their node is assumed to have died, so the lost run counts as an attempt:
// jobs with attempts left return to the ready set, the rest are failed.
func (s *GormStorage) RequeueStale(ctx context.Context, olderThan time.Duration) (core.StaleResult, error) {
	var res core.StaleResult
	now := s.now()
	cutoff := now.Add(-olderThan)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := func() *gorm.DB {
			return tx.Model(&core.Job{}).
				Where("status = ?", core.StatusProcessing).
				Where("updated_at < ?", cutoff)
		}

		failed := stale().
			Where("attempts + 1 >= max_attempts").
			Updates(map[string]any{
				"status":       core.StatusFailed,
				"attempts":     gorm.Expr("attempts + 1"),
				"last_error":   AbandonedMessage,
				"message":      AbandonedMessage,
				"claimed_by":   "",
				"completed_at": now,
				"updated_at":   now,
			})
		if failed.Error != nil {
			return failed.Error
		}
		res.Abandoned = failed.RowsAffected

		requeued := stale().
			Updates(map[string]any{
				"status":       core.StatusRetrying,
				"attempts":     gorm.Expr("attempts + 1"),
				"scheduled_at": now,
				"claimed_by":   "",
				"message":      "requeued after stale claim",
				"updated_at":   now,
			})
		if requeued.Error != nil {
			return requeued.Error
		}
		res.Requeued = requeued.RowsAffected
		return nil
	})
	if err != nil {
		return core.StaleResult{}, core.WrapStorage("requeue stale", err)
	}
	return res, nil
}

// exists returns ErrNotFound when no job has the id, nil otherwise.
func (s *GormStorage) exists(ctx context.Context, jobID string) error {
	var count int64
	err := s.db.WithContext(ctx).Model(&core.Job{}).Where("id = ?", jobID).Count(&count).Error
	if err != nil {
		return core.WrapStorage("lookup", err)
	}
	if count == 0 {
		return core.ErrNotFound
	}
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

var (
	_ core.Storage   = (*GormStorage)(nil)
	_ core.LockStore = (*GormStorage)(nil)
)
