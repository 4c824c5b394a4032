package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

// InsertLock creates the lock row if no row exists for its key.
func (s *GormStorage) InsertLock(ctx context.Context, lock *core.Lock) (bool, error) {
	now := s.now()
	lock.ExpiresAt = lock.ExpiresAt.UTC()
	if lock.Version == 0 {
		lock.Version = 1
	}
	lock.CreatedAt = now
	lock.UpdatedAt = now

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(lock)
	if result.Error != nil {
		return false, core.WrapStorage("insert lock", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// GetLock returns the current row for key, live or not.
func (s *GormStorage) GetLock(ctx context.Context, key string) (*core.Lock, error) {
	var lock core.Lock
	err := s.db.WithContext(ctx).First(&lock, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, core.WrapStorage("get lock", err)
	}
	return &lock, nil
}

// TakeoverLock hands an expired lock to a new owner. The update matches on
// the owner and version the caller read, so of two racing takeovers only one
// affects the row.
func (s *GormStorage) TakeoverLock(ctx context.Context, key, prevOwner string, prevVersion int64, owner string, expiresAt time.Time) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Lock{}).
		Where("name = ? AND owner_token = ? AND version = ?", key, prevOwner, prevVersion).
		Where("expires_at <= ?", now).
		Updates(map[string]any{
			"owner_token": owner,
			"expires_at":  expiresAt.UTC(),
			"version":     gorm.Expr("version + 1"),
			"updated_at":  now,
		})
	if result.Error != nil {
		return false, core.WrapStorage("takeover lock", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ExtendLock moves the expiry of a live lock held by owner.
func (s *GormStorage) ExtendLock(ctx context.Context, key, owner string, expiresAt time.Time) (bool, error) {
	now := s.now()
	result := s.db.WithContext(ctx).
		Model(&core.Lock{}).
		Where("name = ? AND owner_token = ?", key, owner).
		Where("expires_at > ?", now).
		Updates(map[string]any{
			"expires_at": expiresAt.UTC(),
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return false, core.WrapStorage("extend lock", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// DeleteLock removes the lock only if owner still holds it.
func (s *GormStorage) DeleteLock(ctx context.Context, key, owner string) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("name = ? AND owner_token = ?", key, owner).
		Delete(&core.Lock{})
	if result.Error != nil {
		return false, core.WrapStorage("delete lock", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// IsLocked reports whether a non-expired row exists for key.
func (s *GormStorage) IsLocked(ctx context.Context, key string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&core.Lock{}).
		Where("name = ? AND expires_at > ?", key, s.now()).
		Count(&count).Error
	if err != nil {
		return false, core.WrapStorage("is locked", err)
	}
	return count > 0, nil
}
