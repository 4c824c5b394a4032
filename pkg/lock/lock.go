package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/security"
)

// Locker is a distributed mutual-exclusion primitive with expiry.
type Locker interface {
	// Acquire reports whether the lock was granted to token for ttl.
	Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	// Release deletes the lock if token still holds it.
	Release(ctx context.Context, name, token string) (bool, error)
	// Extend sets the expiry to now + ttl if token still holds a live lock.
	Extend(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	// IsLocked reports whether a live lock exists.
	IsLocked(ctx context.Context, name string) (bool, error)
}

// errLockHeld is returned by a single attempt when someone else holds the lock.
var errLockHeld = errors.New("lock: held by another owner")

// DefaultRetry bounds how long Acquire contends: three retries with short,
// randomized exponential waits.
func DefaultRetry() retry.Config {
	return retry.Config{
		MaxAttempts:    4,
		InitialBackoff: 25 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	}
}

// Option configures a lock.
type Option interface {
	applyLock(*options)
}

type options struct {
	clock  clock.Clock
	retry  retry.Config
	logger *slog.Logger
	prefix string
}

type optionFunc func(*options)

func (f optionFunc) applyLock(o *options) { f(o) }

// WithClock sets the clock used to compute expiry.
func WithClock(c clock.Clock) Option {
	return optionFunc(func(o *options) {
		o.clock = c
	})
}

// WithRetry replaces the contention retry configuration.
func WithRetry(cfg retry.Config) Option {
	return optionFunc(func(o *options) {
		o.retry = cfg
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithKeyPrefix namespaces Redis keys. Ignored by StoreLock.
func WithKeyPrefix(prefix string) Option {
	return optionFunc(func(o *options) {
		o.prefix = prefix
	})
}

func buildOptions(opts []Option) options {
	o := options{
		clock:  clock.C,
		retry:  DefaultRetry(),
		logger: slog.Default(),
		prefix: "jobs:lock:",
	}
	for _, opt := range opts {
		opt.applyLock(&o)
	}
	return o
}

// acquireWithRetry runs attempt until it succeeds or contention outlasts the
// retry budget. Any error other than errLockHeld ends the loop.
func acquireWithRetry(ctx context.Context, cfg retry.Config, attempt func() error) (bool, error) {
	err := retry.Do(ctx, cfg, func() error {
		err := attempt()
		if err == nil || errors.Is(err, errLockHeld) {
			return err
		}
		return retry.Permanent(err)
	})
	if errors.Is(err, errLockHeld) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// StoreLock implements Locker on a core.LockStore.
type StoreLock struct {
	store core.LockStore
	opts  options
}

// NewStoreLock creates a lock over the given store.
func NewStoreLock(store core.LockStore, opts ...Option) *StoreLock {
	return &StoreLock{store: store, opts: buildOptions(opts)}
}

// validateTTL rejects lifetimes that would make a lock never expire, or
// expire on the spot. Redis has millisecond resolution.
func validateTTL(ttl time.Duration) error {
	if ttl < time.Millisecond {
		return fmt.Errorf("%w, got %s", core.ErrInvalidLockTTL, ttl)
	}
	return nil
}

// Acquire inserts the lock row, or takes over an expired one.
func (l *StoreLock) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	if err := security.ValidateLockName(name); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}
	ok, err := acquireWithRetry(ctx, l.opts.retry, func() error {
		return l.tryAcquire(ctx, name, token, ttl)
	})
	if err != nil {
		l.opts.logger.Error("lock acquire failed", "lock", name, "error", err)
		return false, err
	}
	if !ok {
		l.opts.logger.Debug("lock contended", "lock", name)
	}
	return ok, nil
}

func (l *StoreLock) tryAcquire(ctx context.Context, name, token string, ttl time.Duration) error {
	now := l.opts.clock.Now().UTC()
	expiresAt := now.Add(ttl)

	inserted, err := l.store.InsertLock(ctx, &core.Lock{Key: name, OwnerToken: token, ExpiresAt: expiresAt})
	if err != nil {
		return err
	}
	if inserted {
		return nil
	}

	existing, err := l.store.GetLock(ctx, name)
	if errors.Is(err, core.ErrNotFound) {
		// Released between our insert and read; try again.
		return errLockHeld
	}
	if err != nil {
		return err
	}
	if existing.Alive(now) {
		return errLockHeld
	}

	took, err := l.store.TakeoverLock(ctx, name, existing.OwnerToken, existing.Version, token, expiresAt)
	if err != nil {
		return err
	}
	if !took {
		return errLockHeld
	}
	l.opts.logger.Info("took over expired lock", "lock", name, "previous_owner", existing.OwnerToken)
	return nil
}

// Release deletes the lock only if token still owns it.
func (l *StoreLock) Release(ctx context.Context, name, token string) (bool, error) {
	return l.store.DeleteLock(ctx, name, token)
}

// Extend moves expiry to now + ttl for the current owner.
func (l *StoreLock) Extend(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	if err := validateTTL(ttl); err != nil {
		return false, err
	}
	return l.store.ExtendLock(ctx, name, token, l.opts.clock.Now().UTC().Add(ttl))
}

// IsLocked reports whether a live lock exists for name.
func (l *StoreLock) IsLocked(ctx context.Context, name string) (bool, error) {
	return l.store.IsLocked(ctx, name)
}

var _ Locker = (*StoreLock)(nil)
