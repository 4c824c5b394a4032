package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jdziat/resilient-jobs/pkg/security"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock implements Locker with SET NX PX. Redis expires the key itself,
// so there is no takeover path.
type RedisLock struct {
	client redis.UniversalClient
	opts   options
}

// NewRedisLock creates a lock over the given client.
func NewRedisLock(client redis.UniversalClient, opts ...Option) *RedisLock {
	return &RedisLock{client: client, opts: buildOptions(opts)}
}

func (l *RedisLock) key(name string) string {
	return l.opts.prefix + name
}

// Acquire sets the key if absent.
func (l *RedisLock) Acquire(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	if err := security.ValidateLockName(name); err != nil {
		return false, err
	}
	if err := validateTTL(ttl); err != nil {
		return false, err
	}
	ok, err := acquireWithRetry(ctx, l.opts.retry, func() error {
		set, err := l.client.SetNX(ctx, l.key(name), token, ttl).Result()
		if err != nil {
			return fmt.Errorf("lock/redis: acquire: %w", err)
		}
		if !set {
			return errLockHeld
		}
		return nil
	})
	if err != nil {
		l.opts.logger.Error("lock acquire failed", "lock", name, "error", err)
	}
	return ok, err
}

// Release deletes the key only if token still owns it.
func (l *RedisLock) Release(ctx context.Context, name, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("lock/redis: release: %w", err)
	}
	return n > 0, nil
}

// Extend resets the key's TTL if token still owns it.
func (l *RedisLock) Extend(ctx context.Context, name, token string, ttl time.Duration) (bool, error) {
	if err := validateTTL(ttl); err != nil {
		return false, err
	}
	n, err := extendScript.Run(ctx, l.client, []string{l.key(name)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("lock/redis: extend: %w", err)
	}
	return n > 0, nil
}

// IsLocked reports whether the key exists.
func (l *RedisLock) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("lock/redis: exists: %w", err)
	}
	return n > 0, nil
}

var _ Locker = (*RedisLock)(nil)
