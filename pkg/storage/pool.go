package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// minOpenConns is the smallest pool given to a server database.
const minOpenConns = 10

// PoolConfig sizes the *sql.DB behind a GormStorage.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Serialized pins the pool to one connection. It is set for SQLite, which
	// allows a single writer and keeps ":memory:" databases per connection.
	Serialized bool
}

// poolConfigFor returns the starting configuration for a dialect.
func poolConfigFor(dialect string) PoolConfig {
	if dialect == "sqlite" {
		return PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1, Serialized: true}
	}
	return PoolConfig{
		MaxOpenConns:    minOpenConns,
		MaxIdleConns:    minOpenConns / 2,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: time.Minute,
	}
}

// PoolOption adjusts the pool configuration.
type PoolOption interface {
	applyPool(*PoolConfig)
}

type poolOptionFunc func(*PoolConfig)

func (f poolOptionFunc) applyPool(c *PoolConfig) { f(c) }

// ForWorkers sizes the pool for a node that runs n jobs at once. Each running
// job writes its own status and progress, and the dispatcher needs one more
// connection for the claim and one for the lock. A serialized pool is left
// alone.
func ForWorkers(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		if c.Serialized {
			return
		}
		c.MaxOpenConns = max(c.MaxOpenConns, n+2)
		c.MaxIdleConns = max(c.MaxIdleConns, c.MaxOpenConns/2)
	})
}

// MaxOpenConns overrides the open connection limit, even for a serialized pool.
func MaxOpenConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxOpenConns = n
		c.Serialized = n == 1
	})
}

// MaxIdleConns overrides the idle connection limit.
func MaxIdleConns(n int) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.MaxIdleConns = n
	})
}

// ConnMaxLifetime overrides how long a connection may be reused.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxLifetime = d
	})
}

// ConnMaxIdleTime overrides how long a connection may sit idle.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return poolOptionFunc(func(c *PoolConfig) {
		c.ConnMaxIdleTime = d
	})
}

// ConfigurePool applies the dialect's starting configuration, then opts, to
// db's connection pool.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	dialect := ""
	if db.Dialector != nil {
		dialect = db.Dialector.Name()
	}
	cfg := poolConfigFor(dialect)
	for _, opt := range opts {
		opt.applyPool(&cfg)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("jobs: configure pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	return nil
}
