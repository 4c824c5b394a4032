package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jdziat/resilient-jobs/pkg/storage"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the process configuration of a jobs node.
type Config struct {
	DBDriver string `env:"JOBS_DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"JOBS_DB_DSN" envDefault:"jobs.db"`

	// RedisAddr switches the dispatcher lock to Redis when set.
	RedisAddr     string `env:"JOBS_REDIS_ADDR"`
	RedisPassword string `env:"JOBS_REDIS_PASSWORD"`

	HTTPAddr string `env:"JOBS_HTTP_ADDR" envDefault:":8080"`

	MaxConcurrent int           `env:"JOBS_MAX_CONCURRENT" envDefault:"3"`
	Workers       int           `env:"JOBS_WORKERS" envDefault:"1"`
	TickInterval  time.Duration `env:"JOBS_TICK_INTERVAL" envDefault:"10s"`
	SweepInterval time.Duration `env:"JOBS_SWEEP_INTERVAL" envDefault:"1h"`
	LockTTL       time.Duration `env:"JOBS_LOCK_TTL" envDefault:"300s"`
	JobTimeout    time.Duration `env:"JOBS_JOB_TIMEOUT" envDefault:"300s"`
	Retention     time.Duration `env:"JOBS_RETENTION" envDefault:"168h"`

	BreakerThreshold uint32        `env:"JOBS_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerTimeout   time.Duration `env:"JOBS_BREAKER_TIMEOUT" envDefault:"60s"`

	StatusCacheTTL time.Duration `env:"JOBS_STATUS_CACHE_TTL" envDefault:"2s"`

	LogLevel  string `env:"JOBS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"JOBS_LOG_FORMAT" envDefault:"text"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, c.Validate()
}

// FromMap reads the configuration from the given variables instead of the
// process environment.
func FromMap(vars map[string]string) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, env.Options{Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, c.Validate()
}

// Validate rejects values the node cannot run with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported JOBS_DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("config: JOBS_DB_DSN is required")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("config: JOBS_MAX_CONCURRENT must be at least 1")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: JOBS_WORKERS must be at least 1")
	}
	if c.LockTTL <= 0 || c.JobTimeout <= 0 {
		return fmt.Errorf("config: JOBS_LOCK_TTL and JOBS_JOB_TIMEOUT must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unsupported JOBS_LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: invalid JOBS_LOG_LEVEL %q", s)
	}
	return lvl, nil
}

// NewLogger builds the process logger writing to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// OpenDB opens the configured database and sizes its connection pool.
func (c Config) OpenDB() (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch c.DBDriver {
	case DriverPostgres:
		dialector = postgres.Open(c.DBDSN)
	case DriverSQLite:
		dialector = sqlite.Open(c.DBDSN)
	default:
		return nil, fmt.Errorf("config: unsupported JOBS_DB_DRIVER %q", c.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", c.DBDriver, err)
	}
	if err := storage.ConfigurePool(db, storage.ForWorkers(c.Workers)); err != nil {
		return nil, err
	}
	return db, nil
}

// RedisClient returns a client for JOBS_REDIS_ADDR, or nil when Redis is not
// configured.
func (c Config) RedisClient() *redis.Client {
	if c.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
	})
}
