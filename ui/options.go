// Package ui provides an embeddable JSON admin API for inspecting and
// steering jobs.
package ui

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/jdziat/resilient-jobs/pkg/breaker"
	"github.com/jdziat/resilient-jobs/pkg/status"
)

// Option configures the UI handler.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	ctx            context.Context
	middleware     func(http.Handler) http.Handler
	tracker        *status.Tracker
	breakers       *breaker.Registry
	statsStorage   StatsStorage
	statsRetention time.Duration
	logger         *slog.Logger
}

// WithMiddleware wraps the handler with middleware (auth, logging, etc.).
func WithMiddleware(mw func(http.Handler) http.Handler) Option {
	return optionFunc(func(c *config) {
		c.middleware = mw
	})
}

// WithTracker serves job lookups through an existing tracker. Without it the
// handler builds one and attaches it to the queue.
func WithTracker(t *status.Tracker) Option {
	return optionFunc(func(c *config) {
		c.tracker = t
	})
}

// WithBreakers exposes the circuit breaker registry.
func WithBreakers(r *breaker.Registry) Option {
	return optionFunc(func(c *config) {
		c.breakers = r
	})
}

// WithStatsStorage sets where history is read from. The handler does not start
// a collector for a storage passed this way.
func WithStatsStorage(s StatsStorage) Option {
	return optionFunc(func(c *config) {
		c.statsStorage = s
	})
}

// WithStatsRetention sets how long stats rows are kept. Default: 7 days.
func WithStatsRetention(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.statsRetention = d
	})
}

// WithContext provides a lifecycle context for background goroutines (e.g. stats collector).
// When cancelled, background workers flush and exit gracefully.
// If not provided, context.Background() is used (goroutines run until process exit).
func WithContext(ctx context.Context) Option {
	return optionFunc(func(c *config) {
		c.ctx = ctx
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *config) {
		c.logger = l
	})
}
