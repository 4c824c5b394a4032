// Package context provides context helpers for the jobs package.
package context

import (
	"context"
	"log/slog"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the running job and the hooks a handler may call back into.
type JobContext struct {
	Job      *core.Job
	WorkerID string
	// Progress persists a progress report for Job. Nil outside a dispatcher.
	Progress func(ctx context.Context, progress int, message string) error
	Logger   *slog.Logger
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}
