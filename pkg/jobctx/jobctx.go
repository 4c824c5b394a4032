// Package jobctx provides public access to job context for handlers.
package jobctx

import (
	"context"
	"log/slog"

	"github.com/jdziat/resilient-jobs/pkg/core"
	intctx "github.com/jdziat/resilient-jobs/pkg/internal/context"
	"github.com/jdziat/resilient-jobs/pkg/security"
)

// JobFromContext returns the current Job from context, or nil if not in a job handler.
// Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *core.Job {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}

// AttemptFromContext returns the 1-based attempt number of the running job,
// or 0 outside a handler.
func AttemptFromContext(ctx context.Context) int {
	job := JobFromContext(ctx)
	if job == nil {
		return 0
	}
	return job.Attempts + 1
}

// UpdateProgress records how far the running job has got. Progress must be
// within [0, 100]. Outside a job handler it is a no-op.
//
// The report is persisted immediately so pollers see it while the handler is
// still running.
func UpdateProgress(ctx context.Context, progress int, message string) error {
	if err := security.ValidateProgress(progress); err != nil {
		return err
	}
	jc := intctx.GetJobContext(ctx)
	if jc == nil || jc.Progress == nil {
		return nil
	}
	return jc.Progress(ctx, progress, message)
}

// Logger returns a logger annotated with the running job, or slog.Default
// outside a handler.
func Logger(ctx context.Context) *slog.Logger {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return slog.Default()
	}
	l := jc.Logger
	if l == nil {
		l = slog.Default()
	}
	if jc.Job == nil {
		return l
	}
	return l.With("job_id", jc.Job.ID, "job_type", jc.Job.Type, "attempt", jc.Job.Attempts+1)
}
