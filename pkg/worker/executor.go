package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/resilient-jobs/pkg/breaker"
	"github.com/jdziat/resilient-jobs/pkg/core"
	intctx "github.com/jdziat/resilient-jobs/pkg/internal/context"
	"github.com/jdziat/resilient-jobs/pkg/queue"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/security"
)

// OutcomeKind classifies what Execute did with a job.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeRetrying  OutcomeKind = "retrying"
	OutcomeFailed    OutcomeKind = "failed"
	// OutcomeDeferred means the job was rescheduled without using an attempt:
	// its breaker was open, or the dispatcher was shutting down.
	OutcomeDeferred OutcomeKind = "deferred"
	// OutcomeError means the final status could not be written. The job stays
	// processing until RequeueStale picks it up.
	OutcomeError OutcomeKind = "error"
	// OutcomeSkipped means the job was already terminal and was left alone.
	OutcomeSkipped OutcomeKind = "skipped"
)

// Outcome is the result of running one job.
type Outcome struct {
	JobID     string
	Type      string
	Kind      OutcomeKind
	Attempts  int
	Err       error
	NextRunAt time.Time
	Duration  time.Duration
}

// Executor runs a single job's handler and records the result.
type Executor struct {
	queue  *queue.Queue
	config WorkerConfig
	logger *slog.Logger
}

// NewExecutor creates an executor for handlers registered on q.
func NewExecutor(q *queue.Queue, opts ...WorkerOption) *Executor {
	config := defaultConfig()
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	return newExecutor(q, config)
}

func newExecutor(q *queue.Queue, config WorkerConfig) *Executor {
	e := &Executor{
		queue:  q,
		config: config,
		logger: config.Logger.With("component", "executor"),
	}
	if config.Breakers != nil {
		config.Breakers.OnStateChange(e.breakerStateChanged)
	}
	return e
}

func (e *Executor) storage() core.Storage { return e.queue.Storage() }

// Execute runs job to a status transition. Handler failures, timeouts and
// panics are reported in the Outcome; Execute itself never fails. Terminal
// jobs are never run again.
func (e *Executor) Execute(ctx context.Context, job *core.Job) Outcome {
	start := e.config.Clock.Now()
	out := Outcome{JobID: job.ID, Type: job.Type, Attempts: job.Attempts}

	if job.Status.IsTerminal() {
		out.Kind = OutcomeSkipped
		out.Err = fmt.Errorf("%w: job is %s", core.ErrNotRunning, job.Status)
		return out
	}

	if job.Status != core.StatusProcessing {
		err := e.write(ctx, func(ctx context.Context) error {
			return e.storage().UpdateStatus(ctx, job.ID, core.StatusProcessing, 0, "processing")
		})
		if err != nil {
			e.logger.Error("failed to mark job processing", "job_id", job.ID, "error", err)
			out.Kind, out.Err = OutcomeError, err
			return out
		}
		job.Status = core.StatusProcessing
		job.Progress = 0
	}

	e.queue.CallStartHooks(ctx, job)
	e.queue.Emit(&core.JobStarted{Job: job, Timestamp: start})

	reg, ok := e.queue.Lookup(job.Type)
	var err error
	if !ok {
		err = fmt.Errorf("%w for %q", core.ErrHandlerMissing, job.Type)
	} else {
		err = e.invoke(ctx, job, reg)
	}
	out.Duration = e.config.Clock.Now().Sub(start)

	if err == nil {
		e.complete(ctx, job, &out)
	} else {
		e.handleError(ctx, job, reg, err, &out)
	}

	e.config.Metrics.ObserveJob(job.Type, string(out.Kind), out.Duration)
	return out
}

// invoke runs the handler under the soft timeout, through the job's breaker
// when it names a service.
func (e *Executor) invoke(ctx context.Context, job *core.Job, reg *queue.Registration) error {
	// The handler gets its own copy: an abandoned handler must not race with
	// the status bookkeeping below.
	hjob := *job
	jc := &intctx.JobContext{
		Job:      &hjob,
		WorkerID: e.config.WorkerID,
		Progress: e.progressFunc(job),
		Logger:   e.config.Logger,
	}
	jobCtx := intctx.WithJobContext(ctx, jc)

	timeout := reg.Timeout
	if timeout <= 0 {
		timeout = e.config.JobTimeout
	}
	run := func(ctx context.Context) error {
		return runWithTimeout(ctx, timeout, func(ctx context.Context) error {
			return reg.Handler.Execute(ctx, hjob.Payload)
		})
	}

	if reg.ServiceID == "" || e.config.Breakers == nil {
		return run(jobCtx)
	}
	_, err := e.config.Breakers.Execute(jobCtx, reg.ServiceID, func(ctx context.Context) (any, error) {
		return nil, run(ctx)
	})
	return err
}

// runWithTimeout runs fn on its own goroutine and stops waiting for it at the
// deadline. fn sees a cancelled context but is not otherwise interrupted.
func runWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		// fn may notice the deadline and return before the select does.
		if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", core.ErrTimeoutExceeded, timeout)
		}
		return err
	case <-tctx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", core.ErrTimeoutExceeded, timeout)
	}
}

func (e *Executor) progressFunc(job *core.Job) func(context.Context, int, string) error {
	return func(ctx context.Context, progress int, message string) error {
		if err := e.storage().UpdateProgress(ctx, job.ID, progress, message); err != nil {
			return err
		}
		e.queue.CallProgressHooks(ctx, job, progress, message)
		e.queue.Emit(&core.JobProgress{
			JobID:     job.ID,
			Progress:  progress,
			Message:   message,
			Timestamp: e.config.Clock.Now(),
		})
		return nil
	}
}

func (e *Executor) complete(ctx context.Context, job *core.Job, out *Outcome) {
	err := e.write(ctx, func(ctx context.Context) error {
		return e.storage().MarkCompleted(ctx, job.ID)
	})
	if err != nil {
		e.logger.Error("failed to complete job after retries", "job_id", job.ID, "error", err)
		out.Kind, out.Err = OutcomeError, err
		return
	}

	job.Status = core.StatusCompleted
	job.Progress = 100
	job.Message = "completed"
	out.Kind = OutcomeCompleted

	e.logger.Info("job completed", "job_id", job.ID, "type", job.Type, "duration", out.Duration)
	e.queue.CallCompleteHooks(ctx, job)
	e.queue.Emit(&core.JobCompleted{Job: job, Duration: out.Duration, Timestamp: e.config.Clock.Now()})
}

func (e *Executor) handleError(ctx context.Context, job *core.Job, reg *queue.Registration, err error, out *Outcome) {
	policy := retry.For(retry.ClassDefault)
	if reg != nil {
		policy = reg.Policy
	}
	out.Err = err

	if core.IsCircuitOpen(err) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		e.reschedule(ctx, job, policy, err, out)
		return
	}

	attempts := job.Attempts + 1
	out.Attempts = attempts
	msg := failureMessage(err)
	herr := &core.HandlerError{JobID: job.ID, Type: job.Type, Attempt: attempts, Err: err}

	// The row's ceiling was fixed at enqueue; later policy changes do not
	// extend jobs already in flight.
	if job.MaxAttempts > 0 {
		policy.MaxAttempts = job.MaxAttempts
	}

	var noRetry *core.NoRetryError
	permanent := errors.Is(err, core.ErrHandlerMissing) || errors.As(err, &noRetry)

	if !permanent && policy.ShouldRetry(attempts) {
		delay := policy.Delay(attempts)
		var ra *core.RetryAfterError
		if errors.As(err, &ra) {
			delay = ra.Delay
		}
		werr := e.write(ctx, func(ctx context.Context) error {
			return e.storage().MarkRetry(ctx, job.ID, attempts, delay, msg)
		})
		if werr != nil {
			e.logger.Error("failed to schedule retry after retries", "job_id", job.ID, "error", werr)
			out.Kind = OutcomeError
			return
		}

		now := e.config.Clock.Now()
		job.Status = core.StatusRetrying
		job.Attempts = attempts
		job.LastError = msg
		out.Kind = OutcomeRetrying
		out.NextRunAt = now.Add(delay)

		e.logger.Warn("job failed, retry scheduled",
			"job_id", job.ID, "type", job.Type, "attempt", attempts,
			"max_attempts", policy.MaxAttempts, "delay", delay, "error", msg)
		e.queue.CallRetryHooks(ctx, job, attempts, herr)
		e.queue.Emit(&core.JobRetrying{Job: job, Attempt: attempts, Error: herr, NextRunAt: out.NextRunAt, Timestamp: now})
		return
	}

	werr := e.write(ctx, func(ctx context.Context) error {
		return e.storage().MarkFailed(ctx, job.ID, attempts, msg)
	})
	if werr != nil {
		e.logger.Error("failed to mark job as failed after retries", "job_id", job.ID, "error", werr)
		out.Kind = OutcomeError
		return
	}

	job.Status = core.StatusFailed
	job.Attempts = attempts
	job.LastError = msg
	out.Kind = OutcomeFailed

	e.logger.Error("job failed permanently",
		"job_id", job.ID, "type", job.Type, "attempt", attempts, "error", msg)
	e.queue.CallFailHooks(ctx, job, herr)
	e.queue.Emit(&core.JobFailed{Job: job, Error: herr, Timestamp: e.config.Clock.Now()})
	e.notify(ctx, core.Notification{
		Kind:    core.NotifyJobFailed,
		JobID:   job.ID,
		JobType: job.Type,
		Message: msg,
	})
}

// reschedule puts a job back without using an attempt. An open circuit pushes
// the job out to at least the breaker's next probe.
func (e *Executor) reschedule(ctx context.Context, job *core.Job, policy retry.Policy, err error, out *Outcome) {
	now := e.config.Clock.Now()
	var delay time.Duration
	msg := "interrupted"

	var open *core.CircuitOpenError
	if errors.As(err, &open) {
		delay = policy.Delay(job.Attempts)
		// RetryAt comes from the breaker, which runs on wall time.
		if wait := time.Until(open.RetryAt); wait > delay {
			delay = wait
		}
		msg = err.Error()
	}

	werr := e.write(ctx, func(ctx context.Context) error {
		return e.storage().MarkRetry(ctx, job.ID, job.Attempts, delay, msg)
	})
	if werr != nil {
		e.logger.Error("failed to reschedule job after retries", "job_id", job.ID, "error", werr)
		out.Kind = OutcomeError
		return
	}

	job.Status = core.StatusRetrying
	out.Kind = OutcomeDeferred
	out.NextRunAt = now.Add(delay)
	e.logger.Info("job deferred", "job_id", job.ID, "type", job.Type, "delay", delay, "reason", msg)
}

// write runs a status write with bounded retries. It outlives ctx so a job
// that finished during shutdown still records its result.
func (e *Executor) write(ctx context.Context, fn func(context.Context) error) error {
	wctx := context.WithoutCancel(ctx)
	return retry.Do(wctx, e.config.StorageRetry, func() error {
		err := fn(wctx)
		if errors.Is(err, core.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (e *Executor) notify(ctx context.Context, n core.Notification) {
	if e.config.Notifier == nil {
		return
	}
	n.Timestamp = e.config.Clock.Now()
	if err := e.config.Notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		e.logger.Warn("notification failed", "kind", n.Kind, "job_id", n.JobID, "error", err)
	}
}

func (e *Executor) breakerStateChanged(serviceID string, from, to breaker.State) {
	e.config.Metrics.SetBreakerState(serviceID, string(to))
	e.queue.Emit(&core.CircuitStateChanged{
		ServiceID: serviceID,
		From:      string(from),
		To:        string(to),
		Timestamp: e.config.Clock.Now(),
	})
	if to == breaker.StateOpen {
		e.notify(context.Background(), core.Notification{
			Kind:      core.NotifyCircuitOpen,
			ServiceID: serviceID,
			Message:   fmt.Sprintf("circuit opened for %s", serviceID),
		})
	}
}

// failureMessage is what a failed job reports to pollers.
func failureMessage(err error) string {
	if errors.Is(err, core.ErrTimeoutExceeded) {
		return "timed out"
	}
	return security.SanitizeErrorMessage(err.Error())
}
