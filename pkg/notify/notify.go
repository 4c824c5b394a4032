package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

// Func adapts a function to core.Notifier.
type Func func(ctx context.Context, n core.Notification) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, n core.Notification) error {
	return f(ctx, n)
}

// Log writes notifications to a slog logger at warn level.
type Log struct {
	Logger *slog.Logger
}

// NewLog returns a Log notifier. A nil logger uses slog.Default().
func NewLog(l *slog.Logger) *Log {
	if l == nil {
		l = slog.Default()
	}
	return &Log{Logger: l}
}

// Notify logs n.
func (l *Log) Notify(ctx context.Context, n core.Notification) error {
	attrs := []any{"kind", string(n.Kind), "timestamp", n.Timestamp}
	if n.JobID != "" {
		attrs = append(attrs, "job_id", n.JobID, "job_type", n.JobType)
	}
	if n.ServiceID != "" {
		attrs = append(attrs, "service", n.ServiceID)
	}
	l.Logger.WarnContext(ctx, n.Message, attrs...)
	return nil
}

// Multi delivers to every notifier in order. All are tried; their errors are
// combined.
type Multi []core.Notifier

// Notify delivers n to each notifier.
func (m Multi) Notify(ctx context.Context, n core.Notification) error {
	var result *multierror.Error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Async delivers on a background goroutine so a slow channel never holds up a
// worker. Delivery errors are logged.
type Async struct {
	next   core.Notifier
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAsync wraps next. A nil logger uses slog.Default().
func NewAsync(next core.Notifier, l *slog.Logger) *Async {
	if l == nil {
		l = slog.Default()
	}
	return &Async{next: next, logger: l}
}

// Notify starts delivery and returns immediately.
func (a *Async) Notify(ctx context.Context, n core.Notification) error {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.next.Notify(ctx, n); err != nil {
			a.logger.Error("notification delivery failed",
				"kind", string(n.Kind), "job_id", n.JobID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}

var (
	_ core.Notifier = Func(nil)
	_ core.Notifier = (*Log)(nil)
	_ core.Notifier = Multi(nil)
	_ core.Notifier = (*Async)(nil)
)
