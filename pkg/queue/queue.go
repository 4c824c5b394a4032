package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/WatchBeam/clock"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/internal/handler"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/security"
)

// Registration is everything the executor needs to run one job type.
type Registration struct {
	Type      string
	Handler   *handler.Handler
	Policy    retry.Policy
	Timeout   time.Duration
	ServiceID string
}

// Queue manages handler registration, enqueueing and lifecycle notifications.
type Queue struct {
	storage  core.Storage
	clock    clock.Clock
	policies retry.Policies
	handlers map[string]*Registration
	mu       sync.RWMutex

	// Hooks
	onStart    []func(context.Context, *core.Job)
	onComplete []func(context.Context, *core.Job)
	onFail     []func(context.Context, *core.Job, error)
	onRetry    []func(context.Context, *core.Job, int, error)
	onProgress []func(context.Context, *core.Job, int, string)

	// Event stream
	eventSubs []chan core.Event
}

// New creates a new Queue with the given storage backend.
func New(s core.Storage, opts ...QueueOption) *Queue {
	q := &Queue{
		storage:  s,
		clock:    clock.C,
		policies: retry.DefaultPolicies(),
		handlers: make(map[string]*Registration),
	}
	for _, opt := range opts {
		opt.applyQueue(q)
	}
	return q
}

// Register registers a job handler function.
// The function must have signature func(ctx context.Context, payload T) error
// or func(ctx context.Context) error.
// Job type names must be alphanumeric (starting with a letter), max 255 chars.
// Register panics on an invalid name, an invalid handler, an invalid retry
// policy or a type that is already registered.
func (q *Queue) Register(name string, fn any, opts ...Option) {
	if err := security.ValidateJobTypeName(name); err != nil {
		panic(fmt.Sprintf("jobs: invalid handler name %q: %v", name, err))
	}

	h, err := handler.NewHandler(fn)
	if err != nil {
		panic(fmt.Sprintf("jobs: handler for %q: %v", name, err))
	}

	o := NewOptions()
	for _, opt := range opts {
		opt.Apply(o)
	}

	policy := q.policies.For(o.PolicyClass)
	if o.Policy != nil {
		policy = *o.Policy
	}
	if err := policy.Validate(); err != nil {
		panic(fmt.Sprintf("jobs: retry policy for %q: %v", name, err))
	}
	if o.Timeout < 0 {
		panic(fmt.Sprintf("jobs: timeout for %q must not be negative", name))
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[name]; exists {
		panic(fmt.Sprintf("%v: %q", core.ErrDuplicateHandler, name))
	}
	q.handlers[name] = &Registration{
		Type:      name,
		Handler:   h,
		Policy:    policy,
		Timeout:   o.Timeout,
		ServiceID: o.ServiceID,
	}
}

// HasHandler checks if a handler is registered.
func (q *Queue) HasHandler(name string) bool {
	_, ok := q.Lookup(name)
	return ok
}

// Lookup returns the registration for a job type.
func (q *Queue) Lookup(name string) (*Registration, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	r, ok := q.handlers[name]
	return r, ok
}

// Types returns the registered job types in sorted order.
func (q *Queue) Types() []string {
	q.mu.RLock()
	types := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		types = append(types, name)
	}
	q.mu.RUnlock()
	sort.Strings(types)
	return types
}

// Enqueue persists a new job and returns its id. The payload is encoded as
// JSON unless it is already a json.RawMessage. The job's attempt ceiling is
// taken from the handler's retry policy.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts ...Option) (string, error) {
	reg, ok := q.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w for %q", core.ErrHandlerMissing, name)
	}

	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	var payloadBytes []byte
	switch p := payload.(type) {
	case json.RawMessage:
		payloadBytes = p
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("jobs: failed to marshal payload: %w", err)
		}
		payloadBytes = b
	}
	if err := security.ValidatePayload(payloadBytes); err != nil {
		return "", err
	}

	job := &core.Job{
		Type:        name,
		Payload:     payloadBytes,
		Priority:    options.Priority,
		MaxAttempts: security.ClampAttempts(reg.Policy.MaxAttempts),
		Status:      core.StatusQueued,
	}

	switch {
	case options.RunAt != nil:
		job.ScheduledAt = options.RunAt.UTC()
	case options.Delay > 0:
		job.ScheduledAt = q.clock.Now().Add(options.Delay).UTC()
	}

	if err := q.storage.Enqueue(ctx, job); err != nil {
		return "", fmt.Errorf("jobs: failed to enqueue: %w", err)
	}
	return job.ID, nil
}

// Cancel moves a job that has not been claimed yet to cancelled. It reports
// false, with no error, for a job that is running or already finished, so
// repeated calls are harmless.
func (q *Queue) Cancel(ctx context.Context, jobID string) (bool, error) {
	ok, err := q.storage.Cancel(ctx, jobID)
	if err != nil || !ok {
		return ok, err
	}
	q.Emit(&core.JobCancelled{JobID: jobID, Timestamp: q.clock.Now()})
	return true, nil
}

// GetJob returns a job by id, or core.ErrNotFound.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	return q.storage.GetJob(ctx, jobID)
}

// Storage returns the underlying storage.
func (q *Queue) Storage() core.Storage {
	return q.storage
}

// Clock returns the queue's clock.
func (q *Queue) Clock() clock.Clock {
	return q.clock
}

// OnJobStart registers a callback for when a job starts.
func (q *Queue) OnJobStart(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onStart = append(q.onStart, fn)
	q.mu.Unlock()
}

// OnJobComplete registers a callback for when a job completes successfully.
func (q *Queue) OnJobComplete(fn func(context.Context, *core.Job)) {
	q.mu.Lock()
	q.onComplete = append(q.onComplete, fn)
	q.mu.Unlock()
}

// OnJobFail registers a callback for when a job fails permanently.
func (q *Queue) OnJobFail(fn func(context.Context, *core.Job, error)) {
	q.mu.Lock()
	q.onFail = append(q.onFail, fn)
	q.mu.Unlock()
}

// OnRetry registers a callback for when a job is rescheduled.
func (q *Queue) OnRetry(fn func(context.Context, *core.Job, int, error)) {
	q.mu.Lock()
	q.onRetry = append(q.onRetry, fn)
	q.mu.Unlock()
}

// OnProgress registers a callback for handler progress reports.
func (q *Queue) OnProgress(fn func(context.Context, *core.Job, int, string)) {
	q.mu.Lock()
	q.onProgress = append(q.onProgress, fn)
	q.mu.Unlock()
}

// Events returns a channel for receiving queue events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (q *Queue) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	q.mu.Lock()
	q.eventSubs = append(q.eventSubs, ch)
	q.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
// The channel is not closed; callers must stop reading before calling Unsubscribe.
func (q *Queue) Unsubscribe(ch <-chan core.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, sub := range q.eventSubs {
		if sub == ch {
			q.eventSubs = append(q.eventSubs[:i], q.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit emits an event to all subscribers. Full subscribers miss the event.
func (q *Queue) Emit(e core.Event) {
	q.mu.RLock()
	subs := make([]chan core.Event, len(q.eventSubs))
	copy(subs, q.eventSubs)
	q.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// CallStartHooks calls all registered start hooks.
func (q *Queue) CallStartHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onStart))
	copy(hooks, q.onStart)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallCompleteHooks calls all registered complete hooks.
func (q *Queue) CallCompleteHooks(ctx context.Context, job *core.Job) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job), len(q.onComplete))
	copy(hooks, q.onComplete)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job)
	}
}

// CallFailHooks calls all registered fail hooks.
func (q *Queue) CallFailHooks(ctx context.Context, job *core.Job, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, error), len(q.onFail))
	copy(hooks, q.onFail)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, err)
	}
}

// CallRetryHooks calls all registered retry hooks.
func (q *Queue) CallRetryHooks(ctx context.Context, job *core.Job, attempt int, err error) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, error), len(q.onRetry))
	copy(hooks, q.onRetry)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, attempt, err)
	}
}

// CallProgressHooks calls all registered progress hooks.
func (q *Queue) CallProgressHooks(ctx context.Context, job *core.Job, progress int, message string) {
	q.mu.RLock()
	hooks := make([]func(context.Context, *core.Job, int, string), len(q.onProgress))
	copy(hooks, q.onProgress)
	q.mu.RUnlock()

	for _, fn := range hooks {
		fn(ctx, job, progress, message)
	}
}
