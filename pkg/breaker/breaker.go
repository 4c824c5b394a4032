package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jdziat/resilient-jobs/pkg/core"
)

// State is a breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Config configures one breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Timeout:          60 * time.Second,
	}
}

// Status is a point-in-time view of one breaker.
type Status struct {
	ServiceID     string     `json:"service_id"`
	State         State      `json:"state"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// Fallback produces a result in place of a short-circuited call.
type Fallback func(ctx context.Context, open *core.CircuitOpenError) (any, error)

// StateChangeFunc observes breaker transitions. It runs while the breaker
// is mid-transition and must not call back into the same breaker.
type StateChangeFunc func(serviceID string, from, to State)

// Option configures a Registry.
type Option interface {
	applyRegistry(*Registry)
}

type optionFunc func(*Registry)

func (f optionFunc) applyRegistry(r *Registry) { f(r) }

// WithDefaults sets the configuration used for services without their own.
func WithDefaults(cfg Config) Option {
	return optionFunc(func(r *Registry) {
		r.defaults = cfg
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Registry) {
		r.logger = l
	})
}

// Registry holds the breakers for all services.
type Registry struct {
	mu        sync.Mutex
	defaults  Config
	configs   map[string]Config
	breakers  map[string]*entry
	fallbacks map[string]Fallback
	listeners []StateChangeFunc
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		defaults:  DefaultConfig(),
		configs:   make(map[string]Config),
		breakers:  make(map[string]*entry),
		fallbacks: make(map[string]Fallback),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt.applyRegistry(r)
	}
	return r
}

// entry pairs a gobreaker instance with the bookkeeping it does not expose:
// gobreaker clears its counts when it opens, but Status reports the failure
// streak and when the next probe is allowed.
type entry struct {
	serviceID string
	cb        *gobreaker.CircuitBreaker[any]

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	nextAttempt time.Time
}

func (e *entry) recordFailure(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures++
	e.lastFailure = now
}

func (e *entry) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = 0
	e.nextAttempt = time.Time{}
}

func (e *entry) retryAt(now time.Time) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nextAttempt.After(now) {
		return e.nextAttempt
	}
	return now
}

func (e *entry) status() Status {
	// State() first: it may move open to half-open, which updates nextAttempt.
	state := fromGobreaker(e.cb.State())

	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{ServiceID: e.serviceID, State: state, FailureCount: e.failures}
	if !e.lastFailure.IsZero() {
		t := e.lastFailure
		st.LastFailureAt = &t
	}
	if state == StateOpen && !e.nextAttempt.IsZero() {
		t := e.nextAttempt
		st.NextAttemptAt = &t
	}
	return st
}

// isCancelled reports a call we abandoned ourselves (shutdown). The
// dependency never answered, so it is neither a success nor a failure.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func (r *Registry) newEntry(serviceID string, cfg Config) *entry {
	e := &entry{serviceID: serviceID}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}
	timeout := cfg.Timeout

	e.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        serviceID,
		MaxRequests: 1, // exactly one half-open probe
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		IsExcluded: isCancelled,
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				e.mu.Lock()
				e.nextAttempt = time.Now().Add(timeout)
				e.mu.Unlock()
			}
			r.stateChanged(name, fromGobreaker(from), fromGobreaker(to))
		},
	})
	return e
}

func (r *Registry) stateChanged(serviceID string, from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "circuit breaker state change",
		"service", serviceID, "from", string(from), "to", string(to))

	r.mu.Lock()
	listeners := make([]StateChangeFunc, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(serviceID, from, to)
	}
}

func (r *Registry) get(serviceID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.breakers[serviceID]; ok {
		return e
	}
	cfg, ok := r.configs[serviceID]
	if !ok {
		cfg = r.defaults
	}
	e := r.newEntry(serviceID, cfg)
	r.breakers[serviceID] = e
	return e
}

// Configure sets the configuration for one service. An existing breaker for
// the service is replaced and starts closed.
func (r *Registry) Configure(serviceID string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[serviceID] = cfg
	delete(r.breakers, serviceID)
}

// RegisterFallback installs fn as the result of calls short-circuited for serviceID.
func (r *Registry) RegisterFallback(serviceID string, fn Fallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[serviceID] = fn
}

// OnStateChange registers a transition observer.
func (r *Registry) OnStateChange(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Execute runs op through serviceID's breaker. When the breaker is open, or
// its half-open probe is already in flight, op is not called and Execute
// returns *core.CircuitOpenError, or the fallback's result if one is
// registered. Otherwise op's own result and error are returned after being
// recorded.
func (r *Registry) Execute(ctx context.Context, serviceID string, op func(ctx context.Context) (any, error)) (any, error) {
	e := r.get(serviceID)

	res, err := e.cb.Execute(func() (any, error) {
		return op(ctx)
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		openErr := &core.CircuitOpenError{ServiceID: serviceID, RetryAt: e.retryAt(time.Now())}
		r.mu.Lock()
		fb := r.fallbacks[serviceID]
		r.mu.Unlock()
		if fb != nil {
			return fb(ctx, openErr)
		}
		return nil, openErr
	case isCancelled(err):
		return res, err
	case err != nil:
		e.recordFailure(time.Now())
		return res, err
	default:
		e.recordSuccess()
		return res, err
	}
}

// Do is a typed wrapper around Registry.Execute.
func Do[T any](ctx context.Context, r *Registry, serviceID string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	res, err := r.Execute(ctx, serviceID, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if res == nil {
		return zero, err
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("breaker: %s returned %T, want %T", serviceID, res, zero)
	}
	return v, err
}

// Status reports the breaker for serviceID. Services never called report closed.
func (r *Registry) Status(serviceID string) Status {
	r.mu.Lock()
	e, ok := r.breakers[serviceID]
	r.mu.Unlock()
	if !ok {
		return Status{ServiceID: serviceID, State: StateClosed}
	}
	return e.status()
}

// Statuses reports every known breaker, sorted by service id.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.breakers))
	for _, e := range r.breakers {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// Reset returns serviceID's breaker to closed with no recorded failures.
func (r *Registry) Reset(serviceID string) {
	r.mu.Lock()
	e, ok := r.breakers[serviceID]
	delete(r.breakers, serviceID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if prev := fromGobreaker(e.cb.State()); prev != StateClosed {
		r.stateChanged(serviceID, prev, StateClosed)
	}
}
