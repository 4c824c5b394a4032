// Package queue provides the Queue orchestrator for the jobs package.
package queue

import (
	"time"

	"github.com/WatchBeam/clock"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/retry"
)

// Options holds configuration for job enqueueing and registration.
//
// Priority, Delay and RunAt apply to Enqueue. PolicyClass, Policy, Timeout
// and ServiceID apply to Register.
type Options struct {
	Priority    int
	Delay       time.Duration
	RunAt       *time.Time
	PolicyClass retry.Class
	Policy      *retry.Policy
	Timeout     time.Duration
	ServiceID   string
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Priority:    core.DefaultPriority,
		PolicyClass: retry.ClassDefault,
	}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// Priority sets the job priority (lower = runs first).
func Priority(p int) Option {
	return optionFunc(func(o *Options) {
		o.Priority = p
	})
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At schedules the job to run at a specific time. It takes precedence over Delay.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// WithPolicy selects one of the queue's named retry policies for a handler.
func WithPolicy(class retry.Class) Option {
	return optionFunc(func(o *Options) {
		o.PolicyClass = class
	})
}

// WithCustomPolicy gives a handler its own retry policy.
func WithCustomPolicy(p retry.Policy) Option {
	return optionFunc(func(o *Options) {
		o.Policy = &p
	})
}

// WithTimeout overrides the executor's soft timeout for a handler.
func WithTimeout(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Timeout = d
	})
}

// WithService runs a handler inside the circuit breaker for serviceID.
func WithService(serviceID string) Option {
	return optionFunc(func(o *Options) {
		o.ServiceID = serviceID
	})
}

// QueueOption configures a Queue.
type QueueOption interface {
	applyQueue(*Queue)
}

type queueOptionFunc func(*Queue)

func (f queueOptionFunc) applyQueue(q *Queue) { f(q) }

// WithClock sets the clock used for scheduling and event timestamps.
func WithClock(c clock.Clock) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		q.clock = c
	})
}

// WithPolicies replaces the named retry policies handlers can select.
func WithPolicies(ps retry.Policies) QueueOption {
	return queueOptionFunc(func(q *Queue) {
		q.policies = ps
	})
}
