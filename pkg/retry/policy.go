package retry

import (
	"fmt"
	"math"
	"time"
)

// Class names a retry policy.
type Class string

const (
	ClassDefault  Class = "default"
	ClassNetwork  Class = "network"
	ClassDatabase Class = "database"
)

// Policy configures how a failed job is retried.
type Policy struct {
	// MaxAttempts is the attempt ceiling, counting the first attempt.
	MaxAttempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// Multiplier grows the delay per attempt.
	Multiplier float64
	// MaxDelay caps the computed delay. Zero means uncapped.
	MaxDelay time.Duration
}

// Validate reports configuration that Delay cannot handle.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("retry: max attempts must be at least 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0:
		return fmt.Errorf("retry: base delay must not be negative, got %s", p.BaseDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("retry: multiplier must be at least 1, got %g", p.Multiplier)
	case p.MaxDelay < 0:
		return fmt.Errorf("retry: max delay must not be negative, got %s", p.MaxDelay)
	}
	return nil
}

// Delay returns BaseDelay * Multiplier^(attempt-1). Attempts are 1-indexed;
// anything below 1 is treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// ShouldRetry reports whether a job that has failed attempt times may run again.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// Delay is the function form of Policy.Delay.
func Delay(attempt int, p Policy) time.Duration {
	return p.Delay(attempt)
}

// ShouldRetry is the function form of Policy.ShouldRetry.
func ShouldRetry(attempt int, p Policy) bool {
	return p.ShouldRetry(attempt)
}

// Policies maps classes to policies.
type Policies map[Class]Policy

// DefaultPolicies returns the built-in classes.
func DefaultPolicies() Policies {
	return Policies{
		ClassDefault:  {MaxAttempts: 3, BaseDelay: 60 * time.Second, Multiplier: 2},
		ClassNetwork:  {MaxAttempts: 5, BaseDelay: 30 * time.Second, Multiplier: 2},
		ClassDatabase: {MaxAttempts: 3, BaseDelay: 5 * time.Second, Multiplier: 1.5},
	}
}

// For returns the policy for class, falling back to the default class.
func (ps Policies) For(class Class) Policy {
	if p, ok := ps[class]; ok {
		return p
	}
	if p, ok := ps[ClassDefault]; ok {
		return p
	}
	return DefaultPolicies()[ClassDefault]
}

// For returns the built-in policy for class.
func For(class Class) Policy {
	return DefaultPolicies().For(class)
}
