package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds configuration for retrying an in-process operation.
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// Multiplier is applied to the wait after each attempt.
	Multiplier float64

	// JitterFraction randomizes each wait by ± this fraction (0.0 to 1.0).
	JitterFraction float64
}

// DefaultConfig is used for job status writes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Permanent marks err so Do returns it without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a Permanent error, or the attempts
// are exhausted. Context errors are never retried. The last error is returned.
func Do(ctx context.Context, cfg Config, op func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	expBo := backoff.NewExponentialBackOff()
	expBo.InitialInterval = cfg.InitialBackoff
	expBo.MaxInterval = cfg.MaxBackoff
	expBo.Multiplier = cfg.Multiplier
	expBo.RandomizationFactor = cfg.JitterFraction
	expBo.MaxElapsedTime = 0
	expBo.Reset()

	bo := backoff.WithContext(backoff.WithMaxRetries(expBo, uint64(cfg.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}
