package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jobs "github.com/jdziat/resilient-jobs"
)

// SleepPayload is the payload of the "sleep" job.
type SleepPayload struct {
	Seconds int `json:"seconds"`
}

// registerBuiltins registers the job types every jobsd node understands.
// They exist for smoke-testing a deployment end to end.
func registerBuiltins(p *jobs.Processor) {
	p.Register("echo", func(ctx context.Context, payload json.RawMessage) error {
		jobs.Logger(ctx).Info("echo", "payload", string(payload))
		return nil
	})

	p.Register("sleep", func(ctx context.Context, in SleepPayload) error {
		if in.Seconds < 0 {
			return jobs.NoRetry(fmt.Errorf("seconds must not be negative, got %d", in.Seconds))
		}
		for i := range in.Seconds {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			pct := (i + 1) * 100 / in.Seconds
			if err := jobs.UpdateProgress(ctx, pct, fmt.Sprintf("slept %ds", i+1)); err != nil {
				return err
			}
		}
		return nil
	})
}
