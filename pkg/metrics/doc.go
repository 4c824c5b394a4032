// Package metrics exposes prometheus collectors for job processing:
// executor outcomes and durations, dispatcher ticks, queue depth per status
// and circuit breaker state.
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// and pass a prometheus.Registerer with jobs.WithMetrics.
package metrics
