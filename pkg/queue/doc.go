// Package queue provides the Queue type for job orchestration.
//
// This package includes:
//   - Queue: handler registry and producer API (Enqueue, Cancel, GetJob)
//   - Option: per-job scheduling and per-handler retry, timeout and breaker settings
//   - Hook registration for job lifecycle events
//   - Event subscription for monitoring
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// which re-exports Queue and all option functions.
package queue
