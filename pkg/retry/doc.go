// Package retry holds the retry policies applied to failed jobs and a small
// backoff helper for retrying store writes in-process.
//
// Policies are pure: Delay and ShouldRetry depend only on the attempt number
// and the policy, so they can be tested with table-driven cases.
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// and pick a policy class with jobs.WithPolicy().
package retry
