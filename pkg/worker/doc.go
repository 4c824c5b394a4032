// Package worker provides job execution for the jobs package.
//
// This package includes:
//   - Executor: runs one job's handler under a soft timeout, applies the
//     retry policy and records the status transition
//   - Dispatcher: takes the dispatcher lock, claims a batch of ready jobs and
//     runs them with bounded parallelism
//   - Scheduler: triggers dispatcher ticks and retention sweeps on a cron
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// which wires these together in jobs.New.
package worker
