// Package security provides validation, sanitization, and limits for the jobs package.
//
// This package includes:
//   - Input validation for job type names, lock names, payloads and progress
//   - Error message sanitization before messages are persisted
//   - Clamping functions that bound attempts and concurrency
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// which re-exports the commonly used limits.
package security
