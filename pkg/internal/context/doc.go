// Package context provides internal context helpers for job execution.
//
// This package is internal and should not be imported directly. It carries
// the running job, the claiming worker and the progress callback from the
// executor down to handler code.
package context
