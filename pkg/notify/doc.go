// Package notify provides core.Notifier implementations: a slog sink, a
// function adapter, fan-out to several notifiers, and asynchronous delivery.
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// instead of this package directly.
package notify
