package core

import (
	"context"
	"time"
)

// NotificationKind identifies why a notification was raised.
type NotificationKind string

const (
	NotifyJobFailed   NotificationKind = "job_failed"
	NotifyCircuitOpen NotificationKind = "circuit_open"
)

// Notification describes a condition an operator may want to hear about.
type Notification struct {
	Kind      NotificationKind
	JobID     string
	JobType   string
	ServiceID string
	Message   string
	Timestamp time.Time
}

// Notifier delivers notifications. Delivery is fire-and-forget from the
// caller's point of view.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
