// Package core provides the domain models and interfaces for the jobs package.
package core

import (
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusRetrying   JobStatus = "retrying"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled" // Terminated before it was claimed
)

// DefaultPriority is used when a job is enqueued without an explicit priority.
const DefaultPriority = 10

// ReadyStatuses are the statuses a dispatcher may claim.
var ReadyStatuses = []JobStatus{StatusQueued, StatusRetrying}

// TerminalStatuses are never reprocessed.
var TerminalStatuses = []JobStatus{StatusCompleted, StatusFailed, StatusCancelled}

// IsTerminal reports whether a job in this status will never run again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsReady reports whether a job in this status can be claimed.
func (s JobStatus) IsReady() bool {
	return s == StatusQueued || s == StatusRetrying
}

// Job represents a unit of deferred work.
type Job struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Type        string     `gorm:"index;size:255;not null" json:"type"`
	Payload     []byte     `gorm:"type:bytes" json:"-"`
	Priority    int        `gorm:"index:idx_jobs_ready,priority:2;not null" json:"priority"`
	Status      JobStatus  `gorm:"index:idx_jobs_ready,priority:1;size:20;default:'queued'" json:"status"`
	Attempts    int        `gorm:"default:0" json:"attempts"`
	MaxAttempts int        `gorm:"default:3" json:"max_attempts"`
	ScheduledAt time.Time  `gorm:"index:idx_jobs_ready,priority:3;not null" json:"scheduled_at"`
	Progress    int        `gorm:"default:0" json:"progress"`
	Message     string     `gorm:"type:text" json:"message,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	ClaimedBy   string     `gorm:"size:64" json:"-"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `gorm:"index" json:"updated_at"`
}

// Lock is a named, expiring mutual-exclusion row shared by all nodes.
type Lock struct {
	Key        string    `gorm:"primaryKey;column:name;size:191"`
	OwnerToken string    `gorm:"size:64;not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	// Version is bumped on every acquire, takeover and extend. Takeovers
	// compare it together with the owner they read.
	Version   int64 `gorm:"not null;default:1"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName keeps locks out of the way of a host's own "locks" table.
func (Lock) TableName() string { return "job_locks" }

// Alive reports whether the lock is still held at the given time.
func (l *Lock) Alive(now time.Time) bool {
	return l.ExpiresAt.After(now)
}
