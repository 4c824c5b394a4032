package core

import "time"

// Event is the interface for all queue events.
type Event interface {
	eventMarker()
}

// JobStarted is emitted each time a job enters processing.
type JobStarted struct {
	Job       *Job
	Timestamp time.Time
}

func (*JobStarted) eventMarker() {}

// JobCompleted is emitted when a job completes successfully.
type JobCompleted struct {
	Job       *Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a job fails permanently.
type JobFailed struct {
	Job       *Job
	Error     error
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// JobRetrying is emitted when a job is rescheduled.
type JobRetrying struct {
	Job       *Job
	Attempt   int
	Error     error
	NextRunAt time.Time
	Timestamp time.Time
}

func (*JobRetrying) eventMarker() {}

// JobProgress is emitted when a handler reports progress.
type JobProgress struct {
	JobID     string
	Progress  int
	Message   string
	Timestamp time.Time
}

func (*JobProgress) eventMarker() {}

// JobCancelled is emitted when an unclaimed job is cancelled.
type JobCancelled struct {
	JobID     string
	Timestamp time.Time
}

func (*JobCancelled) eventMarker() {}

// CircuitStateChanged is emitted when a breaker changes state.
type CircuitStateChanged struct {
	ServiceID string
	From      string
	To        string
	Timestamp time.Time
}

func (*CircuitStateChanged) eventMarker() {}
