package status

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/queue"
)

// DefaultTTL bounds how stale a cached status may be when no hook has
// invalidated it.
const DefaultTTL = 2 * time.Second

const (
	jobKeyPrefix   = "job_"
	statsKeyPrefix = "stats_"
)

// Option configures a Tracker.
type Option interface {
	applyTracker(*Tracker)
}

type optionFunc func(*Tracker)

func (f optionFunc) applyTracker(t *Tracker) { f(t) }

// WithTTL sets how long lookups are cached.
func WithTTL(d time.Duration) Option {
	return optionFunc(func(t *Tracker) {
		if d > 0 {
			t.ttl = d
		}
	})
}

// Tracker serves job status and counts.
type Tracker struct {
	store core.Storage
	ttl   time.Duration
	c     *cache.Cache
}

// NewTracker creates a tracker over store.
func NewTracker(store core.Storage, opts ...Option) *Tracker {
	t := &Tracker{store: store, ttl: DefaultTTL}
	for _, opt := range opts {
		opt.applyTracker(t)
	}
	t.c = cache.New(t.ttl, 5*t.ttl)
	return t
}

// Get returns the job's current state, or core.ErrNotFound. Callers get their
// own copy.
func (t *Tracker) Get(ctx context.Context, jobID string) (*core.Job, error) {
	key := jobKeyPrefix + jobID
	if cached, found := t.c.Get(key); found {
		if job, ok := cached.(*core.Job); ok {
			return cloneJob(job), nil
		}
	}

	job, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	t.c.Set(key, job, cache.DefaultExpiration)
	return cloneJob(job), nil
}

// Stats returns job counts by status, limited to jobs updated within window
// when window is positive.
func (t *Tracker) Stats(ctx context.Context, window time.Duration) (map[core.JobStatus]int64, error) {
	key := fmt.Sprintf("%s%d", statsKeyPrefix, window)
	if cached, found := t.c.Get(key); found {
		if counts, ok := cached.(map[core.JobStatus]int64); ok {
			return cloneCounts(counts), nil
		}
	}

	counts, err := t.store.Stats(ctx, window)
	if err != nil {
		return nil, err
	}
	t.c.Set(key, counts, cache.DefaultExpiration)
	return cloneCounts(counts), nil
}

// List passes through to the store; listings are not cached.
func (t *Tracker) List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	return t.store.ListJobs(ctx, filter)
}

// Invalidate drops the cached state for jobID and all cached counts.
func (t *Tracker) Invalidate(jobID string) {
	t.c.Delete(jobKeyPrefix + jobID)
	for key := range t.c.Items() {
		if strings.HasPrefix(key, statsKeyPrefix) {
			t.c.Delete(key)
		}
	}
}

// Attach invalidates the cache from q's lifecycle hooks so pollers on this
// node see transitions immediately.
func (t *Tracker) Attach(q *queue.Queue) {
	q.OnJobStart(func(_ context.Context, job *core.Job) { t.Invalidate(job.ID) })
	q.OnJobComplete(func(_ context.Context, job *core.Job) { t.Invalidate(job.ID) })
	q.OnJobFail(func(_ context.Context, job *core.Job, _ error) { t.Invalidate(job.ID) })
	q.OnRetry(func(_ context.Context, job *core.Job, _ int, _ error) { t.Invalidate(job.ID) })
	q.OnProgress(func(_ context.Context, job *core.Job, _ int, _ string) { t.Invalidate(job.ID) })
}

func cloneJob(j *core.Job) *core.Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append([]byte(nil), j.Payload...)
	}
	return &c
}

func cloneCounts(m map[core.JobStatus]int64) map[core.JobStatus]int64 {
	out := make(map[core.JobStatus]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
