package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/resilient-jobs/pkg/core"
	"github.com/jdziat/resilient-jobs/pkg/retry"
	"github.com/jdziat/resilient-jobs/pkg/security"
)

// mockStorage implements core.Storage for testing
type mockStorage struct {
	jobs       map[string]*core.Job
	enqueueErr error
}

func newMockStorage() *mockStorage {
	return &mockStorage{jobs: make(map[string]*core.Job)}
}

func (m *mockStorage) Migrate(ctx context.Context) error { return nil }

func (m *mockStorage) Enqueue(ctx context.Context, job *core.Job) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	m.jobs[job.ID] = job
	return nil
}

func (m *mockStorage) ClaimReady(ctx context.Context, limit int, token string) ([]*core.Job, error) {
	return nil, nil
}

func (m *mockStorage) UpdateStatus(ctx context.Context, jobID string, status core.JobStatus, progress int, message string) error {
	return nil
}

func (m *mockStorage) UpdateProgress(ctx context.Context, jobID string, progress int, message string) error {
	return nil
}

func (m *mockStorage) MarkRetry(ctx context.Context, jobID string, attempts int, delay time.Duration, errMsg string) error {
	return nil
}

func (m *mockStorage) MarkCompleted(ctx context.Context, jobID string) error { return nil }

func (m *mockStorage) MarkFailed(ctx context.Context, jobID string, attempts int, errMsg string) error {
	return nil
}

func (m *mockStorage) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return false, core.ErrNotFound
	}
	if !job.Status.IsReady() {
		return false, nil
	}
	job.Status = core.StatusCancelled
	return true, nil
}

func (m *mockStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return job, nil
}

func (m *mockStorage) ListJobs(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	return nil, nil
}

func (m *mockStorage) Stats(ctx context.Context, window time.Duration) (map[core.JobStatus]int64, error) {
	return nil, nil
}

func (m *mockStorage) PurgeTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockStorage) RequeueStale(ctx context.Context, olderThan time.Duration) (core.StaleResult, error) {
	return core.StaleResult{}, nil
}

type reportPayload struct {
	Account string `json:"account"`
}

func noopHandler(ctx context.Context, p reportPayload) error { return nil }

// ──────────────────────────────────────────────────────────────────────────────
// Construction and registration
// ──────────────────────────────────────────────────────────────────────────────

func TestNew_CreatesQueue(t *testing.T) {
	store := newMockStorage()
	q := New(store)

	require.NotNil(t, q)
	assert.Equal(t, store, q.Storage())
	assert.NotNil(t, q.handlers)
	assert.Equal(t, clock.C, q.Clock())
}

func TestQueue_Register_ValidHandler(t *testing.T) {
	q := New(newMockStorage())
	q.Register("report", noopHandler)

	reg, ok := q.Lookup("report")
	require.True(t, ok)
	assert.Equal(t, "report", reg.Type)
	assert.Equal(t, retry.For(retry.ClassDefault), reg.Policy)
	assert.Zero(t, reg.Timeout)
	assert.Empty(t, reg.ServiceID)
	assert.True(t, q.HasHandler("report"))
}

func TestQueue_Register_ContextOnlyHandler(t *testing.T) {
	q := New(newMockStorage())
	q.Register("tick", func(ctx context.Context) error { return nil })
	assert.True(t, q.HasHandler("tick"))
}

func TestQueue_Register_Options(t *testing.T) {
	q := New(newMockStorage())
	q.Register("sync", noopHandler,
		WithPolicy(retry.ClassNetwork),
		WithTimeout(30*time.Second),
		WithService("crm"),
	)

	reg, ok := q.Lookup("sync")
	require.True(t, ok)
	assert.Equal(t, 5, reg.Policy.MaxAttempts)
	assert.Equal(t, 30*time.Second, reg.Policy.BaseDelay)
	assert.Equal(t, 30*time.Second, reg.Timeout)
	assert.Equal(t, "crm", reg.ServiceID)
}

func TestQueue_Register_CustomPolicyWins(t *testing.T) {
	q := New(newMockStorage())
	custom := retry.Policy{MaxAttempts: 7, BaseDelay: time.Second, Multiplier: 3}
	q.Register("custom", noopHandler, WithPolicy(retry.ClassNetwork), WithCustomPolicy(custom))

	reg, _ := q.Lookup("custom")
	assert.Equal(t, custom, reg.Policy)
}

func TestQueue_Register_WithPoliciesOption(t *testing.T) {
	ps := retry.Policies{
		retry.ClassDefault: {MaxAttempts: 2, BaseDelay: time.Second, Multiplier: 2},
	}
	q := New(newMockStorage(), WithPolicies(ps))
	q.Register("report", noopHandler, WithPolicy(retry.ClassDatabase))

	reg, _ := q.Lookup("report")
	assert.Equal(t, 2, reg.Policy.MaxAttempts, "unknown class falls back to default")
}

func TestQueue_Register_InvalidName_Panics(t *testing.T) {
	q := New(newMockStorage())
	for _, name := range []string{"", "1abc", "has space"} {
		assert.Panics(t, func() { q.Register(name, noopHandler) }, "name %q", name)
	}
}

func TestQueue_Register_InvalidHandler_Panics(t *testing.T) {
	q := New(newMockStorage())
	assert.Panics(t, func() { q.Register("bad", "not a function") })
	assert.Panics(t, func() { q.Register("bad", func(s string) error { return nil }) })
}

func TestQueue_Register_Duplicate_Panics(t *testing.T) {
	q := New(newMockStorage())
	q.Register("report", noopHandler)

	assert.PanicsWithValue(t, core.ErrDuplicateHandler.Error()+`: "report"`, func() {
		q.Register("report", noopHandler)
	})
}

func TestQueue_Register_InvalidPolicy_Panics(t *testing.T) {
	q := New(newMockStorage())
	assert.Panics(t, func() {
		q.Register("report", noopHandler, WithCustomPolicy(retry.Policy{MaxAttempts: 0, Multiplier: 2}))
	})
	assert.False(t, q.HasHandler("report"))
}

func TestQueue_Register_NegativeTimeout_Panics(t *testing.T) {
	q := New(newMockStorage())
	assert.Panics(t, func() { q.Register("report", noopHandler, WithTimeout(-time.Second)) })
}

func TestQueue_Types_Sorted(t *testing.T) {
	q := New(newMockStorage())
	q.Register("zeta", noopHandler)
	q.Register("alpha", noopHandler)
	q.Register("mid", noopHandler)

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, q.Types())
}

func TestQueue_Lookup_Unknown(t *testing.T) {
	q := New(newMockStorage())
	_, ok := q.Lookup("nope")
	assert.False(t, ok)
	assert.False(t, q.HasHandler("nope"))
}

// ──────────────────────────────────────────────────────────────────────────────
// Enqueue
// ──────────────────────────────────────────────────────────────────────────────

func TestQueue_Enqueue_UnregisteredHandler(t *testing.T) {
	q := New(newMockStorage())

	_, err := q.Enqueue(context.Background(), "unknown", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrHandlerMissing)
	assert.Contains(t, err.Error(), "unknown")
}

func TestQueue_Enqueue_Success(t *testing.T) {
	store := newMockStorage()
	q := New(store)
	q.Register("report", noopHandler)

	id, err := q.Enqueue(context.Background(), "report", reportPayload{Account: "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := store.jobs[id]
	require.NotNil(t, job)
	assert.Equal(t, "report", job.Type)
	assert.Equal(t, core.StatusQueued, job.Status)
	assert.Equal(t, core.DefaultPriority, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.True(t, job.ScheduledAt.IsZero(), "store fills in now")
	assert.JSONEq(t, `{"account":"acme"}`, string(job.Payload))
}

func TestQueue_Enqueue_MaxAttemptsFromPolicy(t *testing.T) {
	store := newMockStorage()
	q := New(store)
	q.Register("sync", noopHandler, WithPolicy(retry.ClassNetwork))

	id, err := q.Enqueue(context.Background(), "sync", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, store.jobs[id].MaxAttempts)
}

func TestQueue_Enqueue_MaxAttemptsClamped(t *testing.T) {
	store := newMockStorage()
	q := New(store)
	q.Register("many", noopHandler, WithCustomPolicy(retry.Policy{MaxAttempts: 500, BaseDelay: time.Second, Multiplier: 1}))

	id, err := q.Enqueue(context.Background(), "many", nil)
	require.NoError(t, err)
	assert.Equal(t, security.MaxAttempts, store.jobs[id].MaxAttempts)
}

func TestQueue_Enqueue_WithOptions(t *testing.T) {
	store := newMockStorage()
	mc := clock.NewMockClock()
	q := New(store, WithClock(mc))
	q.Register("report", noopHandler)

	id, err := q.Enqueue(context.Background(), "report", nil, Priority(1), Delay(time.Hour))
	require.NoError(t, err)

	job := store.jobs[id]
	assert.Equal(t, 1, job.Priority)
	assert.Equal(t, mc.Now().Add(time.Hour).UTC(), job.ScheduledAt)
}

func TestQueue_Enqueue_AtWinsOverDelay(t *testing.T) {
	store := newMockStorage()
	mc := clock.NewMockClock()
	q := New(store, WithClock(mc))
	q.Register("report", noopHandler)

	runAt := mc.Now().Add(48 * time.Hour)
	id, err := q.Enqueue(context.Background(), "report", nil, Delay(time.Minute), At(runAt))
	require.NoError(t, err)
	assert.True(t, runAt.Equal(store.jobs[id].ScheduledAt))
}

func TestQueue_Enqueue_RawMessagePassthrough(t *testing.T) {
	store := newMockStorage()
	q := New(store)
	q.Register("report", noopHandler)

	raw := json.RawMessage(`{"account":"raw"}`)
	id, err := q.Enqueue(context.Background(), "report", raw)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), store.jobs[id].Payload)
}

func TestQueue_Enqueue_UnmarshalablePayload(t *testing.T) {
	q := New(newMockStorage())
	q.Register("report", noopHandler)

	_, err := q.Enqueue(context.Background(), "report", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal payload")
}

func TestQueue_Enqueue_PayloadTooLarge(t *testing.T) {
	q := New(newMockStorage())
	q.Register("report", noopHandler)

	big := make([]byte, security.MaxPayloadSize+1)
	for i := range big {
		big[i] = 'a'
	}
	_, err := q.Enqueue(context.Background(), "report", json.RawMessage(`"`+string(big)+`"`))
	assert.ErrorIs(t, err, core.ErrJobPayloadTooLarge)
}

func TestQueue_Enqueue_StorageError(t *testing.T) {
	store := newMockStorage()
	store.enqueueErr = core.WrapStorage("enqueue", errors.New("disk full"))
	q := New(store)
	q.Register("report", noopHandler)

	_, err := q.Enqueue(context.Background(), "report", nil)
	require.Error(t, err)
	assert.True(t, core.IsStorageError(err))
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancel / GetJob
// ──────────────────────────────────────────────────────────────────────────────

func TestQueue_Cancel_EmitsOnce(t *testing.T) {
	store := newMockStorage()
	q := New(store)
	q.Register("report", noopHandler)
	ch := q.Events()
	defer q.Unsubscribe(ch)

	id, err := q.Enqueue(context.Background(), "report", nil)
	require.NoError(t, err)

	ok, err := q.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Cancel(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok, "second cancel is a no-op")

	require.Len(t, ch, 1)
	ev := (<-ch).(*core.JobCancelled)
	assert.Equal(t, id, ev.JobID)
}

func TestQueue_Cancel_Unknown(t *testing.T) {
	q := New(newMockStorage())
	_, err := q.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestQueue_GetJob(t *testing.T) {
	store := newMockStorage()
	q := New(store)
	q.Register("report", noopHandler)

	id, err := q.Enqueue(context.Background(), "report", nil)
	require.NoError(t, err)

	job, err := q.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)

	_, err = q.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

// ──────────────────────────────────────────────────────────────────────────────
// Events and hooks
// ──────────────────────────────────────────────────────────────────────────────

func TestQueue_Events(t *testing.T) {
	q := New(newMockStorage())

	ch := q.Events()
	require.NotNil(t, ch)

	event := &core.JobStarted{Job: &core.Job{ID: "test"}}
	q.Emit(event)

	select {
	case received := <-ch:
		assert.Equal(t, event, received)
	default:
		t.Fatal("expected to receive event")
	}
}

func TestQueue_Emit_DropsWhenFull(t *testing.T) {
	q := New(newMockStorage())
	ch := q.Events()

	for range 100 {
		q.Emit(&core.JobStarted{Job: &core.Job{ID: "test"}})
	}

	// This should not block - it should drop
	q.Emit(&core.JobStarted{Job: &core.Job{ID: "dropped"}})

	assert.Len(t, ch, 100)
}

func TestQueue_Unsubscribe_StopsDelivery(t *testing.T) {
	q := New(newMockStorage())
	ch := q.Events()

	q.Emit(&core.JobStarted{Job: &core.Job{ID: "before"}})
	select {
	case e := <-ch:
		assert.Equal(t, "before", e.(*core.JobStarted).Job.ID)
	default:
		t.Fatal("expected event before unsubscribe")
	}

	q.Unsubscribe(ch)

	q.Emit(&core.JobStarted{Job: &core.Job{ID: "after"}})
	select {
	case <-ch:
		t.Fatal("should not receive events after unsubscribe")
	default:
	}
}

func TestQueue_Unsubscribe_UnknownChannel_IsNoop(t *testing.T) {
	q := New(newMockStorage())
	foreign := make(chan core.Event, 100)
	q.Unsubscribe(foreign)
}

func TestQueue_Unsubscribe_ConcurrentWithEmit(t *testing.T) {
	q := New(newMockStorage())

	const subscribers = 10
	channels := make([]<-chan core.Event, subscribers)
	for i := range channels {
		channels[i] = q.Events()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			q.Emit(&core.JobStarted{Job: &core.Job{ID: "concurrent"}})
		}
	}()

	for _, ch := range channels {
		q.Unsubscribe(ch)
	}
	<-done
}

func TestQueue_Hooks(t *testing.T) {
	q := New(newMockStorage())

	var startCalled, completeCalled, failCalled bool
	var retryAttempt, progress int
	var progressMsg string

	q.OnJobStart(func(ctx context.Context, job *core.Job) { startCalled = true })
	q.OnJobComplete(func(ctx context.Context, job *core.Job) { completeCalled = true })
	q.OnJobFail(func(ctx context.Context, job *core.Job, err error) { failCalled = true })
	q.OnRetry(func(ctx context.Context, job *core.Job, attempt int, err error) { retryAttempt = attempt })
	q.OnProgress(func(ctx context.Context, job *core.Job, p int, msg string) {
		progress, progressMsg = p, msg
	})

	job := &core.Job{ID: "test"}
	ctx := context.Background()

	q.CallStartHooks(ctx, job)
	assert.True(t, startCalled)

	q.CallCompleteHooks(ctx, job)
	assert.True(t, completeCalled)

	q.CallFailHooks(ctx, job, nil)
	assert.True(t, failCalled)

	q.CallRetryHooks(ctx, job, 2, nil)
	assert.Equal(t, 2, retryAttempt)

	q.CallProgressHooks(ctx, job, 55, "half")
	assert.Equal(t, 55, progress)
	assert.Equal(t, "half", progressMsg)
}

func TestQueue_Hooks_RunInRegistrationOrder(t *testing.T) {
	q := New(newMockStorage())
	var order []int
	for i := range 3 {
		q.OnJobStart(func(context.Context, *core.Job) { order = append(order, i) })
	}
	q.CallStartHooks(context.Background(), &core.Job{})
	assert.Equal(t, []int{0, 1, 2}, order)
}
