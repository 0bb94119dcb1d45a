package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/profile-queue/internal/queue/backoff"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []string
}

func (n *recordingNotifier) JobReady(_ context.Context, job *domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T, store storage.Store, clock *fakeClock, opts ...Option) *Queue {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Backoff = backoff.NewPolicy(5*time.Second, 10*time.Minute)

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	q, err := New(context.Background(), store, cfg, discardLogger(), opts...)
	require.NoError(t, err)
	return q
}

func enqueue(t *testing.T, q *Queue, subject string, priority domain.Priority) *domain.Job {
	t.Helper()
	job, created, err := q.Enqueue(context.Background(), EnqueueRequest{Subject: subject, Priority: priority})
	require.NoError(t, err)
	require.True(t, created)
	return job
}

func TestEnqueue_Validation(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())

	tests := []struct {
		name  string
		req   EnqueueRequest
		field string
	}{
		{name: "empty subject", req: EnqueueRequest{Subject: ""}, field: "subject"},
		{name: "blank subject", req: EnqueueRequest{Subject: "   "}, field: "subject"},
		{name: "unknown priority", req: EnqueueRequest{Subject: "alice", Priority: "URGENT"}, field: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, created, err := q.Enqueue(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, job)
			assert.False(t, created)

			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestEnqueue_Defaults(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)

	job, created, err := q.Enqueue(context.Background(), EnqueueRequest{Subject: "  alice  "})
	require.NoError(t, err)
	assert.True(t, created)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "alice", job.Subject)
	assert.Equal(t, domain.PriorityLow, job.Priority)
	assert.Equal(t, domain.DefaultOrigin, job.Origin)
	assert.Equal(t, domain.StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Nil(t, job.LastAttemptAt)
	assert.Nil(t, job.Error)
	assert.Nil(t, job.RequestID)
	assert.True(t, job.CreatedAt.Equal(clock.Now()))
}

func TestEnqueue_DeduplicatesActiveSubject(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	first := enqueue(t, q, "alice", domain.PriorityLow)

	second, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", Priority: domain.PriorityHigh, Origin: "other"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	// the existing job is returned untouched
	assert.Equal(t, domain.PriorityLow, second.Priority)

	// still covered while PROCESSING and PAUSED
	claimed, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	third, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, third.ID)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total)
	assert.EqualValues(t, 1, stats.Metrics.Enqueued)
	assert.EqualValues(t, 2, stats.Metrics.Deduplicated)
}

func TestEnqueue_DeduplicatesRequestID(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	first, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-1"})
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "bob", RequestID: "req-1"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "alice", again.Subject)
}

func TestEnqueue_TerminalRequestIDIsReserved(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	job, _, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-1"})
	require.NoError(t, err)

	claimed, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	_, err = q.MarkCompleted(ctx, job.ID)
	require.NoError(t, err)

	_, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-1"})
	require.Error(t, err)
	assert.False(t, created)
	assert.True(t, domain.IsValidation(err))

	// the subject itself is free again
	fresh, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-2"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, job.ID, fresh.ID)
}

func TestEnqueue_ReservedRequestIDRejectedBeforeSubject(t *testing.T) {
	for name, mk := range testStores() {
		t.Run(name, func(t *testing.T) {
			q := newTestQueue(t, mk(t), newFakeClock())
			ctx := context.Background()

			first, _, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-1"})
			require.NoError(t, err)
			_, err = q.DequeueNext(ctx, Capabilities{})
			require.NoError(t, err)
			_, err = q.MarkCompleted(ctx, first.ID)
			require.NoError(t, err)

			active, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-2"})
			require.NoError(t, err)
			require.True(t, created)

			// alice is covered by an active job, but req-1 is still reserved
			job, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-1"})
			assert.Nil(t, job)
			assert.False(t, created)
			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "request_id", vErr.Field)

			// a fresh engine with a cold index rejects it the same way
			cold := newTestQueue(t, q.store, newFakeClock())
			_, _, err = cold.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-1"})
			assert.True(t, domain.IsValidation(err))

			same, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice", RequestID: "req-2"})
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, active.ID, same.ID)
		})
	}
}

func TestEnqueue_AfterTerminalCreatesNewJob(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	first := enqueue(t, q, "alice", domain.PriorityHigh)
	_, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	_, err = q.MarkFailed(ctx, first.ID, "boom", 1)
	require.NoError(t, err)

	second := enqueue(t, q, "alice", domain.PriorityHigh)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestEnqueue_ConcurrentSameSubject(t *testing.T) {
	store := storage.NewMemoryStore()
	q := newTestQueue(t, store, newFakeClock())
	ctx := context.Background()

	const callers = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]int)
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, ok, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice"})
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			ids[job.ID]++
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	active, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEnqueue_SharedStoreAcrossInstances(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	ctx := context.Background()

	// both instances start with an empty index
	q1 := newTestQueue(t, store, clock)
	q2 := newTestQueue(t, store, clock)

	first := enqueue(t, q1, "alice", domain.PriorityLow)

	second, created, err := q2.Enqueue(ctx, EnqueueRequest{Subject: "alice"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = q1.Enqueue(ctx, EnqueueRequest{Subject: "bob", RequestID: "req-9"})
	require.NoError(t, err)
	viaRequest, created, err := q2.Enqueue(ctx, EnqueueRequest{Subject: "carol", RequestID: "req-9"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "bob", viaRequest.Subject)
}

func TestNew_RebuildsIndexFromStore(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	ctx := context.Background()

	q1 := newTestQueue(t, store, clock)
	first := enqueue(t, q1, "alice", domain.PriorityLow)

	q2 := newTestQueue(t, store, clock)
	stats, err := q2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveKeys)

	again, created, err := q2.Enqueue(ctx, EnqueueRequest{Subject: "alice"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestDequeueNext_Empty(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())

	job, err := q.DequeueNext(context.Background(), Capabilities{})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueNext_PriorityThenFIFO(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	low1 := enqueue(t, q, "low-1", domain.PriorityLow)
	clock.Advance(time.Second)
	high1 := enqueue(t, q, "high-1", domain.PriorityHigh)
	clock.Advance(time.Second)
	low2 := enqueue(t, q, "low-2", domain.PriorityLow)
	clock.Advance(time.Second)
	high2 := enqueue(t, q, "high-2", domain.PriorityHigh)

	want := []string{high1.ID, high2.ID, low1.ID, low2.ID}
	for i, id := range want {
		job, err := q.DequeueNext(ctx, Capabilities{})
		require.NoError(t, err)
		require.NotNil(t, job, "dequeue %d", i)
		assert.Equal(t, id, job.ID, "dequeue %d", i)
		assert.Equal(t, domain.StatusProcessing, job.Status)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.LastAttemptAt)
		assert.True(t, job.LastAttemptAt.Equal(clock.Now()))
	}

	job, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueNext_PausedJobsAreSkipped(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	held := enqueue(t, q, "alice", domain.PriorityHigh)
	_, err := q.Pause(ctx, held.ID)
	require.NoError(t, err)

	job, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	assert.Nil(t, job)

	_, err = q.Resume(ctx, held.ID)
	require.NoError(t, err)

	job, err = q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, held.ID, job.ID)
}

func TestDequeueNext_Capabilities(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	manual := enqueue(t, q, "alice", domain.PriorityHigh)
	clock.Advance(time.Second)
	expansion, _, err := q.Enqueue(ctx, EnqueueRequest{
		Subject:  "bob",
		Priority: domain.PriorityLow,
		Origin:   domain.OriginSimilarityExpansion,
	})
	require.NoError(t, err)

	job, err := q.DequeueNext(ctx, Capabilities{Origins: []string{domain.OriginSimilarityExpansion}})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, expansion.ID, job.ID)

	job, err = q.DequeueNext(ctx, Capabilities{Priorities: []domain.Priority{domain.PriorityLow}})
	require.NoError(t, err)
	assert.Nil(t, job)

	job, err = q.DequeueNext(ctx, Capabilities{Priorities: []domain.Priority{domain.PriorityHigh}})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, manual.ID, job.ID)
}

func TestDequeueNext_ScansPastBatch(t *testing.T) {
	clock := newFakeClock()
	store := storage.NewMemoryStore()

	cfg := DefaultConfig()
	cfg.ScanBatch = 2
	q, err := New(context.Background(), store, cfg, discardLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	// three jobs inside their backoff window ahead of one eligible job
	for i := 0; i < 3; i++ {
		job := enqueue(t, q, fmt.Sprintf("retry-%d", i), domain.PriorityHigh)
		_, err := q.DequeueNext(ctx, Capabilities{})
		require.NoError(t, err)
		_, err = q.MarkFailed(ctx, job.ID, "boom", 0)
		require.NoError(t, err)
	}
	ready := enqueue(t, q, "ready", domain.PriorityLow)

	job, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, ready.ID, job.ID)
}

func TestDequeueNext_NoDoubleClaim(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		enqueue(t, q, fmt.Sprintf("subject-%d", i), domain.PriorityLow)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.DequeueNext(ctx, Capabilities{})
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestMarkFailed_RetriesWithBackoffThenFails(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	job := enqueue(t, q, "alice", domain.PriorityHigh)

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.DequeueNext(ctx, Capabilities{})
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", attempt)
		assert.Equal(t, attempt, claimed.Attempts)

		failed, err := q.MarkFailed(ctx, job.ID, fmt.Sprintf("boom %d", attempt), 3)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("boom %d", attempt), failed.ErrorValue())

		if attempt < 3 {
			assert.Equal(t, domain.StatusPending, failed.Status)

			// still inside the backoff window
			none, err := q.DequeueNext(ctx, Capabilities{})
			require.NoError(t, err)
			assert.Nil(t, none)

			clock.Advance(q.Config().Backoff.Window(failed.Attempts))
		} else {
			assert.Equal(t, domain.StatusFailed, failed.Status)
			assert.Equal(t, 3, failed.Attempts)
		}
	}

	clock.Advance(time.Hour)
	none, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMarkCompleted_KeepsLastError(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	job := enqueue(t, q, "alice", domain.PriorityHigh)
	_, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	_, err = q.MarkFailed(ctx, job.ID, "timeout", 3)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)

	done, err := q.MarkCompleted(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, 2, done.Attempts)
	assert.Equal(t, "timeout", done.ErrorValue())
}

func TestTransitions_Invalid(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	pending := enqueue(t, q, "pending", domain.PriorityLow)

	clock.Advance(time.Second)
	processing := enqueue(t, q, "processing", domain.PriorityHigh)
	_, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)

	clock.Advance(time.Second)
	completed := enqueue(t, q, "completed", domain.PriorityHigh)
	_, err = q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	_, err = q.MarkCompleted(ctx, completed.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		op   func() (*domain.Job, error)
	}{
		{name: "complete pending", op: func() (*domain.Job, error) { return q.MarkCompleted(ctx, pending.ID) }},
		{name: "fail pending", op: func() (*domain.Job, error) { return q.MarkFailed(ctx, pending.ID, "x", 3) }},
		{name: "resume pending", op: func() (*domain.Job, error) { return q.Resume(ctx, pending.ID) }},
		{name: "pause processing", op: func() (*domain.Job, error) { return q.Pause(ctx, processing.ID) }},
		{name: "resume processing", op: func() (*domain.Job, error) { return q.Resume(ctx, processing.ID) }},
		{name: "complete completed", op: func() (*domain.Job, error) { return q.MarkCompleted(ctx, completed.ID) }},
		{name: "fail completed", op: func() (*domain.Job, error) { return q.MarkFailed(ctx, completed.ID, "x", 3) }},
		{name: "pause completed", op: func() (*domain.Job, error) { return q.Pause(ctx, completed.ID) }},
		{name: "resume completed", op: func() (*domain.Job, error) { return q.Resume(ctx, completed.ID) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := tt.op()
			require.Error(t, err)
			assert.Nil(t, job)
			assert.True(t, domain.IsInvalidTransition(err), "got %v", err)
		})
	}

	// terminal job untouched
	stored, err := q.Get(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestTransitions_UnknownJob(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	_, err := q.MarkCompleted(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = q.Pause(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestPause_KeepsSubjectCovered(t *testing.T) {
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock())
	ctx := context.Background()

	job := enqueue(t, q, "alice", domain.PriorityLow)
	paused, err := q.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaused, paused.Status)

	again, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, job.ID, again.ID)

	_, err = q.Pause(ctx, job.ID)
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestSweepStale(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	stale := enqueue(t, q, "stale", domain.PriorityHigh)
	_, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)

	clock.Advance(q.Config().LeaseTimeout - time.Minute)
	fresh := enqueue(t, q, "fresh", domain.PriorityHigh)
	_, err = q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)

	// nothing expired yet
	result, err := q.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	clock.Advance(2 * time.Minute)
	result, err = q.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Retried: 1}, result)

	reclaimed, err := q.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, reclaimed.Status)
	assert.Equal(t, LeaseExpiredError, reclaimed.ErrorValue())
	assert.Equal(t, 1, reclaimed.Attempts)

	stillRunning, err := q.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stillRunning.Status)

	// reclaimed job can be claimed again once its backoff passes
	clock.Advance(q.Config().Backoff.Window(1))
	again, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, stale.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestSweepStale_ExhaustedAttemptsFail(t *testing.T) {
	clock := newFakeClock()
	store := storage.NewMemoryStore()

	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	q, err := New(context.Background(), store, cfg, discardLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	job := enqueue(t, q, "alice", domain.PriorityHigh)
	_, err = q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)

	clock.Advance(cfg.LeaseTimeout + time.Second)
	result, err := q.SweepStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Failed: 1}, result)

	failed, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)

	// the subject is free again
	enqueue(t, q, "alice", domain.PriorityHigh)
}

func TestNotifier(t *testing.T) {
	notifier := &recordingNotifier{}
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock(), WithNotifier(notifier))
	ctx := context.Background()

	job := enqueue(t, q, "alice", domain.PriorityLow)
	assert.Equal(t, 1, notifier.count())

	// deduplicated admissions do not notify
	_, _, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.count())

	_, err = q.Pause(ctx, job.ID)
	require.NoError(t, err)
	_, err = q.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, notifier.count())
}

// blockingNotifier holds every notification until release is closed
type blockingNotifier struct {
	entered chan string
	release chan struct{}
}

func (n *blockingNotifier) JobReady(_ context.Context, job *domain.Job) error {
	n.entered <- job.Subject
	<-n.release
	return nil
}

func TestNotifier_DoesNotBlockAdmission(t *testing.T) {
	notifier := &blockingNotifier{entered: make(chan string, 2), release: make(chan struct{})}
	q := newTestQueue(t, storage.NewMemoryStore(), newFakeClock(), WithNotifier(notifier))
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, _, err := q.Enqueue(ctx, EnqueueRequest{Subject: "alice"})
		slow <- err
	}()
	require.Equal(t, "alice", <-notifier.entered)

	// alice's notification is stuck in the broker; bob is still admitted
	admitted := make(chan error, 1)
	go func() {
		_, _, err := q.Enqueue(ctx, EnqueueRequest{Subject: "bob"})
		admitted <- err
	}()
	select {
	case subject := <-notifier.entered:
		assert.Equal(t, "bob", subject)
	case <-time.After(2 * time.Second):
		close(notifier.release)
		t.Fatal("admission waited for a pending notification")
	}

	close(notifier.release)
	require.NoError(t, <-slow)
	require.NoError(t, <-admitted)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.ByStatus[domain.StatusPending])
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	enqueue(t, q, "a", domain.PriorityHigh)
	clock.Advance(time.Second)
	enqueue(t, q, "b", domain.PriorityLow)
	clock.Advance(time.Second)
	paused := enqueue(t, q, "c", domain.PriorityLow)
	_, err := q.Pause(ctx, paused.ID)
	require.NoError(t, err)

	claimed, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	_, err = q.MarkCompleted(ctx, claimed.ID)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, stats.Total)
	assert.EqualValues(t, 1, stats.ByStatus[domain.StatusPending])
	assert.EqualValues(t, 1, stats.ByStatus[domain.StatusPaused])
	assert.EqualValues(t, 1, stats.ByStatus[domain.StatusCompleted])
	assert.EqualValues(t, 0, stats.ByStatus[domain.StatusFailed])
	assert.Equal(t, 2, stats.ActiveKeys)
	assert.EqualValues(t, 1, stats.Metrics.Claimed)
	assert.EqualValues(t, 1, stats.Metrics.Completed)
}

func TestList(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, storage.NewMemoryStore(), clock)
	ctx := context.Background()

	a := enqueue(t, q, "a", domain.PriorityHigh)
	clock.Advance(time.Second)
	b := enqueue(t, q, "b", domain.PriorityLow)

	jobs, err := q.List(ctx, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, b.ID, jobs[0].ID)
	assert.Equal(t, a.ID, jobs[1].ID)

	jobs, err = q.List(ctx, storage.Filter{Priority: domain.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, a.ID, jobs[0].ID)
}
