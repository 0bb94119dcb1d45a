package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

func newSQLiteStore(t *testing.T) *storage.SQLStore {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "queue.db") + "?_busy_timeout=5000"
	db, err := sqlx.Connect(storage.DriverSQLite, dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := storage.NewSQLStore(db, discardLogger())
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func testStores() map[string]func(t *testing.T) storage.Store {
	return map[string]func(t *testing.T) storage.Store{
		"memory": func(t *testing.T) storage.Store { return storage.NewMemoryStore() },
		"sqlite": func(t *testing.T) storage.Store { return newSQLiteStore(t) },
	}
}

func TestSQLite_NoDoubleClaimAcrossQueues(t *testing.T) {
	store := newSQLiteStore(t)
	clock := newFakeClock()
	ctx := context.Background()

	// separate engines share only the store, like separate processes
	queues := []*Queue{
		newTestQueue(t, store, clock),
		newTestQueue(t, store, clock),
		newTestQueue(t, store, clock),
	}

	const jobs = 30
	for i := 0; i < jobs; i++ {
		q := queues[i%len(queues)]
		enqueue(t, q, fmt.Sprintf("subject-%d", i), domain.PriorityLow)
	}

	// the same subjects through the other engines are covered, not duplicated
	for i := 0; i < jobs; i++ {
		q := queues[(i+1)%len(queues)]
		_, created, err := q.Enqueue(ctx, EnqueueRequest{Subject: fmt.Sprintf("subject-%d", i)})
		require.NoError(t, err)
		assert.False(t, created)
	}

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[string]int)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(q *Queue) {
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
		}(queues[w%len(queues)])
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, jobs, counts[domain.StatusProcessing])
	assert.EqualValues(t, 0, counts[domain.StatusPending])
}

func TestSQLite_RetryBoundAndTerminalImmutability(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, newSQLiteStore(t), clock)
	ctx := context.Background()

	job := enqueue(t, q, "alice", domain.PriorityHigh)
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := q.DequeueNext(ctx, Capabilities{})
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d", attempt)

		_, err = q.MarkFailed(ctx, job.ID, fmt.Sprintf("boom %d", attempt), 3)
		require.NoError(t, err)
		clock.Advance(q.Config().Backoff.Window(attempt))
	}

	failed, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, "boom 3", failed.ErrorValue())

	_, err = q.MarkCompleted(ctx, job.ID)
	assert.True(t, domain.IsInvalidTransition(err))
	_, err = q.Resume(ctx, job.ID)
	assert.True(t, domain.IsInvalidTransition(err))

	next, err := q.DequeueNext(ctx, Capabilities{})
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestSweepStale_RenewedLeaseIsKept(t *testing.T) {
	for name, mk := range testStores() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			q := newTestQueue(t, mk(t), clock)
			ctx := context.Background()

			stale := enqueue(t, q, "stale", domain.PriorityHigh)
			renewed := enqueue(t, q, "renewed", domain.PriorityHigh)
			for i := 0; i < 2; i++ {
				claimed, err := q.DequeueNext(ctx, Capabilities{})
				require.NoError(t, err)
				require.NotNil(t, claimed)
			}

			clock.Advance(q.Config().LeaseTimeout - time.Minute)
			extended, err := q.ExtendLease(ctx, renewed.ID, 1)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusProcessing, extended.Status)
			assert.Equal(t, 1, extended.Attempts)
			require.NotNil(t, extended.LastAttemptAt)
			assert.True(t, extended.LastAttemptAt.Equal(clock.Now()))

			clock.Advance(2 * time.Minute)
			result, err := q.SweepStale(ctx)
			require.NoError(t, err)
			assert.Equal(t, SweepResult{Scanned: 1, Retried: 1}, result)

			reclaimed, err := q.Get(ctx, stale.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusPending, reclaimed.Status)
			assert.Equal(t, LeaseExpiredError, reclaimed.ErrorValue())

			running, err := q.Get(ctx, renewed.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusProcessing, running.Status)
			assert.Nil(t, running.Error)

			assert.EqualValues(t, 1, q.Metrics().Snapshot().LeaseRenewals)
		})
	}
}

func TestSweepStale_LeaseRenewedAfterScanIsSkipped(t *testing.T) {
	for name, mk := range testStores() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			store := mk(t)
			q := newTestQueue(t, store, clock)
			ctx := context.Background()

			job := enqueue(t, q, "alice", domain.PriorityHigh)
			_, err := q.DequeueNext(ctx, Capabilities{})
			require.NoError(t, err)

			clock.Advance(q.Config().LeaseTimeout + time.Minute)
			cutoff := clock.Now().Add(-q.Config().LeaseTimeout)
			expired, err := store.ListExpiredLeases(ctx, cutoff)
			require.NoError(t, err)
			require.Len(t, expired, 1)

			// the worker renews between the sweeper's scan and its update
			_, err = q.ExtendLease(ctx, job.ID, 1)
			require.NoError(t, err)

			_, err = q.fail(ctx, expired[0], LeaseExpiredError, q.Config().MaxAttempts, &cutoff)
			assert.True(t, domain.IsInvalidTransition(err))

			current, err := q.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusProcessing, current.Status)
			assert.Nil(t, current.Error)
		})
	}
}

func TestExtendLease_LostLease(t *testing.T) {
	for name, mk := range testStores() {
		t.Run(name, func(t *testing.T) {
			clock := newFakeClock()
			q := newTestQueue(t, mk(t), clock)
			ctx := context.Background()

			job := enqueue(t, q, "alice", domain.PriorityHigh)
			_, err := q.DequeueNext(ctx, Capabilities{})
			require.NoError(t, err)

			clock.Advance(q.Config().LeaseTimeout + time.Second)
			result, err := q.SweepStale(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, result.Retried)

			// reclaimed and claimed again by someone else
			clock.Advance(q.Config().Backoff.Window(1))
			again, err := q.DequeueNext(ctx, Capabilities{})
			require.NoError(t, err)
			require.Equal(t, 2, again.Attempts)

			_, err = q.ExtendLease(ctx, job.ID, 1)
			assert.True(t, domain.IsInvalidTransition(err))

			_, err = q.ExtendLease(ctx, "missing", 1)
			assert.ErrorIs(t, err, domain.ErrJobNotFound)
		})
	}
}
