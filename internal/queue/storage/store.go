package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// Store is the durable job record store
type Store interface {
	// Insert persists a new job and assigns its Seq. Constraint violations
	// surface as domain.ErrDuplicateRequestID or domain.ErrDuplicateActiveSubject.
	Insert(ctx context.Context, job *domain.Job) error

	// Get returns the job with the given id or domain.ErrJobNotFound
	Get(ctx context.Context, jobID string) (*domain.Job, error)

	// GetByRequestID returns the job carrying requestID, terminal or not
	GetByRequestID(ctx context.Context, requestID string) (*domain.Job, error)

	// FindActiveBySubject returns the non-terminal job of subject
	FindActiveBySubject(ctx context.Context, subject string) (*domain.Job, error)

	// ListActive returns every PENDING, PROCESSING or PAUSED job
	ListActive(ctx context.Context) ([]*domain.Job, error)

	// ListPending returns PENDING jobs in dequeue order, starting after q.After
	ListPending(ctx context.Context, q PendingQuery) ([]*domain.Job, error)

	// ListExpiredLeases returns PROCESSING jobs last attempted before cutoff
	ListExpiredLeases(ctx context.Context, cutoff time.Time) ([]*domain.Job, error)

	// Apply performs a conditional update. It returns domain.ErrConcurrentClaim
	// when the stored status or attempt count no longer match the transition.
	Apply(ctx context.Context, tr Transition) (*domain.Job, error)

	// List returns jobs matching filter, newest first
	List(ctx context.Context, filter Filter) ([]*domain.Job, error)

	// CountByStatus returns the number of jobs per status
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}

// Transition describes a compare-and-swap status change.
// The update applies only while the stored row has status From and
// attempt count ExpectAttempts.
type Transition struct {
	JobID          string
	From           domain.Status
	ExpectAttempts int

	To            domain.Status
	Attempts      int
	LastAttemptAt *time.Time // nil keeps the stored value
	Error         *string    // nil keeps the stored value
	At            time.Time

	// StaleBefore, when set, also requires last_attempt_at < StaleBefore so a
	// lease renewed after it was read is not reclaimed
	StaleBefore *time.Time
}

// PendingCursor is a position in dequeue order
type PendingCursor struct {
	Rank      int
	CreatedAt time.Time
	Seq       int64
}

// CursorOf returns the dequeue-order position of job
func CursorOf(job *domain.Job) *PendingCursor {
	return &PendingCursor{
		Rank:      job.Priority.Rank(),
		CreatedAt: job.CreatedAt,
		Seq:       job.Seq,
	}
}

// PendingQuery pages through PENDING jobs in dequeue order
type PendingQuery struct {
	After      *PendingCursor
	Priorities []domain.Priority
	Origins    []string
	Limit      int
}

// JobCursor is a position in newest-first listing order
type JobCursor struct {
	CreatedAt time.Time
	Seq       int64
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status   domain.Status
	Subject  string
	Priority domain.Priority
	Origin   string
	PageSize int
	Cursor   *JobCursor
}

// pendingLess reports whether a is dequeued before b
func pendingLess(a, b *domain.Job) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() < b.Priority.Rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

// afterCursor reports whether job comes strictly after c in dequeue order
func afterCursor(job *domain.Job, c *PendingCursor) bool {
	if c == nil {
		return true
	}
	rank := job.Priority.Rank()
	if rank != c.Rank {
		return rank > c.Rank
	}
	if !job.CreatedAt.Equal(c.CreatedAt) {
		return job.CreatedAt.After(c.CreatedAt)
	}
	return job.Seq > c.Seq
}
