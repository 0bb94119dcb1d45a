package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory Store with the same constraints as the SQL schema.
// Safe for concurrent use. Intended for tests and local tooling.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	nextSeq int64
}

// NewMemoryStore returns an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*domain.Job)}
}

// Insert persists a new job
func (m *MemoryStore) Insert(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return domain.ErrJobAlreadyExists
	}
	rid := job.RequestIDValue()
	for _, j := range m.jobs {
		if rid != "" && j.RequestIDValue() == rid {
			return domain.ErrDuplicateRequestID
		}
		if job.Status.Active() && j.Subject == job.Subject && j.Status.Active() {
			return domain.ErrDuplicateActiveSubject
		}
	}

	m.nextSeq++
	job.Seq = m.nextSeq
	m.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a job by id
func (m *MemoryStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return j.Clone(), nil
}

// GetByRequestID returns the job carrying requestID
func (m *MemoryStore) GetByRequestID(_ context.Context, requestID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.RequestIDValue() == requestID {
			return j.Clone(), nil
		}
	}
	return nil, domain.ErrJobNotFound
}

// FindActiveBySubject returns the active job of subject
func (m *MemoryStore) FindActiveBySubject(_ context.Context, subject string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.Subject == subject && j.Status.Active() {
			return j.Clone(), nil
		}
	}
	return nil, domain.ErrJobNotFound
}

// ListActive returns every non-terminal job
func (m *MemoryStore) ListActive(_ context.Context) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status.Active() {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Seq < out[k].Seq })
	return out, nil
}

// ListPending returns PENDING jobs in dequeue order
func (m *MemoryStore) ListPending(_ context.Context, q PendingQuery) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	priorities := make(map[domain.Priority]struct{}, len(q.Priorities))
	for _, p := range q.Priorities {
		priorities[p] = struct{}{}
	}
	origins := make(map[string]struct{}, len(q.Origins))
	for _, o := range q.Origins {
		origins[o] = struct{}{}
	}

	candidates := make([]*domain.Job, 0)
	for _, j := range m.jobs {
		if j.Status != domain.StatusPending || !afterCursor(j, q.After) {
			continue
		}
		if len(priorities) > 0 {
			if _, ok := priorities[j.Priority]; !ok {
				continue
			}
		}
		if len(origins) > 0 {
			if _, ok := origins[j.Origin]; !ok {
				continue
			}
		}
		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool { return pendingLess(candidates[i], candidates[k]) })

	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	out := make([]*domain.Job, len(candidates))
	for i, j := range candidates {
		out[i] = j.Clone()
	}
	return out, nil
}

// ListExpiredLeases returns PROCESSING jobs attempted before cutoff
func (m *MemoryStore) ListExpiredLeases(_ context.Context, cutoff time.Time) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if j.Status != domain.StatusProcessing || j.LastAttemptAt == nil {
			continue
		}
		if j.LastAttemptAt.Before(cutoff) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LastAttemptAt.Before(*out[k].LastAttemptAt) })
	return out, nil
}

// Apply performs a conditional update
func (m *MemoryStore) Apply(_ context.Context, tr Transition) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[tr.JobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if j.Status != tr.From || j.Attempts != tr.ExpectAttempts {
		return nil, domain.ErrConcurrentClaim
	}
	if tr.StaleBefore != nil && (j.LastAttemptAt == nil || !j.LastAttemptAt.Before(*tr.StaleBefore)) {
		return nil, domain.ErrConcurrentClaim
	}
	j.Status = tr.To
	j.Attempts = tr.Attempts
	if tr.LastAttemptAt != nil {
		t := *tr.LastAttemptAt
		j.LastAttemptAt = &t
	}
	if tr.Error != nil {
		e := *tr.Error
		j.Error = &e
	}
	j.UpdatedAt = tr.At
	return j.Clone(), nil
}

// List returns jobs matching filter, newest first
func (m *MemoryStore) List(_ context.Context, filter Filter) ([]*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Subject != "" && j.Subject != filter.Subject {
			continue
		}
		if filter.Priority != "" && j.Priority != filter.Priority {
			continue
		}
		if filter.Origin != "" && j.Origin != filter.Origin {
			continue
		}
		if c := filter.Cursor; c != nil {
			if j.CreatedAt.After(c.CreatedAt) || (j.CreatedAt.Equal(c.CreatedAt) && j.Seq >= c.Seq) {
				continue
			}
		}
		out = append(out, j.Clone())
	}

	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].Seq > out[k].Seq
	})

	if filter.PageSize > 0 && len(out) > filter.PageSize {
		out = out[:filter.PageSize]
	}
	return out, nil
}

// CountByStatus returns the number of jobs per status
func (m *MemoryStore) CountByStatus(_ context.Context) (map[domain.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[domain.Status]int64)
	for _, j := range m.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(_ context.Context) error { return nil }
