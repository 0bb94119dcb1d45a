package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

// Stats is a queue depth snapshot
type Stats struct {
	ByStatus   map[domain.Status]int64 `json:"by_status"`
	Total      int64                   `json:"total"`
	ActiveKeys int                     `json:"active_keys"`
	Metrics    MetricsSnapshot         `json:"metrics"`
}

// Get returns a job by id
func (q *Queue) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns jobs matching filter, newest first
func (q *Queue) List(ctx context.Context, filter storage.Filter) ([]*domain.Job, error) {
	jobs, err := q.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// Stats counts jobs per status
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}

	stats := &Stats{
		ByStatus:   make(map[domain.Status]int64, len(domain.Statuses)),
		ActiveKeys: q.index.Len(),
		Metrics:    q.metrics.Snapshot(),
	}
	for _, s := range domain.Statuses {
		stats.ByStatus[s] = counts[s]
		stats.Total += counts[s]
	}
	return stats, nil
}
