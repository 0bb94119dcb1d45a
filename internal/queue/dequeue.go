package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

// Capabilities narrows which jobs a worker can take. Empty fields match all.
type Capabilities struct {
	Priorities []domain.Priority
	Origins    []string
}

// DequeueNext claims the highest priority, oldest eligible PENDING job and
// moves it to PROCESSING. It returns nil, nil when no job is available.
// Jobs still inside their retry backoff window are skipped.
func (q *Queue) DequeueNext(ctx context.Context, caps Capabilities) (*domain.Job, error) {
	now := q.clock()

	var after *storage.PendingCursor
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch, err := q.store.ListPending(ctx, storage.PendingQuery{
			After:      after,
			Priorities: caps.Priorities,
			Origins:    caps.Origins,
			Limit:      q.cfg.ScanBatch,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending jobs: %w", err)
		}

		for _, candidate := range batch {
			if !q.cfg.Backoff.Eligible(candidate.Attempts, candidate.LastAttemptAt, now) {
				continue
			}

			job, err := q.claim(ctx, candidate, now)
			if errors.Is(err, domain.ErrConcurrentClaim) || errors.Is(err, domain.ErrJobNotFound) {
				q.metrics.incClaimConflicts(ctx)
				continue
			}
			if err != nil {
				return nil, err
			}
			return job, nil
		}

		if len(batch) < q.cfg.ScanBatch {
			return nil, nil
		}
		after = storage.CursorOf(batch[len(batch)-1])
	}
}

func (q *Queue) claim(ctx context.Context, candidate *domain.Job, now time.Time) (*domain.Job, error) {
	job, err := q.store.Apply(ctx, storage.Transition{
		JobID:          candidate.ID,
		From:           domain.StatusPending,
		ExpectAttempts: candidate.Attempts,
		To:             domain.StatusProcessing,
		Attempts:       candidate.Attempts + 1,
		LastAttemptAt:  &now,
		At:             now,
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentClaim) || errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to claim job %s: %w", candidate.ID, err)
	}

	q.index.Put(job)
	q.metrics.incClaimed(ctx)
	q.logger.Info("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("subject", job.Subject),
		slog.String("priority", job.Priority.String()),
		slog.Int("attempt", job.Attempts),
	)
	return job, nil
}
