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

// MarkCompleted moves a PROCESSING job to COMPLETED
func (q *Queue) MarkCompleted(ctx context.Context, jobID string) (*domain.Job, error) {
	current, err := q.load(ctx, jobID, domain.StatusProcessing, domain.StatusCompleted)
	if err != nil {
		return nil, err
	}

	now := q.clock()
	job, err := q.apply(ctx, current, storage.Transition{
		To:       domain.StatusCompleted,
		Attempts: current.Attempts,
		At:       now,
	})
	if err != nil {
		return nil, err
	}

	q.index.Put(job)
	q.metrics.incCompleted(ctx)
	q.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("subject", job.Subject),
		slog.Int("attempts", job.Attempts),
	)
	return job, nil
}

// MarkFailed records a failed attempt of a PROCESSING job. The job goes back
// to PENDING while attempts < maxAttempts and becomes FAILED otherwise.
// maxAttempts <= 0 uses the configured limit.
func (q *Queue) MarkFailed(ctx context.Context, jobID, errMsg string, maxAttempts int) (*domain.Job, error) {
	current, err := q.load(ctx, jobID, domain.StatusProcessing, domain.StatusFailed)
	if err != nil {
		return nil, err
	}
	return q.fail(ctx, current, errMsg, maxAttempts, nil)
}

// fail applies the retry-or-fail decision against the snapshot current.
// A non-nil staleBefore also requires the lease to still be older than it.
func (q *Queue) fail(ctx context.Context, current *domain.Job, errMsg string, maxAttempts int, staleBefore *time.Time) (*domain.Job, error) {
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	to := domain.StatusPending
	if current.Attempts >= maxAttempts {
		to = domain.StatusFailed
	}

	now := q.clock()
	msg := errMsg
	job, err := q.apply(ctx, current, storage.Transition{
		To:          to,
		Attempts:    current.Attempts,
		Error:       &msg,
		StaleBefore: staleBefore,
		At:          now,
	})
	if err != nil {
		return nil, err
	}

	q.index.Put(job)
	if to == domain.StatusFailed {
		q.metrics.incFailed(ctx)
		q.logger.Warn("Job failed permanently",
			slog.String("job_id", job.ID),
			slog.String("subject", job.Subject),
			slog.Int("attempts", job.Attempts),
			slog.String("error", errMsg),
		)
	} else {
		q.metrics.incRetried(ctx)
		q.logger.Info("Job scheduled for retry",
			slog.String("job_id", job.ID),
			slog.String("subject", job.Subject),
			slog.Int("attempts", job.Attempts),
			slog.Duration("backoff", q.cfg.Backoff.Window(job.Attempts)),
			slog.String("error", errMsg),
		)
	}
	return job, nil
}

// ExtendLease renews the lease of a job a worker is still running by moving
// last_attempt_at to now. attempts is the count the worker claimed the job
// with; a job reclaimed or finished since then yields InvalidTransitionError.
func (q *Queue) ExtendLease(ctx context.Context, jobID string, attempts int) (*domain.Job, error) {
	now := q.clock()
	job, err := q.apply(ctx, &domain.Job{ID: jobID, Status: domain.StatusProcessing, Attempts: attempts}, storage.Transition{
		To:            domain.StatusProcessing,
		Attempts:      attempts,
		LastAttemptAt: &now,
		At:            now,
	})
	if err != nil {
		return nil, err
	}

	q.metrics.incLeaseRenewals(ctx)
	q.logger.Debug("Job lease extended",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempts),
	)
	return job, nil
}

// Pause holds a PENDING job so it is not dequeued
func (q *Queue) Pause(ctx context.Context, jobID string) (*domain.Job, error) {
	current, err := q.load(ctx, jobID, domain.StatusPending, domain.StatusPaused)
	if err != nil {
		return nil, err
	}

	job, err := q.apply(ctx, current, storage.Transition{
		To:       domain.StatusPaused,
		Attempts: current.Attempts,
		At:       q.clock(),
	})
	if err != nil {
		return nil, err
	}

	q.index.Put(job)
	q.metrics.incPaused(ctx)
	q.logger.Info("Job paused",
		slog.String("job_id", job.ID),
		slog.String("subject", job.Subject),
	)
	return job, nil
}

// Resume returns a PAUSED job to PENDING
func (q *Queue) Resume(ctx context.Context, jobID string) (*domain.Job, error) {
	current, err := q.load(ctx, jobID, domain.StatusPaused, domain.StatusPending)
	if err != nil {
		return nil, err
	}

	job, err := q.apply(ctx, current, storage.Transition{
		To:       domain.StatusPending,
		Attempts: current.Attempts,
		At:       q.clock(),
	})
	if err != nil {
		return nil, err
	}

	q.index.Put(job)
	q.metrics.incResumed(ctx)
	q.logger.Info("Job resumed",
		slog.String("job_id", job.ID),
		slog.String("subject", job.Subject),
	)
	q.notify(ctx, job)
	return job, nil
}

// load fetches jobID and checks it is in status from before moving to to
func (q *Queue) load(ctx context.Context, jobID string, from, to domain.Status) (*domain.Job, error) {
	current, err := q.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if current.Status != from {
		return nil, &domain.InvalidTransitionError{JobID: jobID, From: current.Status, To: to}
	}
	return current, nil
}

// apply runs tr as a compare-and-swap against the snapshot current. A lost
// race is reported as an invalid transition from the status that won.
func (q *Queue) apply(ctx context.Context, current *domain.Job, tr storage.Transition) (*domain.Job, error) {
	tr.JobID = current.ID
	tr.From = current.Status
	tr.ExpectAttempts = current.Attempts

	job, err := q.store.Apply(ctx, tr)
	if err == nil {
		return job, nil
	}
	if errors.Is(err, domain.ErrConcurrentClaim) {
		latest, getErr := q.store.Get(ctx, current.ID)
		if getErr != nil {
			return nil, err
		}
		return nil, &domain.InvalidTransitionError{JobID: current.ID, From: latest.Status, To: tr.To}
	}
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("failed to update job %s: %w", current.ID, err)
}
