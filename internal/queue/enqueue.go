package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// maxAdmitRounds bounds insert retries when another process keeps winning
// the unique constraints
const maxAdmitRounds = 3

// EnqueueRequest is the admission input
type EnqueueRequest struct {
	Subject   string
	Priority  domain.Priority // empty means the configured default
	Origin    string          // empty means the configured default
	RequestID string          // optional idempotency key
}

// Enqueue admits a job for subject. When an active job already covers the
// request (same request_id, or same subject) that job is returned with
// created=false and nothing is written.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*domain.Job, bool, error) {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, false, &domain.ValidationError{Field: "subject", Reason: "must not be empty"}
	}

	priority := req.Priority
	if priority == "" {
		priority = q.cfg.DefaultPriority
	}
	if !priority.Valid() {
		return nil, false, &domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", req.Priority)}
	}

	origin := strings.TrimSpace(req.Origin)
	if origin == "" {
		origin = q.cfg.DefaultOrigin
	}

	requestID := strings.TrimSpace(req.RequestID)

	job, created, err := q.admit(ctx, subject, priority, origin, requestID)
	if err != nil {
		return nil, false, err
	}
	if created {
		// outside admitMu: the broker may retry with backoff
		q.notify(ctx, job)
	}
	return job.Clone(), created, nil
}

// admit runs the check-then-insert step under admitMu
func (q *Queue) admit(ctx context.Context, subject string, priority domain.Priority, origin, requestID string) (*domain.Job, bool, error) {
	q.admitMu.Lock()
	defer q.admitMu.Unlock()

	for round := 0; round < maxAdmitRounds; round++ {
		// the first round trusts the subject index; after a constraint
		// conflict the store is consulted directly
		existing, err := q.findCovering(ctx, subject, requestID, round > 0)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			q.metrics.incDeduplicated(ctx)
			q.logger.Debug("Enqueue deduplicated",
				slog.String("job_id", existing.ID),
				slog.String("subject", subject),
				slog.String("request_id", requestID),
			)
			return existing, false, nil
		}

		now := q.clock()
		job := &domain.Job{
			ID:        q.newID(),
			Subject:   subject,
			Origin:    origin,
			Priority:  priority,
			Status:    domain.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if requestID != "" {
			rid := requestID
			job.RequestID = &rid
		}

		err = q.store.Insert(ctx, job)
		switch {
		case err == nil:
			q.index.Put(job)
			q.metrics.incEnqueued(ctx)
			q.logger.Info("Job enqueued",
				slog.String("job_id", job.ID),
				slog.String("subject", job.Subject),
				slog.String("priority", job.Priority.String()),
				slog.String("origin", job.Origin),
			)
			return job, true, nil

		case errors.Is(err, domain.ErrDuplicateRequestID), errors.Is(err, domain.ErrDuplicateActiveSubject):
			// another process admitted a covering job first; look again
			q.logger.Debug("Enqueue lost admission race",
				slog.String("subject", subject),
				slog.Any("error", err),
			)
			continue

		default:
			return nil, false, fmt.Errorf("failed to enqueue job: %w", err)
		}
	}

	return nil, false, fmt.Errorf("failed to enqueue job for subject %s: %w", subject, domain.ErrConcurrentClaim)
}

// findCovering returns the active job that already covers the request.
// A request_id held by a terminal job is rejected before the subject is
// looked at. request_id lookups always reach the store because terminal
// jobs are not indexed; subject index misses are final unless fromStore is
// set.
func (q *Queue) findCovering(ctx context.Context, subject, requestID string, fromStore bool) (*domain.Job, error) {
	if requestID != "" {
		job, err := q.byRequestID(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if job != nil {
			return job, nil
		}
	}
	return q.activeForSubject(ctx, subject, fromStore)
}

func (q *Queue) byRequestID(ctx context.Context, requestID string) (*domain.Job, error) {
	if id, ok := q.index.LookupByRequestID(requestID); ok {
		job, err := q.confirm(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil && job.RequestIDValue() == requestID {
			return job, nil
		}
	}

	job, err := q.store.GetByRequestID(ctx, requestID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up request_id: %w", err)
	}
	if job.Status.Terminal() {
		return nil, &domain.ValidationError{
			Field:  "request_id",
			Reason: fmt.Sprintf("already used by %s job %s", job.Status, job.ID),
		}
	}
	q.index.Put(job)
	return job, nil
}

func (q *Queue) activeForSubject(ctx context.Context, subject string, fromStore bool) (*domain.Job, error) {
	if id, ok := q.index.LookupActive(subject); ok {
		job, err := q.confirm(ctx, id)
		if err != nil {
			return nil, err
		}
		if job != nil && job.Subject == subject {
			return job, nil
		}
	}
	if !fromStore {
		return nil, nil
	}

	job, err := q.store.FindActiveBySubject(ctx, subject)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up active job: %w", err)
	}
	q.index.Put(job)
	return job, nil
}

// confirm re-reads an indexed job and drops it from the index if it is no
// longer active
func (q *Queue) confirm(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to confirm indexed job: %w", err)
	}
	if !job.Status.Active() {
		q.index.Remove(job)
		return nil, nil
	}
	return job, nil
}
