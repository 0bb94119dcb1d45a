package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// SweepResult summarises one sweep pass
type SweepResult struct {
	Scanned int `json:"scanned"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// SweepStale reclaims PROCESSING jobs whose lease expired. Each one is treated
// as a failed attempt with error "lease expired": it returns to PENDING or
// becomes FAILED once the attempt limit is reached. Jobs another caller
// finished in the meantime are skipped. Per-job errors are logged and counted
// so one bad row does not stop the pass.
func (q *Queue) SweepStale(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	cutoff := q.clock().Add(-q.cfg.LeaseTimeout)
	stale, err := q.store.ListExpiredLeases(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to list expired leases: %w", err)
	}

	for _, job := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		updated, err := q.fail(ctx, job, LeaseExpiredError, q.cfg.MaxAttempts, &cutoff)
		switch {
		case err == nil:
			q.metrics.incReclaimed(ctx)
			if updated.Status == domain.StatusFailed {
				result.Failed++
			} else {
				result.Retried++
			}
		case domain.IsInvalidTransition(err), errors.Is(err, domain.ErrJobNotFound):
			result.Skipped++
		default:
			result.Errors++
			q.logger.Error("Failed to reclaim stale job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
		}
	}

	if result.Scanned > 0 {
		q.logger.Info("Stale job sweep finished",
			slog.Int("scanned", result.Scanned),
			slog.Int("retried", result.Retried),
			slog.Int("failed", result.Failed),
			slog.Int("skipped", result.Skipped),
			slog.Int("errors", result.Errors),
		)
	}
	return result, nil
}
