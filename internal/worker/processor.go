package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// processJob runs one claimed job and records the outcome.
// The job keeps running through shutdown until its own timeout so a claimed
// job is not abandoned halfway; the lease sweeper covers a crashed process.
// The outcome is written under its own deadline, never the job's, so a job
// that timed out still gets its error recorded.
func (w *Worker) processJob(ctx context.Context, workerName string, job *domain.Job) {
	jobCtx := context.WithoutCancel(ctx)
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(jobCtx, w.jobTimeout)
		defer cancel()
	}

	heartbeatDone := make(chan struct{})
	heartbeatStopped := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, workerName, job, heartbeatDone, heartbeatStopped)

	start := time.Now()
	err := w.runProcessor(jobCtx, job)
	elapsed := time.Since(start)

	close(heartbeatDone)
	<-heartbeatStopped

	markCtx, cancelMark := context.WithTimeout(context.WithoutCancel(ctx), w.outcomeTimeout)
	defer cancelMark()

	if err == nil {
		if _, markErr := w.queue.MarkCompleted(markCtx, job.ID); markErr != nil {
			w.logMarkError(workerName, job, domain.StatusCompleted, markErr)
			return
		}
		w.logger.Info("Job completed successfully",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID),
			slog.Duration("elapsed", elapsed),
		)
		return
	}

	maxAttempts := w.maxAttempts
	if IsPermanent(err) {
		// the current attempt count is the ceiling, so the job fails now
		maxAttempts = job.Attempts
	}

	updated, markErr := w.queue.MarkFailed(markCtx, job.ID, err.Error(), maxAttempts)
	if markErr != nil {
		w.logMarkError(workerName, job, domain.StatusFailed, markErr)
		return
	}

	w.logger.Error("Job processing failed",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
		slog.Bool("permanent", IsPermanent(err)),
		slog.String("status", updated.Status.String()),
		slog.Int("attempts", updated.Attempts),
		slog.Duration("elapsed", elapsed),
	)
}

// sendJobHeartbeat extends the job's lease every heartbeat interval until done
// is closed, so the sweeper does not reclaim a job that is still running
func (w *Worker) sendJobHeartbeat(ctx context.Context, workerName string, job *domain.Job, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	if w.heartbeatInterval <= 0 {
		return
	}

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := w.queue.ExtendLease(ctx, job.ID, job.Attempts)
			if err == nil {
				continue
			}
			if domain.IsInvalidTransition(err) || errors.Is(err, domain.ErrJobNotFound) {
				w.logger.Warn("Job lease lost while running",
					slog.String("worker_name", workerName),
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				return
			}
			w.logger.Error("Failed to extend job lease",
				slog.String("worker_name", workerName),
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// runProcessor calls the processor and converts a panic into an error
func (w *Worker) runProcessor(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, job)
}

func (w *Worker) logMarkError(workerName string, job *domain.Job, target domain.Status, err error) {
	if domain.IsInvalidTransition(err) {
		// the sweeper or an operator moved the job while it ran
		w.logger.Warn("Job lease lost before outcome was recorded",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID),
			slog.String("target", target.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Error("Failed to record job outcome",
		slog.String("worker_name", workerName),
		slog.String("job_id", job.ID),
		slog.String("target", target.String()),
		slog.String("error", err.Error()),
	)
}
