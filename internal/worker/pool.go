package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop waits for a wake-up or the poll tick, then drains the queue
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
		slog.Int("worker_num", workerNum),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// look once at startup so a backlog does not wait for the first tick
	w.drain(ctx, workerName)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case <-w.wake:
			w.drain(ctx, workerName)

		case <-ticker.C:
			w.drain(ctx, workerName)
		}
	}
}

// drain claims and processes jobs until the queue has nothing eligible
func (w *Worker) drain(ctx context.Context, workerName string) {
	for {
		if w.stopping(ctx) {
			return
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		job, err := w.queue.DequeueNext(ctx, w.caps)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error("Failed to dequeue job",
					slog.String("worker_name", workerName),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if job == nil {
			return
		}

		w.logger.Info("Worker claimed job",
			slog.String("worker_name", workerName),
			slog.String("job_id", job.ID),
			slog.String("subject", job.Subject),
			slog.Int("attempt", job.Attempts),
		)

		w.processJob(ctx, workerName, job)
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
