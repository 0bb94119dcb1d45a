package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// JobQueue is the part of the queue engine a worker drives
type JobQueue interface {
	DequeueNext(ctx context.Context, caps queue.Capabilities) (*domain.Job, error)
	MarkCompleted(ctx context.Context, jobID string) (*domain.Job, error)
	MarkFailed(ctx context.Context, jobID, errMsg string, maxAttempts int) (*domain.Job, error)
	ExtendLease(ctx context.Context, jobID string, attempts int) (*domain.Job, error)
}

// DefaultOutcomeTimeout bounds recording a job's outcome after it ran
const DefaultOutcomeTimeout = 10 * time.Second

// WakeupSource delivers job-ready notifications
type WakeupSource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Queue             JobQueue
	Processor         Processor
	Wakeups           WakeupSource // optional; without it workers only poll
	WorkerID          string
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration // 0 disables lease renewal
	OutcomeTimeout    time.Duration
	PollInterval      time.Duration
	PollRate          float64 // dequeue attempts per second across the pool
	PollBurst         int
	MaxAttempts       int
	Capabilities      queue.Capabilities
}

// Worker runs a pool of goroutines that claim and process jobs
type Worker struct {
	logger            *slog.Logger
	queue             JobQueue
	processor         Processor
	wakeups           WakeupSource
	workerID          string
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	outcomeTimeout    time.Duration
	pollInterval      time.Duration
	maxAttempts       int
	caps              queue.Capabilities
	limiter           *rate.Limiter

	wake     chan struct{}
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}

	limit := rate.Inf
	if cfg.PollRate > 0 {
		limit = rate.Limit(cfg.PollRate)
	}
	burst := cfg.PollBurst
	if burst <= 0 {
		burst = 1
	}

	outcomeTimeout := cfg.OutcomeTimeout
	if outcomeTimeout <= 0 {
		outcomeTimeout = DefaultOutcomeTimeout
	}

	return &Worker{
		logger:            cfg.Logger,
		queue:             cfg.Queue,
		processor:         cfg.Processor,
		wakeups:           cfg.Wakeups,
		workerID:          cfg.WorkerID,
		concurrency:       concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		outcomeTimeout:    outcomeTimeout,
		pollInterval:      pollInterval,
		maxAttempts:       cfg.MaxAttempts,
		caps:              cfg.Capabilities,
		limiter:           rate.NewLimiter(limit, burst),
		wake:              make(chan struct{}, concurrency),
		stopChan:          make(chan struct{}),
	}
}

// Start spawns the pool and blocks until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("heartbeat_interval", w.heartbeatInterval),
		slog.Duration("poll_interval", w.pollInterval),
	)

	if w.wakeups != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			return err
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.startMessageDispatcher(ctx, deliveries)
		}()
	}

	w.spawnWorkerPool(ctx)

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}
	return nil
}

// Stop signals the pool and waits for in-flight jobs
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// Wake nudges one idle worker goroutine to look for work
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
		// every worker already has a pending wake-up
	}
}
