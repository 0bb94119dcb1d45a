// Package queue is the scheduling and state-transition engine of the profile
// job queue: admission with deduplication, priority dequeue with retry
// backoff, completion/failure accounting and stale lease reclamation.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/cuongbtq/profile-queue/internal/queue/backoff"
	"github.com/cuongbtq/profile-queue/internal/queue/dedup"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
	"github.com/cuongbtq/profile-queue/internal/queue/storage"
)

// Default policy values
const (
	DefaultMaxAttempts  = 3
	DefaultLeaseTimeout = 15 * time.Minute
	DefaultScanBatch    = 64

	// LeaseExpiredError is recorded on jobs reclaimed by the sweeper
	LeaseExpiredError = "lease expired"
)

// Config holds the queue policy knobs
type Config struct {
	DefaultPriority domain.Priority
	DefaultOrigin   string
	MaxAttempts     int
	Backoff         backoff.Policy
	LeaseTimeout    time.Duration
	ScanBatch       int
}

// DefaultConfig returns the policy used when nothing is configured
func DefaultConfig() Config {
	return Config{
		DefaultPriority: domain.DefaultPriority,
		DefaultOrigin:   domain.DefaultOrigin,
		MaxAttempts:     DefaultMaxAttempts,
		Backoff:         backoff.NewPolicy(backoff.DefaultBase, backoff.DefaultMax),
		LeaseTimeout:    DefaultLeaseTimeout,
		ScanBatch:       DefaultScanBatch,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if !c.DefaultPriority.Valid() {
		c.DefaultPriority = d.DefaultPriority
	}
	if c.DefaultOrigin == "" {
		c.DefaultOrigin = d.DefaultOrigin
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	c.Backoff = backoff.NewPolicy(c.Backoff.Base, c.Backoff.Max)
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = d.LeaseTimeout
	}
	if c.ScanBatch <= 0 {
		c.ScanBatch = d.ScanBatch
	}
	return c
}

// Notifier is told when a job becomes ready for a worker.
// Notifications are advisory wake-ups; workers always claim through DequeueNext.
type Notifier interface {
	JobReady(ctx context.Context, job *domain.Job) error
}

// Option configures a Queue
type Option func(*Queue)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithNotifier sets the ready-job notifier
func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithMeter records the queue counters on meter instead of the global
// MeterProvider
func WithMeter(meter metric.Meter) Option {
	return func(q *Queue) { q.meter = meter }
}

// WithIDGenerator overrides job id generation
func WithIDGenerator(gen func() string) Option {
	return func(q *Queue) { q.newID = gen }
}

// Queue is the job queue engine. Safe for concurrent use.
type Queue struct {
	store    storage.Store
	index    *dedup.Index
	cfg      Config
	logger   *slog.Logger
	notifier Notifier
	meter    metric.Meter
	metrics  *Metrics
	now      func() time.Time
	newID    func() string

	// serialises check-then-insert within this process
	admitMu sync.Mutex
}

// New creates a queue over store and rebuilds the dedup index from it
func New(ctx context.Context, store storage.Store, cfg Config, logger *slog.Logger, opts ...Option) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		store:  store,
		index:  dedup.NewIndex(),
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.meter != nil {
		q.metrics = NewMetricsWithMeter(q.meter)
	} else {
		q.metrics = NewMetrics()
	}

	if err := q.Rebuild(ctx); err != nil {
		return nil, err
	}

	q.logger.Info("Job queue initialized",
		slog.Int("active_jobs", q.index.Len()),
		slog.Int("max_attempts", q.cfg.MaxAttempts),
		slog.Duration("backoff_base", q.cfg.Backoff.Base),
		slog.Duration("backoff_max", q.cfg.Backoff.Max),
		slog.Duration("lease_timeout", q.cfg.LeaseTimeout),
	)
	return q, nil
}

// Rebuild reloads the dedup index from the store's active jobs
func (q *Queue) Rebuild(ctx context.Context) error {
	jobs, err := q.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild dedup index: %w", err)
	}
	q.index.Rebuild(jobs)
	return nil
}

// Config returns the effective policy
func (q *Queue) Config() Config {
	return q.cfg
}

// Metrics returns the queue counters
func (q *Queue) Metrics() *Metrics {
	return q.metrics
}

// Ping checks the underlying store
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

func (q *Queue) clock() time.Time {
	return q.now().UTC()
}

func (q *Queue) notify(ctx context.Context, job *domain.Job) {
	if q.notifier == nil {
		return
	}
	if err := q.notifier.JobReady(ctx, job); err != nil {
		q.logger.Warn("Failed to publish job ready notification",
			slog.String("job_id", job.ID),
			slog.String("subject", job.Subject),
			slog.Any("error", err),
		)
	}
}
