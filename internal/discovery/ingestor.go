// Package discovery turns similar-profile discovery batches into queued jobs.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"

	"github.com/cuongbtq/profile-queue/internal/queue"
	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// Batch is one discovery message: subjects found similar to SourceSubject
type Batch struct {
	BatchID       string   `json:"batch_id"`
	SourceSubject string   `json:"source_subject"`
	Subjects      []string `json:"subjects"`
	Priority      string   `json:"priority,omitempty"`
}

// RequestID is the idempotency key of subject within the batch
func (b *Batch) RequestID(subject string) string {
	return b.BatchID + ":" + subject
}

// ErrMalformed marks a message that can never be admitted
var ErrMalformed = errors.New("malformed discovery batch")

// Result counts what happened to one batch
type Result struct {
	Created      int
	Deduplicated int
	Skipped      int
}

// Source yields messages with manual offset commits
type Source interface {
	Fetch(ctx context.Context) (kgo.Message, error)
	Commit(ctx context.Context, msgs ...kgo.Message) error
}

// Enqueuer admits jobs
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*domain.Job, bool, error)
}

// DeadLetter receives messages that could not be parsed
type DeadLetter interface {
	Publish(ctx context.Context, key string, value []byte, headers ...kgo.Header) error
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithDeadLetter forwards malformed messages to dl
func WithDeadLetter(dl DeadLetter) Option {
	return func(i *Ingestor) { i.deadLetter = dl }
}

// WithRetryBackoff sets the delay bounds between attempts at a batch that
// failed for a transient reason
func WithRetryBackoff(initial, max time.Duration) Option {
	return func(i *Ingestor) {
		i.retryInitial = initial
		i.retryMax = max
	}
}

// Ingestor consumes discovery batches and enqueues their subjects
type Ingestor struct {
	source     Source
	enqueuer   Enqueuer
	deadLetter DeadLetter
	logger     *slog.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

// NewIngestor creates an ingestor
func NewIngestor(source Source, enqueuer Enqueuer, logger *slog.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		source:       source,
		enqueuer:     enqueuer,
		logger:       logger,
		retryInitial: time.Second,
		retryMax:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Run consumes until ctx is canceled. A batch's offset is committed only
// after every subject in it was admitted; transient failures are retried.
func (i *Ingestor) Run(ctx context.Context) error {
	i.logger.Info("Discovery ingestion started")

	for {
		msg, err := i.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				i.logger.Info("Discovery ingestion stopped")
				return nil
			}
			return err
		}

		if err := i.processWithRetry(ctx, msg); err != nil {
			if ctx.Err() != nil {
				i.logger.Info("Discovery ingestion stopped before commit",
					slog.Int64("offset", msg.Offset),
				)
				return nil
			}
			return err
		}

		if err := i.source.Commit(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (i *Ingestor) processWithRetry(ctx context.Context, msg kgo.Message) error {
	delay := i.retryInitial
	for {
		result, err := i.Handle(ctx, msg)
		if err == nil {
			i.logger.Info("Discovery batch admitted",
				slog.String("key", string(msg.Key)),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("created", result.Created),
				slog.Int("deduplicated", result.Deduplicated),
				slog.Int("skipped", result.Skipped),
			)
			return nil
		}

		if errors.Is(err, ErrMalformed) {
			i.logger.Warn("Skipping malformed discovery message",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Any("error", err),
			)
			i.forwardDeadLetter(ctx, msg, err)
			return nil
		}

		i.logger.Error("Failed to admit discovery batch, retrying",
			slog.Int64("offset", msg.Offset),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > i.retryMax {
			delay = i.retryMax
		}
	}
}

// Handle admits every subject of one message. Subjects already covered by an
// active job, or already admitted and finished under the same batch, count
// as deduplicated.
func (i *Ingestor) Handle(ctx context.Context, msg kgo.Message) (Result, error) {
	var result Result

	batch, priority, err := decode(msg.Value)
	if err != nil {
		return result, err
	}

	seen := make(map[string]struct{}, len(batch.Subjects))
	for _, raw := range batch.Subjects {
		subject := strings.TrimSpace(raw)
		if subject == "" || subject == batch.SourceSubject {
			result.Skipped++
			continue
		}
		if _, dup := seen[subject]; dup {
			result.Skipped++
			continue
		}
		seen[subject] = struct{}{}

		_, created, err := i.enqueuer.Enqueue(ctx, queue.EnqueueRequest{
			Subject:   subject,
			Priority:  priority,
			Origin:    domain.OriginSimilarityExpansion,
			RequestID: batch.RequestID(subject),
		})
		switch {
		case err == nil && created:
			result.Created++
		case err == nil:
			result.Deduplicated++
		case domain.IsValidation(err):
			// request_id held by a finished job: this subject was handled on an
			// earlier delivery of the same batch
			result.Deduplicated++
		default:
			return result, fmt.Errorf("failed to enqueue %s from batch %s: %w", subject, batch.BatchID, err)
		}
	}

	return result, nil
}

func decode(value []byte) (*Batch, domain.Priority, error) {
	var batch Batch
	if err := json.Unmarshal(value, &batch); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	batch.BatchID = strings.TrimSpace(batch.BatchID)
	batch.SourceSubject = strings.TrimSpace(batch.SourceSubject)
	if batch.BatchID == "" {
		return nil, "", fmt.Errorf("%w: batch_id is required", ErrMalformed)
	}

	var priority domain.Priority
	if batch.Priority != "" {
		p, err := domain.ParsePriority(batch.Priority)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		priority = p
	}
	return &batch, priority, nil
}

func (i *Ingestor) forwardDeadLetter(ctx context.Context, msg kgo.Message, cause error) {
	if i.deadLetter == nil {
		return
	}

	headers := append([]kgo.Header{}, msg.Headers...)
	headers = append(headers,
		kgo.Header{Key: "x-error", Value: []byte(cause.Error())},
		kgo.Header{Key: "x-source-topic", Value: []byte(msg.Topic)},
	)
	if err := i.deadLetter.Publish(ctx, string(msg.Key), msg.Value, headers...); err != nil {
		i.logger.Error("Failed to forward message to dead letter topic",
			slog.Int64("offset", msg.Offset),
			slog.Any("error", err),
		)
	}
}
