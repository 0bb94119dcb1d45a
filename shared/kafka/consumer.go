package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// commitTimeout bounds a single offset commit
const commitTimeout = 3 * time.Second

// ConsumerConfig holds consumer group settings
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	StartOffset string // "first" or "last"
}

// Consumer reads a topic as part of a consumer group with manual commits
type Consumer struct {
	reader *kgo.Reader
	logger *slog.Logger
}

// NewConsumer creates a consumer group reader
func NewConsumer(cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	startOffset := kgo.FirstOffset
	if cfg.StartOffset == "last" {
		startOffset = kgo.LastOffset
	}

	r := kgo.NewReader(kgo.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		StartOffset:    startOffset,
		CommitInterval: 0, // manual commits
	})

	logger.Info("Kafka consumer created",
		slog.Any("brokers", cfg.Brokers),
		slog.String("topic", cfg.Topic),
		slog.String("group_id", cfg.GroupID),
	)

	return &Consumer{reader: r, logger: logger}
}

// Fetch blocks until the next message is available. Its offset is not
// committed until Commit is called.
func (c *Consumer) Fetch(ctx context.Context) (kgo.Message, error) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kgo.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return m, nil
}

// Commit marks msgs as processed
func (c *Consumer) Commit(ctx context.Context, msgs ...kgo.Message) error {
	cctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()

	if err := c.reader.CommitMessages(cctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

// Close leaves the group and closes the reader
func (c *Consumer) Close() error {
	c.logger.Info("Closing Kafka consumer")
	return c.reader.Close()
}
