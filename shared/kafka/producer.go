package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

// Producer writes keyed messages to one topic
type Producer struct {
	writer  *kgo.Writer
	timeout time.Duration
}

// NewProducer creates a producer for topic
func NewProducer(brokers []string, topic string, timeout time.Duration) (*Producer, error) {
	if topic == "" {
		return nil, errors.New("kafka producer topic is required")
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer needs at least one broker")
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
	}

	return &Producer{writer: w, timeout: timeout}, nil
}

// Publish writes one message. Messages with the same key keep their order.
func (p *Producer) Publish(ctx context.Context, key string, value []byte, headers ...kgo.Header) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.writer.WriteMessages(cctx, kgo.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// PublishJSON marshals v and publishes it under key
func (p *Producer) PublishJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return p.Publish(ctx, key, b)
}

// Close flushes pending writes
func (p *Producer) Close() error { return p.writer.Close() }
