package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/profile-queue/internal/notify"
)

// setupConsumer starts consuming job-ready notifications
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	consumerTag := w.workerID

	// auto-ack is off; deliveries are acked as soon as they are turned into a wake-up
	deliveries, err := w.wakeups.Consume(consumerTag)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("worker_id", w.workerID),
	)

	return deliveries, nil
}

// startMessageDispatcher turns deliveries into wake-ups for the pool.
// The queue store stays the source of truth: a notification only tells an idle
// goroutine to dequeue now instead of at its next poll.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, falling back to polling")
				return
			}

			msg, err := notify.Decode(delivery.Body)
			if err != nil {
				w.logger.Error("Failed to parse job notification",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// malformed messages go to the DLQ
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK notification",
					slog.String("job_id", msg.JobID),
					slog.String("error", ackErr.Error()),
				)
			}

			w.logger.Debug("Job notification received",
				slog.String("job_id", msg.JobID),
				slog.String("priority", msg.Priority.String()),
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
			)
			w.Wake()
		}
	}
}
