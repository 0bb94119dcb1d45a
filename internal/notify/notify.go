// Package notify carries job-ready wake-ups between the queue and workers.
// Messages are hints only: a worker that receives one still claims work
// through DequeueNext, so lost or duplicated messages are harmless.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cuongbtq/profile-queue/internal/queue/domain"
)

// ContentType of encoded messages
const ContentType = "application/json"

// Message is the wire form of a job-ready notification
type Message struct {
	JobID    string          `json:"job_id"`
	Subject  string          `json:"subject"`
	Priority domain.Priority `json:"priority"`
}

// Encode serialises a notification for job
func Encode(job *domain.Job) ([]byte, error) {
	body, err := json.Marshal(Message{
		JobID:    job.ID,
		Subject:  job.Subject,
		Priority: job.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return body, nil
}

// Decode parses and checks a notification body
func Decode(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("invalid job_id %q: %w", msg.JobID, err)
	}
	return &msg, nil
}

// Broker is the publishing side of the message transport
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher sends job-ready notifications through a Broker
type Publisher struct {
	broker Broker
}

// NewPublisher creates a publisher on broker
func NewPublisher(broker Broker) *Publisher {
	return &Publisher{broker: broker}
}

// JobReady publishes a wake-up for job
func (p *Publisher) JobReady(ctx context.Context, job *domain.Job) error {
	body, err := Encode(job)
	if err != nil {
		return err
	}
	if err := p.broker.PublishWithRetry(ctx, body, ContentType); err != nil {
		return fmt.Errorf("failed to publish job ready: %w", err)
	}
	return nil
}
