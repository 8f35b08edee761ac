package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/havenmind/crisis-engine/pkg/logging"
)

// Publisher hands notification jobs to the outbox for reliable delivery.
// When no outbox is configured (memory-queue development mode) jobs go
// straight to the queue.
type Publisher struct {
	outbox *OutboxStore
	queue  QueueClient
	logger *logging.Logger
}

func NewPublisher(outbox *OutboxStore, queue QueueClient, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{outbox: outbox, queue: queue, logger: logger.Component("publisher")}
}

// Publish enqueues a notification job. The caller treats failures as
// non-fatal: the locally computed response must stand regardless.
func (p *Publisher) Publish(ctx context.Context, job NotificationJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	if p.outbox != nil {
		if _, err := p.outbox.Insert(ctx, job.UserRef, string(job.Type), job); err != nil {
			return fmt.Errorf("events: publish via outbox: %w", err)
		}
		return nil
	}

	if p.queue == nil {
		p.logger.Warn("no notification transport configured, dropping job", "job_type", job.Type)
		return nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("events: marshal job: %w", err)
	}
	if err := p.queue.Send(ctx, string(data)); err != nil {
		return fmt.Errorf("events: publish to queue: %w", err)
	}
	return nil
}
