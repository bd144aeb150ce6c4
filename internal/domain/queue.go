package domain

import (
	"context"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/pkg/stream"
)

// JobQueue is the produce side of the durable job queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
}

// JobConsumer pulls deliveries for a single queue.
type JobConsumer interface {
	// Fetch blocks until at least one delivery is available, the wait expires or ctx ends.
	Fetch(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)
	Close() error
}

// Delivery is one claim on a job. Exactly one of Ack, Nak, Term or Requeue settles it.
type Delivery interface {
	Job() Job
	Ack(ctx context.Context) error
	// Nak returns the job to the queue. It is redelivered after delay.
	Nak(ctx context.Context, delay time.Duration) error
	// Term drops the job without further redelivery.
	Term(ctx context.Context) error
	// Requeue hands the job back for another worker without consuming an attempt.
	Requeue(ctx context.Context) error
	// InProgress extends the claim while a stage is still running.
	InProgress(ctx context.Context) error
}

// JobEventPublisher fans job status transitions out to live listeners.
type JobEventPublisher interface {
	PublishJobEvent(ctx context.Context, event JobEvent) error
}

// JobEventSubscriber opens a subscription on a single job's events. Closing the
// returned stream unsubscribes.
type JobEventSubscriber interface {
	SubscribeJobEvents(ctx context.Context, jobID string) (*stream.Stream[JobEvent], error)
}
