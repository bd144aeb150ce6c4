package redis

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
	"gitlab.com/timkado/api/doc-translate-service/pkg/stream"
)

const jobEventBuffer = 16

// JobEventPubSubAdapter implements JobEventPublisher and JobEventSubscriber on Redis pub/sub.
type JobEventPubSubAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

// NewJobEventPubSubAdapter creates a new adapter for Redis pub/sub.
func NewJobEventPubSubAdapter(redisClient *redis.Client, logger domain.Logger) *JobEventPubSubAdapter {
	return &JobEventPubSubAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

// PublishJobEvent publishes event on job_events:{jobID}.
func (a *JobEventPubSubAdapter) PublishJobEvent(ctx context.Context, event domain.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal JobEvent: %w", err)
	}
	channel := rediskeys.JobEventsChannel(event.JobID)
	if err := a.redisClient.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel '%s': %w", channel, err)
	}
	return nil
}

// SubscribeJobEvents subscribes to job_events:{jobID}. The subscription is confirmed
// before returning; closing the stream unsubscribes.
func (a *JobEventPubSubAdapter) SubscribeJobEvents(ctx context.Context, jobID string) (*stream.Stream[domain.JobEvent], error) {
	channel := rediskeys.JobEventsChannel(jobID)
	sub := a.redisClient.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel '%s': %w", channel, err)
	}
	a.logger.Debug(ctx, "Subscribed to job events", "channel", channel)

	return stream.New(ctx, jobEventBuffer, func(ctx context.Context, emit stream.Emit[domain.JobEvent]) error {
		defer func() {
			if err := sub.Close(); err != nil {
				a.logger.Warn(context.Background(), "Error closing job events subscription", "channel", channel, "error", err.Error())
			}
		}()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg, ok := <-ch:
				if !ok {
					return nil
				}
				var event domain.JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					a.logger.Error(ctx, "Failed to unmarshal JobEvent from pub/sub", "channel", msg.Channel, "error", err.Error())
					continue
				}
				if !emit(event) {
					return ctx.Err()
				}
			}
		}
	}), nil
}
