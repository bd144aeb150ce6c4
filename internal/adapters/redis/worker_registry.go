package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

// WorkerRegistryAdapter keeps one sorted set per queue (workers:{queue}) scored by the
// last heartbeat in unix milliseconds.
type WorkerRegistryAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
	now         func() time.Time
}

func NewWorkerRegistryAdapter(redisClient *redis.Client, logger domain.Logger) *WorkerRegistryAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewWorkerRegistryAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewWorkerRegistryAdapter")
	}
	return &WorkerRegistryAdapter{
		redisClient: redisClient,
		logger:      logger,
		now:         time.Now,
	}
}

// Heartbeat records workerID as alive on queue and keeps the set itself from living forever.
func (a *WorkerRegistryAdapter) Heartbeat(ctx context.Context, queue, workerID string, ttl time.Duration) error {
	key := rediskeys.WorkersKey(queue)
	pipe := a.redisClient.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(a.now().UnixMilli()), Member: workerID})
	pipe.Expire(ctx, key, 2*ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		a.logger.Error(ctx, "Failed to record worker heartbeat", "key", key, "worker_id", workerID, "error", err.Error())
		return fmt.Errorf("redis ZADD/EXPIRE for workers key '%s' failed: %w", key, err)
	}
	return nil
}

func (a *WorkerRegistryAdapter) Unregister(ctx context.Context, queue, workerID string) error {
	key := rediskeys.WorkersKey(queue)
	if err := a.redisClient.ZRem(ctx, key, workerID).Err(); err != nil {
		a.logger.Error(ctx, "Failed to unregister worker", "key", key, "worker_id", workerID, "error", err.Error())
		return fmt.Errorf("redis ZREM for workers key '%s' failed: %w", key, err)
	}
	a.logger.Debug(ctx, "Worker unregistered", "key", key, "worker_id", workerID)
	return nil
}

// HasActiveWorkers prunes heartbeats older than ttl and reports whether any remain.
func (a *WorkerRegistryAdapter) HasActiveWorkers(ctx context.Context, queue string, ttl time.Duration) (bool, error) {
	key := rediskeys.WorkersKey(queue)
	cutoff := strconv.FormatInt(a.now().Add(-ttl).UnixMilli(), 10)

	pipe := a.redisClient.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff)
	count := pipe.ZCount(ctx, key, cutoff, "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis ZCOUNT for workers key '%s' failed: %w", key, err)
	}
	return count.Val() > 0, nil
}
