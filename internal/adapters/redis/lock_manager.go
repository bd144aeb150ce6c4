package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

var (
	releaseIfOwnerScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)

	refreshIfOwnerScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// LockManagerAdapter implements domain.LockManager using Redis SET NX.
type LockManagerAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

// NewLockManagerAdapter creates a new instance of LockManagerAdapter.
func NewLockManagerAdapter(redisClient *redis.Client, logger domain.Logger) *LockManagerAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewLockManagerAdapter")
	}
	return &LockManagerAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

// AcquireLock attempts to acquire a lock (SETNX behavior) for the given key with a specific value and TTL.
func (a *LockManagerAdapter) AcquireLock(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	acquired, err := a.redisClient.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX for key '%s' failed: %w", key, err)
	}

	if !acquired && a.logger != nil {
		// who holds it is only interesting while debugging contention
		holder, getErr := a.redisClient.Get(ctx, key).Result()
		switch {
		case errors.Is(getErr, redis.Nil):
			a.logger.Debug(ctx, "Lock key expired between SETNX and holder lookup", "key", key)
		case getErr != nil:
			a.logger.Debug(ctx, "Failed to read lock holder after SETNX", "key", key, "error", getErr.Error())
		default:
			a.logger.Debug(ctx, "Lock held by another owner", "key", key, "current_holder", holder, "attempted_value", value)
		}
	}
	return acquired, nil
}

// ReleaseLock deletes the lock key unconditionally and reports whether it existed.
func (a *LockManagerAdapter) ReleaseLock(ctx context.Context, key string) (bool, error) {
	n, err := a.redisClient.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis DEL for lock key '%s' failed: %w", key, err)
	}
	return n > 0, nil
}

// ReleaseLockIfOwner deletes the lock only if it still holds value (compare-and-delete in Lua).
func (a *LockManagerAdapter) ReleaseLockIfOwner(ctx context.Context, key string, value string) (bool, error) {
	result, err := releaseIfOwnerScript.Run(ctx, a.redisClient, []string{key}, value).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis EVAL for ReleaseLockIfOwner on key '%s' failed: %w", key, err)
	}
	return result == 1, nil
}

// RefreshLock extends the TTL only if the lock still holds value.
func (a *LockManagerAdapter) RefreshLock(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	result, err := refreshIfOwnerScript.Run(ctx, a.redisClient, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("redis EVAL for RefreshLock on key '%s' failed: %w", key, err)
	}
	return result == 1, nil
}
