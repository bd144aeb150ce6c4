package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// CacheStoreAdapter implements domain.CacheStore on a go-redis client.
// It only translates and wraps errors; degrade decisions belong to the cache service.
type CacheStoreAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

// NewCacheStoreAdapter creates a new instance of CacheStoreAdapter.
func NewCacheStoreAdapter(redisClient *redis.Client, logger domain.Logger) *CacheStoreAdapter {
	if redisClient == nil {
		panic("redisClient cannot be nil in NewCacheStoreAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewCacheStoreAdapter")
	}
	return &CacheStoreAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

func (a *CacheStoreAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := a.redisClient.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET for key '%s' failed: %w", key, err)
	}
	return val, nil
}

func (a *CacheStoreAdapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := a.redisClient.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET for key '%s' failed: %w", key, err)
	}
	return nil
}

func (a *CacheStoreAdapter) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := a.redisClient.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis DEL for %d key(s) starting at '%s' failed: %w", len(keys), keys[0], err)
	}
	return n, nil
}

func (a *CacheStoreAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := a.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL for key '%s' failed: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrCacheMiss
	}
	return fields, nil
}

func (a *CacheStoreAdapter) HSet(ctx context.Context, key, field, value string) error {
	if err := a.redisClient.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("redis HSET for key '%s' field '%s' failed: %w", key, field, err)
	}
	return nil
}

// HMSet writes fields and the TTL inside one MULTI so readers never see the hash without an expiry.
func (a *CacheStoreAdapter) HMSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	_, err := a.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis HSET/EXPIRE for key '%s' failed: %w", key, err)
	}
	return nil
}

func (a *CacheStoreAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := a.redisClient.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis EXPIRE for key '%s' failed: %w", key, err)
	}
	return nil
}

func (a *CacheStoreAdapter) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := a.redisClient.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("redis SADD for key '%s' failed: %w", key, err)
	}
	return nil
}

func (a *CacheStoreAdapter) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := a.redisClient.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS for key '%s' failed: %w", key, err)
	}
	return members, nil
}

func (a *CacheStoreAdapter) Ping(ctx context.Context) error {
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING failed: %w", err)
	}
	return nil
}
