package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
)

// NewClient builds the shared client. Connection timeouts live here, not in callers.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  config.Millis(cfg.DialTimeoutMs, 5*time.Second),
		ReadTimeout:  config.Millis(cfg.ReadTimeoutMs, 3*time.Second),
		WriteTimeout: config.Millis(cfg.WriteTimeoutMs, 3*time.Second),
		PoolSize:     cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}

// PolicyFromConfig builds the reconnect policy from configuration.
func PolicyFromConfig(cfg config.RedisConfig) ConnectionPolicy {
	return ConnectionPolicy{
		BaseDelay:      config.Millis(cfg.RetryBaseDelayMs, 500*time.Millisecond),
		MaxDelay:       config.Millis(cfg.RetryMaxDelayMs, 5*time.Second),
		MaxAttempts:    cfg.MaxRetryAttempts,
		HealthInterval: config.Millis(cfg.HealthIntervalMs, 5*time.Second),
		FatalGrace:     config.Seconds(cfg.FatalGraceSeconds, 5*time.Second),
	}
}
