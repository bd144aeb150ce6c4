package domain

import (
	"context"
	"time"
)

// CacheStore is the thin key/value, hash and set surface over the shared store.
// Implementations return ErrCacheMiss from Get when the key is absent and wrap
// every transport error so the caller can decide whether to degrade.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)

	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key, field, value string) error
	// HMSet writes all fields and then applies ttl in the same round trip.
	HMSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
}

// LockManager provides create-if-absent locks on the shared store.
type LockManager interface {
	// AcquireLock performs SET NX with ttl. It returns true only if this call created the key.
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes the key unconditionally. It reports whether a key was removed.
	ReleaseLock(ctx context.Context, key string) (bool, error)
	// ReleaseLockIfOwner deletes the key only if it still holds value.
	ReleaseLockIfOwner(ctx context.Context, key, value string) (bool, error)
	// RefreshLock extends the ttl only if the key still holds value.
	RefreshLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// ConnectionState reports whether the store connection is currently believed healthy.
type ConnectionState interface {
	IsUp() bool
}

// WorkerRegistry tracks live queue consumers so producers can refuse work nobody would drain.
type WorkerRegistry interface {
	Heartbeat(ctx context.Context, queue, workerID string, ttl time.Duration) error
	Unregister(ctx context.Context, queue, workerID string) error
	HasActiveWorkers(ctx context.Context, queue string, ttl time.Duration) (bool, error)
}
