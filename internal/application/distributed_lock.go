package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

// DistributedLock guards owner scoped operations across processes with lock:{prefix}:{identifier}.
type DistributedLock struct {
	locks   domain.LockManager
	conn    domain.ConnectionState
	logger  domain.Logger
	ownerID string
}

// NewDistributedLock creates a lock helper. Every lock this process takes stores ownerID as value.
func NewDistributedLock(locks domain.LockManager, conn domain.ConnectionState, logger domain.Logger) *DistributedLock {
	return &DistributedLock{
		locks:   locks,
		conn:    conn,
		logger:  logger,
		ownerID: "proc-" + uuid.NewString(),
	}
}

// Acquire reports whether this call created the lock. Store errors count as not acquired.
func (l *DistributedLock) Acquire(ctx context.Context, prefix, identifier string, ttl time.Duration) bool {
	return l.acquire(ctx, prefix, identifier, l.ownerID, ttl)
}

// AcquireOwned takes the lock with a fresh token so only the holder can refresh or release it.
// The token is empty when the lock was not acquired.
func (l *DistributedLock) AcquireOwned(ctx context.Context, prefix, identifier string, ttl time.Duration) (string, bool) {
	token := uuid.NewString()
	if !l.acquire(ctx, prefix, identifier, token, ttl) {
		return "", false
	}
	return token, true
}

// AcquireWithToken is AcquireOwned with a caller chosen token, used when the holder
// changes process, e.g. a job lock taken by the API and released by a worker.
func (l *DistributedLock) AcquireWithToken(ctx context.Context, prefix, identifier, token string, ttl time.Duration) bool {
	return l.acquire(ctx, prefix, identifier, token, ttl)
}

func (l *DistributedLock) acquire(ctx context.Context, prefix, identifier, value string, ttl time.Duration) bool {
	key := rediskeys.LockKey(prefix, identifier)
	ok, err := l.locks.AcquireLock(ctx, key, value, ttl)
	if err != nil {
		metrics.IncLock(prefix, "acquire", "error")
		l.logger.Error(ctx, "Failed to acquire lock; treating as held", "key", key, "error", err.Error())
		return false
	}
	if !ok {
		metrics.IncLock(prefix, "acquire", "contended")
		l.logger.Debug(ctx, "Lock already held", "key", key)
		return false
	}
	metrics.IncLock(prefix, "acquire", "acquired")
	return true
}

// Release deletes the lock. It is a no-op while the connection is down and
// never fails: a missing key is only logged.
func (l *DistributedLock) Release(ctx context.Context, prefix, identifier string) bool {
	key := rediskeys.LockKey(prefix, identifier)
	if l.conn != nil && !l.conn.IsUp() {
		metrics.IncLock(prefix, "release", "skipped")
		l.logger.Warn(ctx, "Skipping lock release; connection down", "key", key)
		return false
	}
	removed, err := l.locks.ReleaseLock(ctx, key)
	if err != nil {
		metrics.IncLock(prefix, "release", "error")
		l.logger.Error(ctx, "Failed to release lock", "key", key, "error", err.Error())
		return false
	}
	if !removed {
		metrics.IncLock(prefix, "release", "missing")
		l.logger.Warn(ctx, "Lock was not held at release", "key", key)
		return false
	}
	metrics.IncLock(prefix, "release", "released")
	return true
}

// ReleaseOwned deletes the lock only if token still holds it.
func (l *DistributedLock) ReleaseOwned(ctx context.Context, prefix, identifier, token string) bool {
	key := rediskeys.LockKey(prefix, identifier)
	if l.conn != nil && !l.conn.IsUp() {
		metrics.IncLock(prefix, "release", "skipped")
		return false
	}
	removed, err := l.locks.ReleaseLockIfOwner(ctx, key, token)
	if err != nil {
		metrics.IncLock(prefix, "release", "error")
		l.logger.Error(ctx, "Failed to release owned lock", "key", key, "error", err.Error())
		return false
	}
	if !removed {
		metrics.IncLock(prefix, "release", "missing")
		l.logger.Warn(ctx, "Owned lock already gone or taken over", "key", key)
		return false
	}
	metrics.IncLock(prefix, "release", "released")
	return true
}

// Refresh extends the ttl of a lock held with token. false means the lock was lost.
func (l *DistributedLock) Refresh(ctx context.Context, prefix, identifier, token string, ttl time.Duration) bool {
	key := rediskeys.LockKey(prefix, identifier)
	ok, err := l.locks.RefreshLock(ctx, key, token, ttl)
	if err != nil {
		metrics.IncLock(prefix, "refresh", "error")
		l.logger.Warn(ctx, "Failed to refresh lock", "key", key, "error", err.Error())
		return false
	}
	if !ok {
		metrics.IncLock(prefix, "refresh", "lost")
		return false
	}
	metrics.IncLock(prefix, "refresh", "refreshed")
	return true
}
