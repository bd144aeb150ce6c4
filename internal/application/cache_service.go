package application

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/singleflight"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

const cacheBreakerName = "cache"

// CacheOptions tunes the cache-aside service.
type CacheOptions struct {
	DefaultTTL      time.Duration
	MaxJitter       time.Duration
	BreakerCooldown time.Duration
}

// CacheService is an advisory cache in front of the source of truth. Store failures
// never reach callers: the first one opens the breaker and every call degrades to a
// miss or no-op until the cool-down elapses.
type CacheService struct {
	store   domain.CacheStore
	logger  domain.Logger
	opts    CacheOptions
	breaker *gobreaker.CircuitBreaker[any]
	pending singleflight.Group
	jitter  func(max time.Duration) time.Duration
}

// NewCacheService wires the store behind a breaker that opens on the first error.
func NewCacheService(store domain.CacheStore, logger domain.Logger, opts CacheOptions) *CacheService {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	s := &CacheService{
		store:  store,
		logger: logger,
		opts:   opts,
		jitter: randomJitter,
	}
	s.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cacheBreakerName,
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, breakerStateValue(to))
			logger.Warn(context.Background(), "Cache circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	metrics.SetBreakerState(cacheBreakerName, 0)
	return s
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerState exposes the breaker state for readiness checks.
func (s *CacheService) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// TTL returns base (or the default when base is zero) plus a random jitter in [0, MaxJitter].
func (s *CacheService) TTL(base time.Duration) time.Duration {
	if base <= 0 {
		base = s.opts.DefaultTTL
	}
	return base + s.jitter(s.opts.MaxJitter)
}

// do runs fn through the breaker. ok is false when the call was short-circuited or failed.
func (s *CacheService) do(ctx context.Context, op, key string, fn func() (any, error)) (any, bool) {
	res, err := s.breaker.Execute(fn)
	if err == nil {
		return res, true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.IncCache("short_circuit")
		return nil, false
	}
	metrics.IncCacheStoreError(op)
	s.logger.Warn(ctx, "Cache store operation failed; degrading to source of truth",
		"op", op, "key", key, "error", err.Error())
	return nil, false
}

// GetBytes returns the raw value at key. ok is false on miss, error or open breaker.
func (s *CacheService) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	res, ok := s.do(ctx, "get", key, func() (any, error) {
		b, err := s.store.Get(ctx, key)
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, nil
		}
		return b, err
	})
	if !ok || res == nil {
		return nil, false
	}
	b, _ := res.([]byte)
	return b, b != nil
}

// Get decodes the value at key into dest and reports whether it was a hit.
func (s *CacheService) Get(ctx context.Context, key string, dest any) bool {
	b, ok := s.GetBytes(ctx, key)
	if !ok {
		metrics.IncCache("miss")
		return false
	}
	if err := json.Unmarshal(b, dest); err != nil {
		s.logger.Warn(ctx, "Dropping undecodable cache entry", "key", key, "error", err.Error())
		s.Delete(ctx, key)
		metrics.IncCache("miss")
		return false
	}
	metrics.IncCache("hit")
	return true
}

// Set stores value as JSON with a jittered TTL. It reports false instead of failing.
func (s *CacheService) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	b, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn(ctx, "Value not cacheable", "key", key, "error", err.Error())
		return false
	}
	_, ok := s.do(ctx, "set", key, func() (any, error) {
		return nil, s.store.Set(ctx, key, b, s.TTL(ttl))
	})
	return ok
}

// HGetAll returns the hash at key, or nil on miss.
func (s *CacheService) HGetAll(ctx context.Context, key string) map[string]string {
	res, ok := s.do(ctx, "hgetall", key, func() (any, error) {
		fields, err := s.store.HGetAll(ctx, key)
		if errors.Is(err, domain.ErrCacheMiss) {
			return nil, nil
		}
		return fields, err
	})
	if !ok || res == nil {
		return nil
	}
	fields, _ := res.(map[string]string)
	return fields
}

// HSet writes a single hash field without touching the TTL.
func (s *CacheService) HSet(ctx context.Context, key, field, value string) bool {
	_, ok := s.do(ctx, "hset", key, func() (any, error) {
		return nil, s.store.HSet(ctx, key, field, value)
	})
	return ok
}

// HMSet writes all fields and re-applies a jittered TTL.
func (s *CacheService) HMSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) bool {
	_, ok := s.do(ctx, "hmset", key, func() (any, error) {
		return nil, s.store.HMSet(ctx, key, fields, s.TTL(ttl))
	})
	return ok
}

// Delete removes key. Deletion is the only way cached values change.
func (s *CacheService) Delete(ctx context.Context, key string) bool {
	return s.DeleteMany(ctx, []string{key})
}

// DeleteMany removes every key.
func (s *CacheService) DeleteMany(ctx context.Context, keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	_, ok := s.do(ctx, "del", keys[0], func() (any, error) {
		_, err := s.store.Del(ctx, keys...)
		return nil, err
	})
	return ok
}

// AddToTag records key as a member of tag.
func (s *CacheService) AddToTag(ctx context.Context, tag, key string) bool {
	_, ok := s.do(ctx, "sadd", tag, func() (any, error) {
		return nil, s.store.SAdd(ctx, tag, key)
	})
	return ok
}

// InvalidateTag deletes every member of tag and then the tag itself. A failure part
// way through is logged and left for TTL expiry.
func (s *CacheService) InvalidateTag(ctx context.Context, tag string) bool {
	res, ok := s.do(ctx, "smembers", tag, func() (any, error) {
		return s.store.SMembers(ctx, tag)
	})
	if !ok {
		s.logger.Warn(ctx, "Tag invalidation skipped; members unavailable", "tag", tag)
		return false
	}
	members, _ := res.([]string)
	if len(members) > 0 && !s.DeleteMany(ctx, members) {
		s.logger.Warn(ctx, "Tag invalidation incomplete; member delete failed", "tag", tag, "members", len(members))
		return false
	}
	if !s.Delete(ctx, tag) {
		s.logger.Warn(ctx, "Tag invalidation incomplete; tag delete failed", "tag", tag)
		return false
	}
	s.logger.Debug(ctx, "Tag invalidated", "tag", tag, "members", len(members))
	return true
}

// GetOrFetch returns the cached value at key or runs fetch once per key per process,
// sharing the result with every concurrent caller. Zero values are returned but not
// cached. fetch errors are returned uncached.
func GetOrFetch[T any](ctx context.Context, s *CacheService, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	if s.Get(ctx, key, &cached) {
		return cached, nil
	}

	v, err, shared := s.pending.Do(key, func() (any, error) {
		value, err := fetch(ctx)
		if err != nil {
			return value, err
		}
		if !isZero(value) {
			s.Set(ctx, key, value, ttl)
		}
		return value, nil
	})
	if shared {
		metrics.IncCache("coalesced")
	}
	if err != nil {
		var zero T
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

func isZero(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return !rv.IsValid() || rv.IsZero()
}
