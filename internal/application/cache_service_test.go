package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"gitlab.com/timkado/api/doc-translate-service/benchmarks/mocks"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

type cachedDoc struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

func TestGetOrFetchCoalescesConcurrentMisses(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()

	var fetches int64
	release := make(chan struct{})
	fetch := func(ctx context.Context) (cachedDoc, error) {
		atomic.AddInt64(&fetches, 1)
		<-release
		return cachedDoc{ID: "d1", Body: "hello"}, nil
	}

	const callers = 10
	results := make([]cachedDoc, callers)
	var started, wg sync.WaitGroup
	started.Add(callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			started.Done()
			v, err := GetOrFetch(ctx, cache, "doc:u1:d1", 0, fetch)
			if err != nil {
				t.Errorf("caller %d: unexpected error: %v", i, err)
			}
			results[i] = v
		}(i)
	}
	started.Wait()
	// give every caller time to miss and join the pending fetch
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt64(&fetches); n != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", n)
	}
	for i, r := range results {
		if r != results[0] {
			t.Fatalf("caller %d got %+v, want %+v", i, r, results[0])
		}
	}
	if !store.Exists("doc:u1:d1") {
		t.Fatal("fetched value was not written back to the cache")
	}
}

func TestGetOrFetchHitSkipsFetch(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()

	if !cache.Set(ctx, "doc:u1:d2", cachedDoc{ID: "d2"}, 0) {
		t.Fatal("set failed")
	}
	v, err := GetOrFetch(ctx, cache, "doc:u1:d2", 0, func(ctx context.Context) (cachedDoc, error) {
		t.Fatal("fetch must not run on a hit")
		return cachedDoc{}, nil
	})
	if err != nil || v.ID != "d2" {
		t.Fatalf("got %+v, %v", v, err)
	}
}

func TestGetOrFetchErrorPropagatesUncached(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := GetOrFetch(ctx, cache, "doc:u1:d3", 0, func(ctx context.Context) (*cachedDoc, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if store.Exists("doc:u1:d3") {
		t.Fatal("failed fetch must not be cached")
	}

	calls := 0
	v, err := GetOrFetch(ctx, cache, "doc:u1:d3", 0, func(ctx context.Context) (*cachedDoc, error) {
		calls++
		return &cachedDoc{ID: "d3"}, nil
	})
	if err != nil || v == nil || v.ID != "d3" || calls != 1 {
		t.Fatalf("second fetch: got %+v, %v, calls=%d", v, err, calls)
	}
}

func TestGetOrFetchDoesNotCacheZeroValues(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	}
	for i := 0; i < 2; i++ {
		if v, err := GetOrFetch(ctx, cache, "counter:u1", 0, fetch); err != nil || v != 0 {
			t.Fatalf("got %d, %v", v, err)
		}
	}
	if calls != 2 {
		t.Fatalf("zero value must not be cached, fetch ran %d times", calls)
	}
}

func TestInvalidateTagRemovesEveryMember(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()
	tag := rediskeys.DocsTagKey("u1")

	keys := []string{
		rediskeys.DocKey("u1", "a"),
		rediskeys.DocKey("u1", "b"),
		rediskeys.DocListKey("u1", 20, 0),
	}
	for _, k := range keys {
		cache.Set(ctx, k, cachedDoc{ID: k}, 0)
		cache.AddToTag(ctx, tag, k)
	}

	if !cache.InvalidateTag(ctx, tag) {
		t.Fatal("invalidate reported failure")
	}
	for _, k := range keys {
		var d cachedDoc
		if cache.Get(ctx, k, &d) {
			t.Fatalf("key %s survived tag invalidation", k)
		}
	}
	members, _ := store.SMembers(ctx, tag)
	if len(members) != 0 {
		t.Fatalf("tag still has members: %v", members)
	}
}

func TestDeleteOnWriteForcesRefetch(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()
	key := rediskeys.DocKey("u1", "d1")
	tag := rediskeys.DocsTagKey("u1")

	version := "v1"
	fetches := 0
	fetch := func(ctx context.Context) (cachedDoc, error) {
		fetches++
		return cachedDoc{ID: "d1", Body: version}, nil
	}

	v, _ := GetOrFetch(ctx, cache, key, 0, fetch)
	cache.AddToTag(ctx, tag, key)
	if v.Body != "v1" {
		t.Fatalf("got %q", v.Body)
	}

	version = "v2"
	cache.Delete(ctx, key)
	cache.InvalidateTag(ctx, tag)

	v, _ = GetOrFetch(ctx, cache, key, 0, fetch)
	if v.Body != "v2" || fetches != 2 {
		t.Fatalf("expected refetch of v2, got %q after %d fetches", v.Body, fetches)
	}
}

func TestBreakerDegradesAndRecovers(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, 100*time.Millisecond)
	ctx := context.Background()

	store.SetFail(true)
	var d cachedDoc
	if cache.Get(ctx, "doc:u1:x", &d) {
		t.Fatal("get must miss while the store fails")
	}
	if cache.BreakerState() != gobreaker.StateOpen {
		t.Fatalf("breaker should be open, got %s", cache.BreakerState())
	}

	before := store.CallCount()
	if cache.Get(ctx, "doc:u1:x", &d) {
		t.Fatal("get must miss while open")
	}
	if cache.Set(ctx, "doc:u1:x", d, 0) {
		t.Fatal("set must report false while open")
	}
	if store.CallCount() != before {
		t.Fatalf("store contacted while open: %d calls", store.CallCount()-before)
	}

	store.SetFail(false)
	time.Sleep(150 * time.Millisecond)
	if !cache.Set(ctx, "doc:u1:x", cachedDoc{ID: "x"}, 0) {
		t.Fatal("set should succeed after cool-down")
	}
	if !cache.Get(ctx, "doc:u1:x", &d) || d.ID != "x" {
		t.Fatalf("get after recovery: %+v", d)
	}
	if cache.BreakerState() != gobreaker.StateClosed {
		t.Fatalf("breaker should be closed, got %s", cache.BreakerState())
	}
}

func TestGetOrFetchWithOpenBreakerStillFetches(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()
	store.SetFail(true)

	v, err := GetOrFetch(ctx, cache, "doc:u1:y", 0, func(ctx context.Context) (cachedDoc, error) {
		return cachedDoc{ID: "y"}, nil
	})
	if err != nil || v.ID != "y" {
		t.Fatalf("cache outage must not block reads: %+v, %v", v, err)
	}
}

func TestJitteredTTLBounds(t *testing.T) {
	cache := newTestCache(mocks.NewMockCacheStore(), time.Minute)
	for i := 0; i < 200; i++ {
		ttl := cache.TTL(30 * time.Second)
		if ttl < 30*time.Second || ttl > 40*time.Second {
			t.Fatalf("ttl %s outside [30s, 40s]", ttl)
		}
	}
	if got := cache.TTL(0); got < time.Minute || got > time.Minute+10*time.Second {
		t.Fatalf("default ttl %s outside bounds", got)
	}
}

func TestHMSetAppliesJitteredTTL(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	cache.jitter = func(time.Duration) time.Duration { return 5 * time.Second }
	ctx := context.Background()

	if !cache.HMSet(ctx, "job:1", map[string]string{"status": "queued"}, 20*time.Second) {
		t.Fatal("hmset failed")
	}
	if ttl := store.TTL("job:1"); ttl <= 20*time.Second || ttl > 25*time.Second {
		t.Fatalf("unexpected ttl %s", ttl)
	}
	fields := cache.HGetAll(ctx, "job:1")
	if fields["status"] != "queued" {
		t.Fatalf("fields: %v", fields)
	}
	if cache.HGetAll(ctx, "job:missing") != nil {
		t.Fatal("missing hash should be nil")
	}
}

func TestGetDropsUndecodableEntry(t *testing.T) {
	store := mocks.NewMockCacheStore()
	cache := newTestCache(store, time.Minute)
	ctx := context.Background()
	_ = store.Set(ctx, "doc:u1:bad", []byte("{not json"), time.Minute)

	var d cachedDoc
	if cache.Get(ctx, "doc:u1:bad", &d) {
		t.Fatal("undecodable entry must be a miss")
	}
	if store.Exists("doc:u1:bad") {
		t.Fatal("undecodable entry should be deleted")
	}
	if _, err := store.Get(ctx, "doc:u1:bad"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}
