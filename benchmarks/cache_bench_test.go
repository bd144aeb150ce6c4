package benchmarks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/benchmarks/mocks"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/application"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

func setupCacheBenchmark(b *testing.B) (*application.CacheService, *mocks.MockCacheStore) {
	b.Helper()
	store := mocks.NewMockCacheStore()
	cache := application.NewCacheService(store, logger.NewNop(), application.CacheOptions{
		DefaultTTL:      time.Minute,
		MaxJitter:       time.Second,
		BreakerCooldown: 30 * time.Second,
	})
	return cache, store
}

// BenchmarkCacheService measures the breaker-guarded read-through paths.
func BenchmarkCacheService(b *testing.B) {
	ctx := context.Background()

	b.Run("SetGet", func(b *testing.B) {
		cache, _ := setupCacheBenchmark(b)
		doc := domain.Document{ID: "d1", OwnerID: "u1", FileName: "a.pdf", TranslatedText: "hola"}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			key := fmt.Sprintf("doc:%d", i%1024)
			cache.Set(ctx, key, doc, time.Minute)
			var out domain.Document
			if !cache.Get(ctx, key, &out) {
				b.Fatalf("cache miss for %s", key)
			}
		}
	})

	b.Run("GetOrFetchHit", func(b *testing.B) {
		cache, _ := setupCacheBenchmark(b)
		fetch := func(context.Context) (domain.Document, error) {
			return domain.Document{ID: "d1"}, nil
		}
		if _, err := application.GetOrFetch(ctx, cache, "doc:hot", time.Minute, fetch); err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := application.GetOrFetch(ctx, cache, "doc:hot", time.Minute, fetch); err != nil {
					b.Error(err)
				}
			}
		})
	})

	b.Run("GetOrFetchBreakerOpen", func(b *testing.B) {
		cache, store := setupCacheBenchmark(b)
		store.SetFail(true)
		fetch := func(context.Context) (int, error) { return 1, nil }
		for i := 0; i < 10; i++ {
			_, _ = application.GetOrFetch(ctx, cache, "k", time.Minute, fetch)
		}
		calls := store.CallCount()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := application.GetOrFetch(ctx, cache, "k", time.Minute, fetch); err != nil {
				b.Fatal(err)
			}
		}
		b.StopTimer()
		b.Logf("store calls while open: %d", store.CallCount()-calls)
	})

	b.Run("TagInvalidation", func(b *testing.B) {
		cache, _ := setupCacheBenchmark(b)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			tag := fmt.Sprintf("tag:owner:%d", i%64)
			key := fmt.Sprintf("doc:list:%d", i)
			cache.Set(ctx, key, i, time.Minute)
			cache.AddToTag(ctx, tag, key)
			if i%16 == 0 {
				cache.InvalidateTag(ctx, tag)
			}
		}
	})
}
