package benchmarks

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/benchmarks/mocks"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/application"
)

func setupLockBenchmark(b *testing.B) (*application.DistributedLock, *mocks.MockLockManager) {
	b.Helper()
	mgr := mocks.NewMockLockManager()
	return application.NewDistributedLock(mgr, &mocks.MockConnectionState{}, logger.NewNop()), mgr
}

// BenchmarkDistributedLock measures owner lock acquisition and release.
func BenchmarkDistributedLock(b *testing.B) {
	ctx := context.Background()
	ttl := 30 * time.Second

	b.Run("AcquireRelease", func(b *testing.B) {
		locks, _ := setupLockBenchmark(b)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			owner := fmt.Sprintf("user_%d", i)
			if !locks.Acquire(ctx, "translation", owner, ttl) {
				b.Fatalf("expected to acquire lock for %s", owner)
			}
			locks.Release(ctx, "translation", owner)
		}
	})

	b.Run("ConcurrentDistinctOwners", func(b *testing.B) {
		locks, _ := setupLockBenchmark(b)
		var next atomic.Int64
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				owner := fmt.Sprintf("user_%d", next.Add(1))
				if !locks.Acquire(ctx, "translation", owner, ttl) {
					b.Errorf("expected to acquire lock for %s", owner)
				}
			}
		})
	})

	b.Run("Contention", func(b *testing.B) {
		locks, _ := setupLockBenchmark(b)
		var acquired atomic.Int64
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if locks.Acquire(ctx, "translation", "same-user", ttl) {
					acquired.Add(1)
				}
			}
		})
		b.StopTimer()
		if acquired.Load() != 1 {
			b.Fatalf("expected exactly one holder, got %d", acquired.Load())
		}
	})

	b.Run("OwnedRefresh", func(b *testing.B) {
		locks, _ := setupLockBenchmark(b)
		token, ok := locks.AcquireOwned(ctx, "batch", "send-reminders", ttl)
		if !ok {
			b.Fatal("expected to acquire batch lock")
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if !locks.Refresh(ctx, "batch", "send-reminders", token, ttl) {
				b.Fatal("refresh lost the lock")
			}
		}
		b.StopTimer()
		locks.ReleaseOwned(ctx, "batch", "send-reminders", token)
	})
}
