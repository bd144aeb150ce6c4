package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/benchmarks/mocks"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

func TestConcurrentIdenticalRequestsHitStoreOnce(t *testing.T) {
	h := newHarness(t)
	docs := mocks.NewMockDocumentStore()
	docs.GetDelay = 50 * time.Millisecond
	docs.Put(domain.Document{ID: "d1", OwnerID: "u1", TranslatedText: "hello"})
	svc := NewDocumentQueryService(docs, h.cache, testLogger(), time.Minute, time.Minute)

	var wg sync.WaitGroup
	results := make([]*domain.Document, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := svc.Get(context.Background(), "u1", "d1")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			results[i] = d
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt64(&docs.GetCalls); n != 1 {
		t.Fatalf("expected exactly one database read, got %d", n)
	}
	for _, r := range results {
		if r == nil || r.TranslatedText != "hello" {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestDeleteInvalidatesCachedViews(t *testing.T) {
	h := newHarness(t)
	docs := mocks.NewMockDocumentStore()
	docs.Put(domain.Document{ID: "d1", OwnerID: "u1"})
	docs.Put(domain.Document{ID: "d2", OwnerID: "u1"})
	svc := NewDocumentQueryService(docs, h.cache, testLogger(), time.Minute, time.Minute)
	ctx := context.Background()

	list, err := svc.List(ctx, "u1", 20, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v, %v", list, err)
	}
	if _, err := svc.List(ctx, "u1", 20, 0); err != nil || docs.ListCalls != 1 {
		t.Fatalf("second list should be cached, store calls %d", docs.ListCalls)
	}

	if err := svc.Delete(ctx, "u1", "d1"); err != nil {
		t.Fatal(err)
	}
	list, _ = svc.List(ctx, "u1", 20, 0)
	if len(list) != 1 || docs.ListCalls != 2 {
		t.Fatalf("stale list after delete: %v (store calls %d)", list, docs.ListCalls)
	}
	if _, err := svc.Get(ctx, "u1", "d1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTagRegisteredOnFetchOnly(t *testing.T) {
	h := newHarness(t)
	docs := mocks.NewMockDocumentStore()
	docs.Put(domain.Document{ID: "d1", OwnerID: "u1"})
	svc := NewDocumentQueryService(docs, h.cache, testLogger(), time.Minute, time.Minute)
	ctx := context.Background()
	tag := rediskeys.DocsTagKey("u1")
	listKey := rediskeys.DocListKey("u1", 20, 0)

	if _, err := svc.List(ctx, "u1", 20, 0); err != nil {
		t.Fatal(err)
	}
	members, err := h.store.SMembers(ctx, tag)
	if err != nil || len(members) != 1 || members[0] != listKey {
		t.Fatalf("fetched page must be tagged, got %v (%v)", members, err)
	}

	if _, err := h.store.Del(ctx, tag); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.List(ctx, "u1", 20, 0); err != nil || docs.ListCalls != 1 {
		t.Fatalf("expected a cache hit, store calls %d (%v)", docs.ListCalls, err)
	}
	if h.store.Exists(tag) {
		t.Fatal("a cache hit must not touch the tag")
	}
}
