package redis

import (
	"context"
	"testing"
	"time"
)

func TestWorkerRegistryHeartbeatWindow(t *testing.T) {
	_, client := newTestRedis(t)
	reg := NewWorkerRegistryAdapter(client, testLogger())
	ctx := context.Background()

	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	ok, err := reg.HasActiveWorkers(ctx, "translation", 30*time.Second)
	if err != nil || ok {
		t.Fatalf("empty registry = %v, %v", ok, err)
	}

	if err := reg.Heartbeat(ctx, "translation", "worker-1", 30*time.Second); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if ok, err := reg.HasActiveWorkers(ctx, "translation", 30*time.Second); err != nil || !ok {
		t.Fatalf("after heartbeat = %v, %v", ok, err)
	}
	if ok, _ := reg.HasActiveWorkers(ctx, "summarization", 30*time.Second); ok {
		t.Fatal("heartbeat leaked into another queue")
	}

	now = now.Add(31 * time.Second)
	if ok, err := reg.HasActiveWorkers(ctx, "translation", 30*time.Second); err != nil || ok {
		t.Fatalf("stale heartbeat still counted: %v, %v", ok, err)
	}

	if err := reg.Heartbeat(ctx, "translation", "worker-2", 30*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := reg.Unregister(ctx, "translation", "worker-2"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if ok, _ := reg.HasActiveWorkers(ctx, "translation", 30*time.Second); ok {
		t.Fatal("unregistered worker still counted")
	}
}
