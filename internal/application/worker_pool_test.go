package application

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/benchmarks/mocks"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

func TestPoolHeartbeatsAdvertiseQueues(t *testing.T) {
	h := newHarness(t)
	w, _ := NewJobWorker(testQueue(3), mocks.NewMockConsumer(1), processorFunc(func(context.Context, domain.Job, *Checkpoint) error { return nil }), h.deps, 10*time.Millisecond)
	pool := NewWorkerPool([]*JobWorker{w}, h.registry, h.deps, PoolOptions{WorkerID: "w1", HeartbeatInterval: 20 * time.Millisecond}, func(int) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		ok, _ := h.registry.HasActiveWorkers(ctx, "translation", time.Minute)
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("worker never advertised itself")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
	pool.Shutdown(context.Background())
	if ok, _ := h.registry.HasActiveWorkers(context.Background(), "translation", time.Minute); ok {
		t.Fatal("worker still registered after shutdown")
	}
}

func TestShutdownForceReleasesLocksOnce(t *testing.T) {
	h := newHarness(t)
	consumer := mocks.NewMockConsumer(1)
	started := make(chan struct{})
	unblock := make(chan struct{})
	proc := processorFunc(func(ctx context.Context, job domain.Job, cp *Checkpoint) error {
		close(started)
		<-unblock
		return cp.Check(ctx)
	})
	w, _ := NewJobWorker(testQueue(3), consumer, proc, h.deps, 10*time.Millisecond)

	var closed int64
	pool := NewWorkerPool([]*JobWorker{w}, h.registry, h.deps,
		PoolOptions{WorkerID: "w1", SettleDelay: 20 * time.Millisecond},
		func(int) { t.Error("exit must not be called on first signal") },
		func() error { atomic.AddInt64(&closed, 1); return nil },
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pool.Run(ctx) }()

	job := h.lockedJob(t, "s1", "owner-s1", 3)
	d := mocks.NewMockDelivery(job)
	consumer.Push(d)
	<-started

	pool.Shutdown(context.Background())

	if !h.deps.Abort.Aborted() {
		t.Fatal("abort flag not set")
	}
	if s := waitSettled(t, d); s != mocks.SettleRequeue {
		t.Fatalf("in-flight job should be returned to the queue, got %q", s)
	}
	if h.lockMgr.Held("lock:translation:owner-s1") {
		t.Fatal("lock of the interrupted job must be force-released")
	}
	if !consumer.Closed() || atomic.LoadInt64(&closed) != 1 {
		t.Fatal("downstream connections not closed")
	}

	close(unblock)
	waitJobs(t, w)
	if n := h.lockMgr.Releases("lock:translation:owner-s1"); n != 1 {
		t.Fatalf("lock released %d times, want 1", n)
	}
	if _, _, n := d.Settled(); n != 1 {
		t.Fatalf("delivery settled %d times", n)
	}

	pool.Shutdown(context.Background())
	if atomic.LoadInt64(&closed) != 1 {
		t.Fatal("second shutdown must be a no-op")
	}
}

func TestSecondSignalForcesExit(t *testing.T) {
	h := newHarness(t)
	var code int64 = -1
	pool := NewWorkerPool(nil, h.registry, h.deps, PoolOptions{WorkerID: "w1"}, func(c int) {
		atomic.StoreInt64(&code, int64(c))
	})

	pool.HandleSignal(context.Background())
	if atomic.LoadInt64(&code) != -1 {
		t.Fatal("first signal must not exit")
	}
	pool.HandleSignal(context.Background())
	if atomic.LoadInt64(&code) != 1 {
		t.Fatalf("second signal should exit(1), got %d", code)
	}
}
