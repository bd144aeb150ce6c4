package application

import (
	"context"
	"strings"
	"testing"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/benchmarks/mocks"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

func testLogger() domain.Logger {
	return logger.NewNop()
}

func newTestCache(store *mocks.MockCacheStore, cooldown time.Duration) *CacheService {
	s := NewCacheService(store, testLogger(), CacheOptions{
		DefaultTTL:      time.Minute,
		MaxJitter:       10 * time.Second,
		BreakerCooldown: cooldown,
	})
	return s
}

type processorFunc func(ctx context.Context, job domain.Job, cp *Checkpoint) error

func (f processorFunc) Process(ctx context.Context, job domain.Job, cp *Checkpoint) error {
	return f(ctx, job, cp)
}

type harness struct {
	store    *mocks.MockCacheStore
	cache    *CacheService
	lockMgr  *mocks.MockLockManager
	locks    *DistributedLock
	spill    *mocks.MockSpillStore
	events   *mocks.MockEventPublisher
	status   *JobStatusTracker
	registry *mocks.MockWorkerRegistry
	deps     WorkerDeps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    mocks.NewMockCacheStore(),
		lockMgr:  mocks.NewMockLockManager(),
		spill:    mocks.NewMockSpillStore(),
		events:   &mocks.MockEventPublisher{},
		registry: mocks.NewMockWorkerRegistry(),
	}
	h.cache = newTestCache(h.store, time.Minute)
	h.locks = NewDistributedLock(h.lockMgr, &mocks.MockConnectionState{}, testLogger())
	h.status = NewJobStatusTracker(h.cache, h.events, testLogger(), 30*time.Minute)
	h.deps = WorkerDeps{
		Status: h.status,
		Spill:  h.spill,
		Locks:  h.locks,
		Active: NewActiveJobs(),
		Abort:  &AbortSignal{},
		Logger: testLogger(),
	}
	return h
}

func testQueue(maxAttempts int) domain.QueueConfig {
	return domain.QueueConfig{
		JobType:     domain.JobTypeTranslation,
		QueueName:   "translation",
		Concurrency: 2,
		MaxAttempts: maxAttempts,
		Backoff:     domain.Backoff{Type: "exponential", BaseDelayMs: 100},
	}
}

// lockedJob spills a file, takes the owner lock the way the producer does and
// returns the job that would have been queued.
func (h *harness) lockedJob(t *testing.T, id, owner string, maxAttempts int) domain.Job {
	t.Helper()
	ctx := context.Background()
	ref, err := h.spill.Put(ctx, "letter.pdf", "application/pdf", strings.NewReader("hallo welt"))
	if err != nil {
		t.Fatal(err)
	}
	if !h.locks.AcquireWithToken(ctx, JobLockPrefix(domain.JobTypeTranslation), owner, id, time.Minute) {
		t.Fatal("could not take owner lock")
	}
	return domain.Job{
		ID:   id,
		Type: domain.JobTypeTranslation,
		Payload: domain.JobPayload{
			FileRef:        ref,
			FileName:       "letter.pdf",
			TargetLanguage: "en",
			OwnerID:        owner,
			DocID:          "doc-" + id,
		},
		MaxAttempts: maxAttempts,
	}
}

func (h *harness) jobStatus(t *testing.T, id string) domain.JobStatusRecord {
	t.Helper()
	rec, ok := h.status.Get(context.Background(), id)
	if !ok {
		t.Fatalf("no status record for %s", id)
	}
	return rec
}

func waitSettled(t *testing.T, d *mocks.MockDelivery) mocks.Settlement {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("delivery was not settled in time")
	}
	s, _, _ := d.Settled()
	return s
}

func startWorker(t *testing.T, w *JobWorker) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}
