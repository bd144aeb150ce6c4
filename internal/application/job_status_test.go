package application

import (
	"context"
	"testing"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

func TestTransitionRefreshesRecordAndTTL(t *testing.T) {
	h := newHarness(t)
	h.cache.jitter = func(time.Duration) time.Duration { return 0 }
	ctx := context.Background()

	h.status.Transition(ctx, "j1", domain.JobStatusRecord{Status: domain.StatusError, DocID: "d1", Error: "boom"})
	h.status.Transition(ctx, "j1", domain.JobStatusRecord{Status: domain.StatusTranslate, DocID: "d1"})

	rec := h.jobStatus(t, "j1")
	if rec.Status != domain.StatusTranslate || rec.Error != "" {
		t.Fatalf("retry must clear the previous error: %+v", rec)
	}
	if ttl := h.store.TTL("job:j1"); ttl <= 29*time.Minute || ttl > 30*time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestGetUnknownJob(t *testing.T) {
	h := newHarness(t)
	if _, ok := h.status.Get(context.Background(), "nope"); ok {
		t.Fatal("unknown job should not be found")
	}
}
