package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

func runJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
		NoLog:     true,
	})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	return js
}

func testQueueConfig() domain.QueueConfig {
	return domain.QueueConfig{
		JobType:     domain.JobTypeTranslation,
		QueueName:   "translation",
		Concurrency: 1,
		MaxAttempts: 2,
		Backoff:     domain.Backoff{Type: "exponential", BaseDelayMs: 10},
	}
}

func newTestQueue(t *testing.T) (*JobQueueAdapter, *QueueRouter, *Consumer) {
	t.Helper()
	ctx := context.Background()
	adapter, err := NewJobQueueAdapter(ctx, runJetStream(t), StreamOptions{
		StreamName:      "DOC_JOBS_TEST",
		SubjectPrefix:   "jobs",
		DuplicateWindow: time.Minute,
		AckWait:         5 * time.Second,
	}, logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	qc := testQueueConfig()
	router := NewQueueRouter(adapter, map[domain.JobType]domain.QueueConfig{domain.JobTypeTranslation: qc})
	cons, err := adapter.NewConsumer(ctx, qc)
	if err != nil {
		t.Fatal(err)
	}
	return adapter, router, cons
}

func testJob(id string) domain.Job {
	return domain.Job{
		ID:   id,
		Type: domain.JobTypeTranslation,
		Payload: domain.JobPayload{
			FileRef:        "spill/abc",
			TargetLanguage: "de",
			OwnerID:        "u1",
			DocID:          "d1",
		},
		MaxAttempts: 2,
	}
}

func fetchOne(t *testing.T, cons *Consumer) domain.Delivery {
	t.Helper()
	ds, err := cons.Fetch(context.Background(), 1, 2*time.Second)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("expected one delivery, got %d", len(ds))
	}
	return ds[0]
}

func TestEnqueueAndAck(t *testing.T) {
	_, router, cons := newTestQueue(t)
	ctx := context.Background()

	if err := router.Enqueue(ctx, testJob("job-1")); err != nil {
		t.Fatal(err)
	}
	d := fetchOne(t, cons)
	job := d.Job()
	if job.ID != "job-1" || job.Payload.OwnerID != "u1" || job.AttemptsMade != 0 || job.MaxAttempts != 2 {
		t.Fatalf("unexpected job %+v", job)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatal(err)
	}
	ds, err := cons.Fetch(ctx, 1, 200*time.Millisecond)
	if err != nil || len(ds) != 0 {
		t.Fatalf("acked job must not be redelivered: %v, %v", ds, err)
	}
}

func TestNakRedeliversWithAttemptCount(t *testing.T) {
	_, router, cons := newTestQueue(t)
	ctx := context.Background()

	if err := router.Enqueue(ctx, testJob("job-2")); err != nil {
		t.Fatal(err)
	}
	d := fetchOne(t, cons)
	if err := d.Nak(ctx, 0); err != nil {
		t.Fatal(err)
	}
	d = fetchOne(t, cons)
	if got := d.Job().AttemptsMade; got != 1 {
		t.Fatalf("expected attempt count 1, got %d", got)
	}
	if !d.Job().IsFinalAttempt() {
		t.Fatal("second delivery of a two-attempt job is final")
	}
	if err := d.Term(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRequeueOnFinalAttemptKeepsJobAvailable(t *testing.T) {
	_, router, cons := newTestQueue(t)
	ctx := context.Background()

	if err := router.Enqueue(ctx, testJob("job-5")); err != nil {
		t.Fatal(err)
	}
	if err := fetchOne(t, cons).Nak(ctx, 0); err != nil {
		t.Fatal(err)
	}
	final := fetchOne(t, cons)
	if !final.Job().IsFinalAttempt() {
		t.Fatalf("expected the final attempt, got %+v", final.Job())
	}

	// hand back without spending the attempt, twice, as a shutting down worker would
	for i := 0; i < 2; i++ {
		if err := final.Requeue(ctx); err != nil {
			t.Fatal(err)
		}
		final = fetchOne(t, cons)
		job := final.Job()
		if job.ID != "job-5" || job.AttemptsMade != 1 || !job.IsFinalAttempt() || job.AttemptsExhausted() {
			t.Fatalf("requeue %d: unexpected job %+v", i, job)
		}
	}

	// the worker of the final attempt dies without settling
	if err := final.Nak(ctx, 0); err != nil {
		t.Fatal(err)
	}
	orphan := fetchOne(t, cons)
	if !orphan.Job().AttemptsExhausted() {
		t.Fatalf("a delivery past the final attempt must report exhaustion, got %+v", orphan.Job())
	}
	if err := orphan.Term(ctx); err != nil {
		t.Fatal(err)
	}
	ds, _ := cons.Fetch(ctx, 1, 200*time.Millisecond)
	if len(ds) != 0 {
		t.Fatal("terminated job must not be redelivered")
	}
}

func TestDuplicatePublishIsDropped(t *testing.T) {
	_, router, cons := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := router.Enqueue(ctx, testJob("job-3")); err != nil {
			t.Fatal(err)
		}
	}
	_ = fetchOne(t, cons).Ack(ctx)
	ds, _ := cons.Fetch(ctx, 1, 200*time.Millisecond)
	if len(ds) != 0 {
		t.Fatal("duplicate job id must be de-duplicated by the stream")
	}
}

func TestEnqueueUnknownType(t *testing.T) {
	_, router, _ := newTestQueue(t)
	job := testJob("job-4")
	job.Type = domain.JobTypeSummarization
	if err := router.Enqueue(context.Background(), job); domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}
