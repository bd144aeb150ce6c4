package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// MockJobQueue implements domain.JobQueue and records every enqueued job.
type MockJobQueue struct {
	mu   sync.Mutex
	jobs []domain.Job
	Err  error
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

// Jobs returns a copy of the enqueued jobs.
func (m *MockJobQueue) Jobs() []domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Job(nil), m.jobs...)
}

// Settlement is how a delivery was finished.
type Settlement string

const (
	SettleNone    Settlement = ""
	SettleAck     Settlement = "ack"
	SettleNak     Settlement = "nak"
	SettleTerm    Settlement = "term"
	SettleRequeue Settlement = "requeue"
)

// MockDelivery implements domain.Delivery.
type MockDelivery struct {
	job domain.Job

	mu       sync.Mutex
	settled  Settlement
	nakDelay time.Duration
	settles  int
	extends  int
	done     chan struct{}
}

// NewMockDelivery wraps job.
func NewMockDelivery(job domain.Job) *MockDelivery {
	return &MockDelivery{job: job, done: make(chan struct{})}
}

func (d *MockDelivery) Job() domain.Job { return d.job }

func (d *MockDelivery) settle(s Settlement, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settles++
	if d.settled != SettleNone {
		return errors.New("mock delivery: already settled")
	}
	d.settled = s
	d.nakDelay = delay
	close(d.done)
	return nil
}

func (d *MockDelivery) Ack(ctx context.Context) error { return d.settle(SettleAck, 0) }

func (d *MockDelivery) Nak(ctx context.Context, delay time.Duration) error {
	return d.settle(SettleNak, delay)
}

func (d *MockDelivery) Term(ctx context.Context) error { return d.settle(SettleTerm, 0) }

func (d *MockDelivery) Requeue(ctx context.Context) error { return d.settle(SettleRequeue, 0) }

func (d *MockDelivery) InProgress(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.extends++
	return nil
}

// Extensions returns how many times the claim was extended.
func (d *MockDelivery) Extensions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.extends
}

// Done is closed once the delivery has been settled.
func (d *MockDelivery) Done() <-chan struct{} { return d.done }

// Settled returns the settlement, the nak delay and how many settle calls were made.
func (d *MockDelivery) Settled() (Settlement, time.Duration, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settled, d.nakDelay, d.settles
}

// MockConsumer implements domain.JobConsumer over a channel of deliveries.
type MockConsumer struct {
	ch     chan domain.Delivery
	mu     sync.Mutex
	closed bool
}

// NewMockConsumer creates a consumer with room for buffer pending deliveries.
func NewMockConsumer(buffer int) *MockConsumer {
	return &MockConsumer{ch: make(chan domain.Delivery, buffer)}
}

// Push makes d available to the next Fetch.
func (c *MockConsumer) Push(d domain.Delivery) {
	c.ch <- d
}

func (c *MockConsumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]domain.Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	var out []domain.Delivery
	select {
	case d := <-c.ch:
		out = append(out, d)
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for len(out) < max {
		select {
		case d := <-c.ch:
			out = append(out, d)
		default:
			return out, nil
		}
	}
	return out, nil
}

func (c *MockConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close was called.
func (c *MockConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// MockEventPublisher implements domain.JobEventPublisher and records events.
type MockEventPublisher struct {
	mu     sync.Mutex
	events []domain.JobEvent
}

func (p *MockEventPublisher) PublishJobEvent(ctx context.Context, event domain.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Statuses returns the published statuses for jobID in order.
func (p *MockEventPublisher) Statuses(jobID string) []domain.JobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.JobStatus
	for _, e := range p.events {
		if e.JobID == jobID {
			out = append(out, e.Status)
		}
	}
	return out
}
