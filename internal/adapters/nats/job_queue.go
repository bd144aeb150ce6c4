package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// attemptsHeader carries the attempts a job had used before it was requeued. The
// redelivery count of the new message starts from zero.
const attemptsHeader = "Job-Attempts-Made"

// StreamOptions configures the job stream and its consumers.
type StreamOptions struct {
	StreamName      string
	SubjectPrefix   string
	DuplicateWindow time.Duration
	AckWait         time.Duration
	MaxAckPending   int
}

// StreamOptionsFromConfig maps the NATS config section.
func StreamOptionsFromConfig(cfg config.NATSConfig) StreamOptions {
	return StreamOptions{
		StreamName:      cfg.StreamName,
		SubjectPrefix:   cfg.SubjectPrefix,
		DuplicateWindow: config.Seconds(cfg.DuplicateWindowSec, 2*time.Minute),
		AckWait:         config.Seconds(cfg.AckWaitSeconds, 10*time.Minute),
		MaxAckPending:   cfg.MaxAckPending,
	}
}

// JobQueueAdapter is the durable job queue on a JetStream work-queue stream. Each
// job type has its own subject and one durable pull consumer shared by every worker.
type JobQueueAdapter struct {
	js     jetstream.JetStream
	opts   StreamOptions
	logger domain.Logger
}

// NewJobQueueAdapter creates the adapter and makes sure the stream exists.
func NewJobQueueAdapter(ctx context.Context, js jetstream.JetStream, opts StreamOptions, logger domain.Logger) (*JobQueueAdapter, error) {
	a := &JobQueueAdapter{js: js, opts: opts, logger: logger}
	if err := a.ensureStream(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *JobQueueAdapter) subject(queueName string) string {
	return fmt.Sprintf("%s.%s", a.opts.SubjectPrefix, queueName)
}

func (a *JobQueueAdapter) ensureStream(ctx context.Context) error {
	_, err := a.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       a.opts.StreamName,
		Subjects:   []string{a.opts.SubjectPrefix + ".>"},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: a.opts.DuplicateWindow,
		Discard:    jetstream.DiscardOld,
	})
	if err != nil {
		a.logger.Error(ctx, "Failed to ensure job stream", "stream", a.opts.StreamName, "error", err.Error())
		return fmt.Errorf("ensure stream %s: %w", a.opts.StreamName, err)
	}
	a.logger.Info(ctx, "Job stream ready", "stream", a.opts.StreamName)
	return nil
}

// Ping checks that the stream is reachable.
func (a *JobQueueAdapter) Ping(ctx context.Context) error {
	_, err := a.js.Stream(ctx, a.opts.StreamName)
	return err
}

// QueueRouter publishes jobs to the subject of their queue.
type QueueRouter struct {
	adapter *JobQueueAdapter
	queues  map[domain.JobType]string
}

// NewQueueRouter maps each job type to its queue name.
func NewQueueRouter(adapter *JobQueueAdapter, queues map[domain.JobType]domain.QueueConfig) *QueueRouter {
	names := make(map[domain.JobType]string, len(queues))
	for t, q := range queues {
		names[t] = q.QueueName
	}
	return &QueueRouter{adapter: adapter, queues: names}
}

// Enqueue publishes job with its id as the de-duplication key.
func (r *QueueRouter) Enqueue(ctx context.Context, job domain.Job) error {
	queue, ok := r.queues[job.Type]
	if !ok {
		return domain.NewValidationError("enqueue", fmt.Errorf("no queue for job type %q", job.Type))
	}
	return r.adapter.Publish(ctx, queue, job)
}

// Publish writes job to queueName.
func (a *JobQueueAdapter) Publish(ctx context.Context, queueName string, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return domain.NewValidationError("encode job", err)
	}
	ack, err := a.js.Publish(ctx, a.subject(queueName), data, jetstream.WithMsgID(job.ID))
	if err != nil {
		return domain.NewTransientError("publish job", err)
	}
	if ack.Duplicate {
		a.logger.Warn(ctx, "Duplicate job publish ignored", "job_id", job.ID, "queue", queueName)
	}
	return nil
}

// NewConsumer returns the durable pull consumer of cfg's queue, creating it if needed.
// Redelivery is unbounded on the stream side: the worker settles a job once its
// attempts are used up, so a claim lost on the final attempt still gets cleaned up.
func (a *JobQueueAdapter) NewConsumer(ctx context.Context, cfg domain.QueueConfig) (*Consumer, error) {
	maxAckPending := a.opts.MaxAckPending
	if maxAckPending <= 0 {
		maxAckPending = cfg.Concurrency * 4
	}
	cons, err := a.js.CreateOrUpdateConsumer(ctx, a.opts.StreamName, jetstream.ConsumerConfig{
		Durable:       "worker-" + cfg.QueueName,
		FilterSubject: a.subject(cfg.QueueName),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       a.opts.AckWait,
		MaxDeliver:    -1,
		MaxAckPending: maxAckPending,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for queue %s: %w", cfg.QueueName, err)
	}
	a.logger.Info(ctx, "Job consumer ready", "queue", cfg.QueueName, "max_attempts", cfg.MaxAttempts)
	return &Consumer{
		cons:        cons,
		js:          a.js,
		queue:       cfg.QueueName,
		maxAttempts: cfg.MaxAttempts,
		logger:      a.logger,
	}, nil
}

// Consumer implements domain.JobConsumer on a JetStream pull consumer.
type Consumer struct {
	cons        jetstream.Consumer
	js          jetstream.JetStream
	queue       string
	maxAttempts int
	logger      domain.Logger
}

// Fetch pulls up to max jobs, waiting at most wait for the first one.
func (c *Consumer) Fetch(ctx context.Context, max int, wait time.Duration) ([]domain.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	batch, err := c.cons.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, fmt.Errorf("fetch from %s: %w", c.queue, err)
	}
	var out []domain.Delivery
	for msg := range batch.Messages() {
		d, err := c.decode(msg)
		if err != nil {
			c.logger.Error(ctx, "Dropping undecodable job message", "queue", c.queue, "error", err.Error())
			_ = msg.Term()
			continue
		}
		out = append(out, d)
	}
	if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && !errors.Is(err, context.DeadlineExceeded) {
		return out, fmt.Errorf("fetch from %s: %w", c.queue, err)
	}
	return out, nil
}

func (c *Consumer) decode(msg jetstream.Msg) (*delivery, error) {
	var job domain.Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		return nil, err
	}
	meta, err := msg.Metadata()
	if err != nil {
		return nil, err
	}
	// the stream, not the payload, is authoritative for attempt bookkeeping
	carried := 0
	if h := msg.Headers().Get(attemptsHeader); h != "" {
		if carried, err = strconv.Atoi(h); err != nil {
			return nil, fmt.Errorf("bad %s header %q: %w", attemptsHeader, h, err)
		}
	}
	job.AttemptsMade = carried + int(meta.NumDelivered) - 1
	job.MaxAttempts = c.maxAttempts
	return &delivery{msg: msg, job: job, js: c.js, seq: meta.Sequence.Stream}, nil
}

// Close is a no-op: the durable consumer outlives the process.
func (c *Consumer) Close() error {
	return nil
}

type delivery struct {
	msg jetstream.Msg
	job domain.Job
	js  jetstream.JetStream
	seq uint64
}

func (d *delivery) Job() domain.Job { return d.job }

func (d *delivery) Ack(ctx context.Context) error {
	return d.msg.DoubleAck(ctx)
}

func (d *delivery) Nak(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return d.msg.Nak()
	}
	return d.msg.NakWithDelay(delay)
}

func (d *delivery) Term(ctx context.Context) error {
	return d.msg.Term()
}

func (d *delivery) InProgress(ctx context.Context) error {
	return d.msg.InProgress()
}

// Requeue republishes the job carrying its used attempts, then acks this copy.
// The msg id is derived from the stream sequence so a retried requeue is de-duplicated.
func (d *delivery) Requeue(ctx context.Context) error {
	out := nats.NewMsg(d.msg.Subject())
	out.Data = d.msg.Data()
	out.Header.Set(attemptsHeader, strconv.Itoa(d.job.AttemptsMade))
	msgID := fmt.Sprintf("%s.requeue.%d", d.job.ID, d.seq)
	if _, err := d.js.PublishMsg(ctx, out, jetstream.WithMsgID(msgID)); err != nil {
		return domain.NewTransientError("requeue job", err)
	}
	return d.msg.DoubleAck(ctx)
}
