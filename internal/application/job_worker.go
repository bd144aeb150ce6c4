package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/contextkeys"
	"gitlab.com/timkado/api/doc-translate-service/pkg/safego"
)

// AbortSignal is the shutdown flag jobs observe at their checkpoints.
type AbortSignal struct {
	set atomic.Bool
}

// Trigger sets the flag. It cannot be cleared.
func (a *AbortSignal) Trigger() {
	a.set.Store(true)
}

// Aborted reports whether shutdown has begun.
func (a *AbortSignal) Aborted() bool {
	return a.set.Load()
}

// Check returns ErrAborted once the flag is set.
func (a *AbortSignal) Check() error {
	if a.Aborted() {
		return domain.ErrAborted
	}
	return nil
}

// Checkpoint is what a running job calls between stages.
type Checkpoint struct {
	abort    *AbortSignal
	delivery domain.Delivery
	logger   domain.Logger
}

// NewCheckpoint binds abort to one delivery. delivery may be nil.
func NewCheckpoint(abort *AbortSignal, delivery domain.Delivery, logger domain.Logger) *Checkpoint {
	return &Checkpoint{abort: abort, delivery: delivery, logger: logger}
}

// Check returns ErrAborted once shutdown has begun. Otherwise it extends the queue
// claim so the next stage starts with a full ack window.
func (c *Checkpoint) Check(ctx context.Context) error {
	if err := c.abort.Check(); err != nil {
		return err
	}
	if c.delivery == nil {
		return nil
	}
	if err := c.delivery.InProgress(ctx); err != nil {
		c.logger.Warn(ctx, "Failed to extend job claim", "job_id", c.delivery.Job().ID, "error", err.Error())
	}
	return nil
}

// Processor runs the pipeline of one job type. It must call cp.Check between stages.
type Processor interface {
	Process(ctx context.Context, job domain.Job, cp *Checkpoint) error
}

type activeJob struct {
	queue      string
	lockPrefix string
	identifier string
	token      string
}

// ActiveJobs tracks the locks each running job is responsible for so shutdown can
// force-release them.
type ActiveJobs struct {
	mu   sync.Mutex
	jobs map[string]activeJob
}

// NewActiveJobs creates an empty registry.
func NewActiveJobs() *ActiveJobs {
	return &ActiveJobs{jobs: make(map[string]activeJob)}
}

func (r *ActiveJobs) add(jobID string, a activeJob) {
	r.mu.Lock()
	r.jobs[jobID] = a
	n := r.countLocked(a.queue)
	r.mu.Unlock()
	metrics.SetActiveJobs(a.queue, n)
}

// remove deletes jobID and reports whether this call was the one that removed it.
func (r *ActiveJobs) remove(jobID string) bool {
	r.mu.Lock()
	a, ok := r.jobs[jobID]
	delete(r.jobs, jobID)
	n := r.countLocked(a.queue)
	r.mu.Unlock()
	if ok {
		metrics.SetActiveJobs(a.queue, n)
	}
	return ok
}

// drain empties the registry and returns what it held.
func (r *ActiveJobs) drain() map[string]activeJob {
	r.mu.Lock()
	out := r.jobs
	r.jobs = make(map[string]activeJob)
	r.mu.Unlock()
	for _, a := range out {
		metrics.SetActiveJobs(a.queue, 0)
	}
	return out
}

// Len returns the number of running jobs.
func (r *ActiveJobs) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *ActiveJobs) countLocked(queue string) int {
	n := 0
	for _, a := range r.jobs {
		if a.queue == queue {
			n++
		}
	}
	return n
}

// WorkerDeps are the collaborators shared by every JobWorker of a process.
type WorkerDeps struct {
	Status *JobStatusTracker
	Spill  domain.SpillStore
	Locks  *DistributedLock
	Active *ActiveJobs
	Abort  *AbortSignal
	Logger domain.Logger
}

// JobWorker consumes one queue with bounded concurrency and an optional start rate limit.
type JobWorker struct {
	cfg       domain.QueueConfig
	consumer  domain.JobConsumer
	processor Processor
	deps      WorkerDeps
	logger    domain.Logger
	limiter   *rate.Limiter
	fetchWait time.Duration
	slots     chan struct{}

	mu       sync.Mutex
	inflight map[string]domain.Delivery
	jobs     sync.WaitGroup

	cancel context.CancelFunc
	closed atomic.Bool
}

// NewJobWorker creates a worker for cfg. fetchWait bounds a single poll of the consumer.
func NewJobWorker(cfg domain.QueueConfig, consumer domain.JobConsumer, processor Processor, deps WorkerDeps, fetchWait time.Duration) (*JobWorker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if fetchWait <= 0 {
		fetchWait = 2 * time.Second
	}
	w := &JobWorker{
		cfg:       cfg,
		consumer:  consumer,
		processor: processor,
		deps:      deps,
		logger:    deps.Logger.With("queue", cfg.QueueName),
		fetchWait: fetchWait,
		slots:     make(chan struct{}, cfg.Concurrency),
		inflight:  make(map[string]domain.Delivery),
	}
	if rl := cfg.RateLimit; rl != nil {
		window := time.Duration(rl.DurationMs) * time.Millisecond
		w.limiter = rate.NewLimiter(rate.Every(window/time.Duration(rl.Max)), rl.Max)
	}
	return w, nil
}

// Queue returns the queue name.
func (w *JobWorker) Queue() string {
	return w.cfg.QueueName
}

// Run pulls and dispatches jobs until ctx ends, abort is signalled or HardClose is called.
// It returns once the fetch loop has stopped; jobs already started keep running.
func (w *JobWorker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer cancel()

	w.logger.Info(ctx, "Job worker started",
		"concurrency", w.cfg.Concurrency, "max_attempts", w.cfg.MaxAttempts, "rate_limited", w.limiter != nil)

	for {
		if ctx.Err() != nil || w.deps.Abort.Aborted() || w.closed.Load() {
			return nil
		}
		select {
		case w.slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				<-w.slots
				return nil
			}
		}
		deliveries, err := w.consumer.Fetch(ctx, 1, w.fetchWait)
		if err != nil {
			<-w.slots
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn(ctx, "Fetch failed", "error", err.Error())
			select {
			case <-time.After(w.fetchWait):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		if len(deliveries) == 0 {
			<-w.slots
			continue
		}
		for i, d := range deliveries {
			if i > 0 {
				w.slots <- struct{}{}
			}
			w.dispatch(ctx, d)
		}
	}
}

func (w *JobWorker) dispatch(ctx context.Context, d domain.Delivery) {
	job := d.Job()
	w.mu.Lock()
	if w.closed.Load() {
		w.mu.Unlock()
		<-w.slots
		if err := d.Requeue(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn(ctx, "Failed to return job fetched during close", "job_id", job.ID, "error", err.Error())
		}
		return
	}
	w.inflight[job.ID] = d
	w.jobs.Add(1)
	w.mu.Unlock()

	// jobs outlive the fetch loop so a hard close never interrupts a provider call mid-flight
	jobCtx := context.WithValue(context.WithoutCancel(ctx), contextkeys.JobIDKey, job.ID)
	safego.Execute(jobCtx, w.logger, "job:"+job.ID, func() {
		defer func() { <-w.slots }()
		defer w.jobs.Done()
		w.handle(jobCtx, d)
	})
}

// take removes the delivery of jobID from the in-flight set. It returns nil when
// HardClose already handed the delivery back to the queue.
func (w *JobWorker) take(jobID string) domain.Delivery {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.inflight[jobID]
	if !ok {
		return nil
	}
	delete(w.inflight, jobID)
	return d
}

func (w *JobWorker) handle(ctx context.Context, d domain.Delivery) {
	job := d.Job()
	start := time.Now()
	lockPrefix := JobLockPrefix(job.Type)
	owner := job.Payload.OwnerID

	// the producer stored the job id as the lock value, so a retry never deletes a
	// lock a newer job of the same owner has taken meanwhile
	w.deps.Active.add(job.ID, activeJob{queue: w.cfg.QueueName, lockPrefix: lockPrefix, identifier: owner, token: job.ID})
	defer func() {
		if w.deps.Active.remove(job.ID) {
			w.deps.Locks.ReleaseOwned(ctx, lockPrefix, owner, job.ID)
		}
	}()

	if job.AttemptsExhausted() {
		w.settleExhausted(ctx, job, start)
		return
	}

	err := w.deps.Abort.Check()
	if err == nil {
		cp := NewCheckpoint(w.deps.Abort, d, w.logger)
		err = safego.Run(ctx, w.logger, "job:"+job.ID, func() error {
			return w.processor.Process(ctx, job, cp)
		})
	}

	delivery := w.take(job.ID)
	if delivery == nil {
		w.logger.Warn(ctx, "Job released by hard close; leaving it to the next delivery", "job_id", job.ID)
		metrics.ObserveJob(w.cfg.QueueName, "aborted", time.Since(start))
		return
	}

	if err == nil {
		w.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{Status: domain.StatusCompleted, DocID: job.Payload.DocID})
		w.cleanup(ctx, job)
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			w.logger.Error(ctx, "Failed to ack completed job", "job_id", job.ID, "error", ackErr.Error())
		}
		metrics.ObserveJob(w.cfg.QueueName, "completed", time.Since(start))
		w.logger.Info(ctx, "Job completed", "job_id", job.ID, "doc_id", job.Payload.DocID, "attempt", job.AttemptsMade+1)
		return
	}

	w.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{
		Status: domain.StatusError,
		DocID:  job.Payload.DocID,
		Error:  userMessage(err),
	})

	final := !domain.IsRetryable(err) || job.IsFinalAttempt()
	if final {
		w.cleanup(ctx, job)
		if termErr := delivery.Term(ctx); termErr != nil {
			w.logger.Error(ctx, "Failed to terminate job", "job_id", job.ID, "error", termErr.Error())
		}
		metrics.ObserveJob(w.cfg.QueueName, "failed", time.Since(start))
		w.logger.Error(ctx, "Job failed permanently",
			"job_id", job.ID, "attempt", job.AttemptsMade+1, "kind", string(domain.KindOf(err)), "error", err.Error())
		return
	}

	delay := w.cfg.Backoff.Delay(job.AttemptsMade + 1)
	if nakErr := delivery.Nak(ctx, delay); nakErr != nil {
		w.logger.Error(ctx, "Failed to nak job for retry", "job_id", job.ID, "error", nakErr.Error())
	}
	outcome := "retried"
	if errors.Is(err, domain.ErrAborted) {
		outcome = "aborted"
	}
	metrics.ObserveJob(w.cfg.QueueName, outcome, time.Since(start))
	w.logger.Warn(ctx, "Job attempt failed; scheduled for retry",
		"job_id", job.ID, "attempt", job.AttemptsMade+1, "retry_in", delay.String(), "error", err.Error())
}

// settleExhausted finishes a job whose final attempt never settled.
func (w *JobWorker) settleExhausted(ctx context.Context, job domain.Job, start time.Time) {
	delivery := w.take(job.ID)
	if delivery == nil {
		return
	}
	w.deps.Status.Transition(ctx, job.ID, domain.JobStatusRecord{
		Status: domain.StatusError,
		DocID:  job.Payload.DocID,
		Error:  "attempts exhausted",
	})
	w.cleanup(ctx, job)
	if err := delivery.Term(ctx); err != nil {
		w.logger.Error(ctx, "Failed to terminate exhausted job", "job_id", job.ID, "error", err.Error())
	}
	metrics.ObserveJob(w.cfg.QueueName, "failed", time.Since(start))
	w.logger.Error(ctx, "Job dropped after its final attempt was lost",
		"job_id", job.ID, "attempts", job.AttemptsMade, "max_attempts", job.MaxAttempts)
}

// cleanup removes the spill owned by job. The lock is released by handle's defer.
func (w *JobWorker) cleanup(ctx context.Context, job domain.Job) {
	if job.Payload.FileRef == "" {
		return
	}
	if err := w.deps.Spill.Remove(ctx, job.Payload.FileRef); err != nil {
		w.logger.Warn(ctx, "Failed to remove spilled file", "job_id", job.ID, "ref", job.Payload.FileRef, "error", err.Error())
	}
}

// HardClose stops fetching and hands every unsettled delivery back to the queue
// without spending the attempt. It does not wait for running jobs.
func (w *JobWorker) HardClose(ctx context.Context) {
	if !w.closed.CompareAndSwap(false, true) {
		return
	}
	w.mu.Lock()
	cancel := w.cancel
	pending := w.inflight
	w.inflight = make(map[string]domain.Delivery)
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for id, d := range pending {
		if err := d.Requeue(ctx); err != nil {
			w.logger.Warn(ctx, "Failed to return job to queue", "job_id", id, "error", err.Error())
			continue
		}
		w.logger.Info(ctx, "Returned in-flight job to queue", "job_id", id)
	}
}

// Wait blocks until every started job has returned or ctx ends.
func (w *JobWorker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the consumer.
func (w *JobWorker) Close() error {
	return w.consumer.Close()
}

func userMessage(err error) string {
	if errors.Is(err, domain.ErrAborted) {
		return "interrupted by shutdown; will retry"
	}
	var de *domain.Error
	if errors.As(err, &de) && de.Err != nil {
		return de.Err.Error()
	}
	return fmt.Sprint(err)
}
