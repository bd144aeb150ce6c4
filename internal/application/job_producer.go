package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// JobLockPrefix returns the lock prefix guarding one in-flight job of jobType per owner.
func JobLockPrefix(jobType domain.JobType) string {
	return string(jobType)
}

// Submission is an upload accepted by the API that should become a job.
type Submission struct {
	Type           domain.JobType
	OwnerID        string `validate:"required"`
	FileName       string `validate:"required"`
	ContentType    string
	TargetLanguage string `validate:"required,min=2,max=35"`
	Body           io.Reader
}

// ProducerOptions configures JobProducer.
type ProducerOptions struct {
	Queues       map[domain.JobType]domain.QueueConfig
	LockTTL      time.Duration
	HeartbeatTTL time.Duration
}

// JobProducer turns submissions into queued jobs. The owner lock is taken with the
// job id as its value; the worker releases it only while that job still holds it.
type JobProducer struct {
	queue    domain.JobQueue
	spill    domain.SpillStore
	locks    *DistributedLock
	workers  domain.WorkerRegistry
	status   *JobStatusTracker
	logger   domain.Logger
	opts     ProducerOptions
	validate *validator.Validate
	newID    func() string
}

// NewJobProducer creates a producer.
func NewJobProducer(
	queue domain.JobQueue,
	spill domain.SpillStore,
	locks *DistributedLock,
	workers domain.WorkerRegistry,
	status *JobStatusTracker,
	logger domain.Logger,
	opts ProducerOptions,
) *JobProducer {
	return &JobProducer{
		queue:    queue,
		spill:    spill,
		locks:    locks,
		workers:  workers,
		status:   status,
		logger:   logger,
		opts:     opts,
		validate: validator.New(),
		newID:    uuid.NewString,
	}
}

// Submit spills the upload, takes the owner lock and enqueues the job. It returns
// ErrJobInProgress when the owner already has a job of this type running and
// ErrNoWorkers when nobody consumes the target queue.
func (p *JobProducer) Submit(ctx context.Context, sub Submission) (string, string, error) {
	if sub.Type == "" {
		sub.Type = domain.JobTypeTranslation
	}
	if err := p.validate.Struct(sub); err != nil {
		return "", "", domain.NewValidationError("submit", err)
	}
	qc, ok := p.opts.Queues[sub.Type]
	if !ok {
		return "", "", domain.NewValidationError("submit", fmt.Errorf("unknown job type %q", sub.Type))
	}

	jobID := p.newID()
	prefix := JobLockPrefix(sub.Type)
	if !p.locks.AcquireWithToken(ctx, prefix, sub.OwnerID, jobID, p.opts.LockTTL) {
		return "", "", domain.ErrJobInProgress
	}
	release := func() { p.locks.ReleaseOwned(ctx, prefix, sub.OwnerID, jobID) }

	active, err := p.workers.HasActiveWorkers(ctx, qc.QueueName, p.opts.HeartbeatTTL)
	if err != nil {
		p.logger.Warn(ctx, "Worker availability unknown; enqueueing anyway", "queue", qc.QueueName, "error", err.Error())
	} else if !active {
		release()
		return "", "", domain.ErrNoWorkers
	}

	ref, err := p.spill.Put(ctx, sub.FileName, sub.ContentType, sub.Body)
	if err != nil {
		release()
		return "", "", fmt.Errorf("failed to spill upload: %w", err)
	}

	payload := domain.JobPayload{
		FileRef:        ref,
		FileName:       sub.FileName,
		ContentType:    sub.ContentType,
		TargetLanguage: sub.TargetLanguage,
		OwnerID:        sub.OwnerID,
		DocID:          p.newID(),
	}
	if err := p.enqueue(ctx, jobID, sub.Type, qc, payload); err != nil {
		if rmErr := p.spill.Remove(ctx, ref); rmErr != nil {
			p.logger.Warn(ctx, "Failed to remove spill after enqueue failure", "ref", ref, "error", rmErr.Error())
		}
		release()
		return "", "", err
	}
	return jobID, payload.DocID, nil
}

// Enqueue queues a job of jobType carrying payload and returns its id. The caller
// owns the spill reference and the owner lock.
func (p *JobProducer) Enqueue(ctx context.Context, jobType domain.JobType, payload domain.JobPayload) (string, error) {
	qc, ok := p.opts.Queues[jobType]
	if !ok {
		return "", domain.NewValidationError("enqueue", fmt.Errorf("unknown job type %q", jobType))
	}
	jobID := p.newID()
	if err := p.enqueue(ctx, jobID, jobType, qc, payload); err != nil {
		return "", err
	}
	return jobID, nil
}

func (p *JobProducer) enqueue(ctx context.Context, jobID string, jobType domain.JobType, qc domain.QueueConfig, payload domain.JobPayload) error {
	job := domain.Job{
		ID:          jobID,
		Type:        jobType,
		Payload:     payload,
		MaxAttempts: qc.MaxAttempts,
	}
	if err := p.validate.Struct(job); err != nil {
		return domain.NewValidationError("enqueue", err)
	}
	if err := p.validate.Struct(job.Payload); err != nil {
		return domain.NewValidationError("enqueue", err)
	}

	p.status.Transition(ctx, job.ID, domain.JobStatusRecord{Status: domain.StatusQueued, DocID: payload.DocID})
	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.status.Transition(ctx, job.ID, domain.JobStatusRecord{
			Status: domain.StatusError,
			DocID:  payload.DocID,
			Error:  "could not be queued",
		})
		var de *domain.Error
		if errors.As(err, &de) {
			return err
		}
		return domain.NewTransientError("enqueue", err)
	}
	metrics.IncEnqueued(string(jobType))
	p.logger.Info(ctx, "Job enqueued", "job_id", job.ID, "type", string(jobType), "queue", qc.QueueName, "doc_id", payload.DocID)
	return nil
}
