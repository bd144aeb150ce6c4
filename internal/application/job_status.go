package application

import (
	"context"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/rediskeys"
)

// JobStatusTracker persists job:{id} on every transition and fans the change out to listeners.
type JobStatusTracker struct {
	cache     *CacheService
	publisher domain.JobEventPublisher
	logger    domain.Logger
	ttl       time.Duration
}

// NewJobStatusTracker creates a tracker. ttl is refreshed on every transition.
func NewJobStatusTracker(cache *CacheService, publisher domain.JobEventPublisher, logger domain.Logger, ttl time.Duration) *JobStatusTracker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &JobStatusTracker{cache: cache, publisher: publisher, logger: logger, ttl: ttl}
}

// Transition writes rec to job:{jobID} and publishes the event. Both are best effort.
func (t *JobStatusTracker) Transition(ctx context.Context, jobID string, rec domain.JobStatusRecord) {
	if !t.cache.HMSet(ctx, rediskeys.JobStatusKey(jobID), rec.Fields(), t.ttl) {
		t.logger.Warn(ctx, "Job status not persisted", "job_id", jobID, "status", string(rec.Status))
	}
	if t.publisher == nil {
		return
	}
	event := domain.JobEvent{JobID: jobID, Status: rec.Status, DocID: rec.DocID, Error: rec.Error}
	if err := t.publisher.PublishJobEvent(ctx, event); err != nil {
		t.logger.Warn(ctx, "Job event not published", "job_id", jobID, "status", string(rec.Status), "error", err.Error())
	}
}

// Get returns the status record of jobID. ok is false when the record is absent or expired.
func (t *JobStatusTracker) Get(ctx context.Context, jobID string) (domain.JobStatusRecord, bool) {
	return domain.JobStatusFromFields(t.cache.HGetAll(ctx, rediskeys.JobStatusKey(jobID)))
}
