package domain

import (
	"fmt"
	"math"
	"time"
)

// JobType selects the worker and the pipeline that runs a job.
type JobType string

const (
	JobTypeTranslation   JobType = "translation"
	JobTypeSummarization JobType = "summarization"
)

// JobStatus is a state in the job pipeline. Every transition is persisted to job:{id}.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusTranslate JobStatus = "translate"
	StatusSummarize JobStatus = "summarize"
	StatusSaving    JobStatus = "saving"
	StatusCompleted JobStatus = "completed"
	StatusError     JobStatus = "error"
)

// IsTerminal reports whether no further transition can follow s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// JobPayload is the producer to worker contract. Files travel by reference only.
type JobPayload struct {
	FileRef        string `json:"fileRef" validate:"required"`
	FileName       string `json:"fileName,omitempty"`
	ContentType    string `json:"contentType,omitempty"`
	TargetLanguage string `json:"targetLanguage" validate:"required,min=2,max=35"`
	OwnerID        string `json:"ownerIdentity" validate:"required"`
	DocID          string `json:"docId" validate:"required"`
}

// Job is the queue envelope.
type Job struct {
	ID           string     `json:"id" validate:"required"`
	Type         JobType    `json:"type" validate:"required,oneof=translation summarization"`
	Payload      JobPayload `json:"payload"`
	AttemptsMade int        `json:"attemptsMade"`
	MaxAttempts  int        `json:"maxAttempts"`
}

// IsFinalAttempt reports whether the current attempt is the last one allowed.
func (j Job) IsFinalAttempt() bool {
	return j.AttemptsMade+1 >= j.MaxAttempts
}

// AttemptsExhausted is true for a delivery that arrives after the final attempt
// ended without settling, e.g. a worker crashed and the claim expired.
func (j Job) AttemptsExhausted() bool {
	return j.MaxAttempts > 0 && j.AttemptsMade >= j.MaxAttempts
}

// JobStatusRecord is the hash stored at job:{id}.
type JobStatusRecord struct {
	Status JobStatus `json:"status"`
	DocID  string    `json:"docId"`
	Error  string    `json:"error,omitempty"`
}

// Fields returns the hash fields for the record. error is always written so a retry
// clears the message left by a previous attempt.
func (r JobStatusRecord) Fields() map[string]string {
	return map[string]string{
		"status": string(r.Status),
		"docId":  r.DocID,
		"error":  r.Error,
	}
}

// JobStatusFromFields rebuilds a record from hash fields. ok is false for an empty hash.
func JobStatusFromFields(fields map[string]string) (JobStatusRecord, bool) {
	if len(fields) == 0 || fields["status"] == "" {
		return JobStatusRecord{}, false
	}
	return JobStatusRecord{
		Status: JobStatus(fields["status"]),
		DocID:  fields["docId"],
		Error:  fields["error"],
	}, true
}

// JobEvent is published on every status transition.
type JobEvent struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
	DocID  string    `json:"doc_id,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// RateLimit caps job starts to Max per DurationMs window.
type RateLimit struct {
	Max        int
	DurationMs int
}

// Backoff describes the queue retry delay.
type Backoff struct {
	Type        string // only "exponential" is supported
	BaseDelayMs int
}

// Delay returns the wait before attempt number attempt (1-based) is retried:
// base * 2^(attempt-1).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := time.Duration(b.BaseDelayMs) * time.Millisecond
	if b.Type != "" && b.Type != "exponential" {
		return base
	}
	factor := math.Pow(2, float64(attempt-1))
	return time.Duration(float64(base) * factor)
}

// QueueConfig is the per job type queue surface.
type QueueConfig struct {
	JobType     JobType
	QueueName   string
	Concurrency int
	RateLimit   *RateLimit
	MaxAttempts int
	Backoff     Backoff
}

// Validate checks the static constraints of a queue configuration.
func (q QueueConfig) Validate() error {
	if q.QueueName == "" {
		return fmt.Errorf("queue for job type %q has no name", q.JobType)
	}
	if q.Concurrency < 1 {
		return fmt.Errorf("queue %s: concurrency must be at least 1", q.QueueName)
	}
	if q.MaxAttempts < 1 {
		return fmt.Errorf("queue %s: max attempts must be at least 1", q.QueueName)
	}
	if q.RateLimit != nil && (q.RateLimit.Max < 1 || q.RateLimit.DurationMs < 1) {
		return fmt.Errorf("queue %s: rate limit needs positive max and duration", q.QueueName)
	}
	return nil
}
