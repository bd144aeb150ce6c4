package contextkeys

// contextKey is an unexported type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey carries the HTTP request ID.
	RequestIDKey contextKey = "request_id"

	// UserIDKey carries the authenticated owner of the request or job.
	UserIDKey contextKey = "user_id"

	// JobIDKey carries the job being processed by a worker.
	JobIDKey contextKey = "job_id"

	// QueueKey carries the queue a worker consumes.
	QueueKey contextKey = "queue"

	// BatchKey carries the name of the running batch task.
	BatchKey contextKey = "batch"
)

// String makes contextKey satisfy fmt.Stringer to help with debugging/logging of keys themselves.
func (c contextKey) String() string {
	return string(c)
}
