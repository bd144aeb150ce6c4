package domain

import (
	"errors"
	"fmt"
	"net/http"

	json "github.com/goccy/go-json"
)

// ErrorCode is the machine readable code returned to API clients.
type ErrorCode string

const (
	CodeBadRequest   ErrorCode = "BadRequest"          // HTTP 400
	CodeUnauthorized ErrorCode = "Unauthorized"        // HTTP 401
	CodeNotFound     ErrorCode = "NotFound"            // HTTP 404
	CodeConflict     ErrorCode = "Conflict"            // HTTP 409, a job for this owner is already running
	CodeUnavailable  ErrorCode = "ServiceUnavailable"  // HTTP 503, no worker would drain the queue
	CodeInternal     ErrorCode = "InternalServerError" // HTTP 500
)

// ErrorResponse is the JSON error body returned by the HTTP API.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// NewErrorResponse creates a new ErrorResponse struct.
func NewErrorResponse(code ErrorCode, message string, details string) ErrorResponse {
	return ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WriteJSON sends an ErrorResponse as JSON with the given HTTP status code.
func (er ErrorResponse) WriteJSON(w http.ResponseWriter, httpStatusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	_ = json.NewEncoder(w).Encode(er)
}

var (
	// ErrCacheMiss is returned by a CacheStore when the key does not exist.
	ErrCacheMiss = errors.New("cache miss")
	// ErrNotFound is returned by stores and external directories when the entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrJobInProgress is returned when the owner already holds the job lock.
	ErrJobInProgress = errors.New("a job for this owner is already in progress")
	// ErrNoWorkers is returned when no consumer is alive for the target queue.
	ErrNoWorkers = errors.New("no active workers for queue")
	// ErrAborted is raised at a pipeline checkpoint once shutdown has begun.
	ErrAborted = errors.New("job aborted by shutdown")
)

// ErrorKind classifies failures for the retry layers.
type ErrorKind string

const (
	// KindTransient covers connection errors and network blips. Retried.
	KindTransient ErrorKind = "transient"
	// KindFatal covers bad credentials and misconfigured infrastructure. The process exits.
	KindFatal ErrorKind = "fatal"
	// KindValidation covers missing job fields and invalid input. Never retried.
	KindValidation ErrorKind = "validation"
	// KindPartial marks a per-item failure inside a batch.
	KindPartial ErrorKind = "partial"
)

// Error carries an ErrorKind and an explicit retry decision so callers never
// need to inspect message text.
type Error struct {
	Kind      ErrorKind
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as a retryable infrastructure failure.
func NewTransientError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Retryable: true, Err: err}
}

// NewFatalError wraps err as a non-recoverable infrastructure failure.
func NewFatalError(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Retryable: false, Err: err}
}

// NewValidationError wraps err as a business/validation failure.
func NewValidationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Retryable: false, Err: err}
}

// NewPartialError wraps a per-item batch failure.
func NewPartialError(op string, err error) *Error {
	return &Error{Kind: KindPartial, Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether err should be handed back to the queue for another attempt.
// Errors without a kind are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable
	}
	return true
}

// KindOf returns the kind of err, defaulting to KindTransient for untagged errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}
