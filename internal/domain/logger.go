package domain

import (
	"context"
)

// Logger is the structured logger every component receives through its constructor.
// The first argument is always the request/job context so implementations can attach
// request_id, job_id and user_id without each call site repeating them.
// Fields are alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...any)
	Info(ctx context.Context, msg string, fields ...any)
	Warn(ctx context.Context, msg string, fields ...any)
	Error(ctx context.Context, msg string, fields ...any)
	Fatal(ctx context.Context, msg string, fields ...any) // Fatal calls os.Exit(1) after logging

	// With returns a child logger that always includes the given fields.
	With(fields ...any) Logger
}
