package safego

import (
	"context"
	"fmt"
	"runtime/debug"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// Execute runs fn in a new goroutine and logs, with a stack trace, any panic it raises.
func Execute(ctx context.Context, logger domain.Logger, goroutineName string, fn func()) {
	go func() {
		defer recoverAndLog(ctx, logger, goroutineName)
		fn()
	}()
}

// Run calls fn on the current goroutine and converts a panic into an error so one
// misbehaving job cannot take the worker down with it.
func Run(ctx context.Context, logger domain.Logger, name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(ctx, logger, name, r)
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	return fn()
}

func recoverAndLog(ctx context.Context, logger domain.Logger, name string) {
	if r := recover(); r != nil {
		logPanic(ctx, logger, name, r)
	}
}

func logPanic(ctx context.Context, logger domain.Logger, name string, r any) {
	// the original context may already be cancelled during shutdown
	logCtx := ctx
	if ctx.Err() != nil {
		logCtx = context.Background()
	}
	logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", name),
		"panic_info", fmt.Sprintf("%v", r),
		"stacktrace", string(debug.Stack()),
	)
}
