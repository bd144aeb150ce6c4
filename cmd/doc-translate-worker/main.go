package main

import (
	"context"
	"fmt"
	"os"

	"gitlab.com/timkado/api/doc-translate-service/internal/bootstrap"
	"gitlab.com/timkado/api/doc-translate-service/pkg/contextkeys"
)

func main() {
	ctx := context.WithValue(context.Background(), contextkeys.RequestIDKey, "worker-main")

	app, cleanup, err := bootstrap.InitializeWorker(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize worker: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Worker run failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}
}
