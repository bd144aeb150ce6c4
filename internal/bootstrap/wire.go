//go:build wireinject
// +build wireinject

//go:generate wire

package bootstrap

import (
	"context"

	"github.com/google/wire"
)

// InitializeAPI builds the HTTP process: REST endpoints, the job status stream and the producer.
func InitializeAPI(ctx context.Context) (*APIApp, func(), error) {
	wire.Build(APISet)
	return nil, nil, nil
}

// InitializeWorker builds the queue worker process.
func InitializeWorker(ctx context.Context) (*WorkerApp, func(), error) {
	wire.Build(WorkerSet)
	return nil, nil, nil
}

// InitializeScheduler builds the batch scheduler process.
func InitializeScheduler(ctx context.Context) (*SchedulerApp, func(), error) {
	wire.Build(SchedulerSet)
	return nil, nil, nil
}
