package application

import (
	"context"
	"time"
)

// BatchTaskService runs one batch task on a fixed interval. It satisfies suture.Service
// so the scheduler's supervisor restarts it if it panics.
type BatchTaskService struct {
	coord    *BatchCoordinator
	task     string
	interval time.Duration
}

func NewBatchTaskService(coord *BatchCoordinator, task string, interval time.Duration) *BatchTaskService {
	if interval <= 0 {
		interval = time.Hour
	}
	return &BatchTaskService{coord: coord, task: task, interval: interval}
}

// Serve runs the task immediately and then on every tick until ctx ends. A failed run
// is logged by the coordinator and does not stop the service.
func (s *BatchTaskService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		_, _, _ = s.coord.Run(ctx, s.task)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *BatchTaskService) String() string {
	return "batch:" + s.task
}
