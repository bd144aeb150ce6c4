package application

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/safego"
)

// PoolOptions configures WorkerPool.
type PoolOptions struct {
	WorkerID          string
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	SettleDelay       time.Duration
}

// WorkerPool runs one JobWorker per queue, advertises them in the worker registry
// and owns the shutdown sequence.
type WorkerPool struct {
	workers  []*JobWorker
	registry domain.WorkerRegistry
	locks    *DistributedLock
	active   *ActiveJobs
	abort    *AbortSignal
	closers  []func() error
	logger   domain.Logger
	opts     PoolOptions
	exit     func(code int)

	shuttingDown atomic.Bool
	mu           sync.Mutex
	beats        sync.WaitGroup
	stopBeat     context.CancelFunc
}

// NewWorkerPool creates a pool. closers run last during shutdown, in order.
func NewWorkerPool(
	workers []*JobWorker,
	registry domain.WorkerRegistry,
	deps WorkerDeps,
	opts PoolOptions,
	exit func(code int),
	closers ...func() error,
) *WorkerPool {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.HeartbeatTTL <= 0 {
		opts.HeartbeatTTL = 3 * opts.HeartbeatInterval
	}
	return &WorkerPool{
		workers:  workers,
		registry: registry,
		locks:    deps.Locks,
		active:   deps.Active,
		abort:    deps.Abort,
		closers:  closers,
		logger:   deps.Logger,
		opts:     opts,
		exit:     exit,
	}
}

// Run starts every worker and the heartbeat loop, then blocks until ctx ends.
func (p *WorkerPool) Run(ctx context.Context) error {
	beatCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.stopBeat = stop
	p.beats.Add(1)
	p.mu.Unlock()

	p.beat(beatCtx)
	safego.Execute(beatCtx, p.logger, "worker-heartbeat", func() {
		defer p.beats.Done()
		ticker := time.NewTicker(p.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.beat(beatCtx)
			case <-beatCtx.Done():
				return
			}
		}
	})

	for _, w := range p.workers {
		safego.Execute(ctx, p.logger, "worker:"+w.Queue(), func() {
			if err := w.Run(ctx); err != nil {
				p.logger.Error(ctx, "Job worker stopped with error", "queue", w.Queue(), "error", err.Error())
			}
		})
	}
	p.logger.Info(ctx, "Worker pool running", "worker_id", p.opts.WorkerID, "queues", len(p.workers))

	<-ctx.Done()
	return nil
}

func (p *WorkerPool) beat(ctx context.Context) {
	for _, w := range p.workers {
		if err := p.registry.Heartbeat(ctx, w.Queue(), p.opts.WorkerID, p.opts.HeartbeatTTL); err != nil {
			p.logger.Warn(ctx, "Worker heartbeat failed", "queue", w.Queue(), "error", err.Error())
		}
	}
}

// HandleSignal starts the shutdown sequence. A second call while it is running
// exits the process immediately.
func (p *WorkerPool) HandleSignal(ctx context.Context) {
	if p.shuttingDown.Load() {
		p.logger.Warn(ctx, "Second termination signal; forcing exit")
		p.exit(1)
		return
	}
	p.Shutdown(ctx)
}

// Shutdown aborts running jobs at their next checkpoint, returns in-flight
// deliveries to the queue, force-releases every tracked lock and closes downstream
// connections. Only the first call does anything.
func (p *WorkerPool) Shutdown(ctx context.Context) {
	if !p.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	p.logger.Info(ctx, "Worker shutdown started", "active_jobs", p.active.Len())

	p.abort.Trigger()

	for _, w := range p.workers {
		w.HardClose(ctx)
	}

	for jobID, a := range p.active.drain() {
		p.locks.ReleaseOwned(ctx, a.lockPrefix, a.identifier, a.token)
		p.logger.Info(ctx, "Force-released lock of interrupted job", "job_id", jobID, "queue", a.queue)
	}

	settleCtx, cancel := context.WithTimeout(ctx, p.opts.SettleDelay)
	for _, w := range p.workers {
		_ = w.Wait(settleCtx)
	}
	<-settleCtx.Done()
	cancel()

	p.mu.Lock()
	stop := p.stopBeat
	p.mu.Unlock()
	if stop != nil {
		stop()
		p.beats.Wait()
	}
	for _, w := range p.workers {
		if err := p.registry.Unregister(ctx, w.Queue(), p.opts.WorkerID); err != nil {
			p.logger.Warn(ctx, "Failed to unregister worker", "queue", w.Queue(), "error", err.Error())
		}
		if err := w.Close(); err != nil {
			p.logger.Warn(ctx, "Failed to close consumer", "queue", w.Queue(), "error", err.Error())
		}
	}
	for _, c := range p.closers {
		if err := c(); err != nil {
			p.logger.Warn(ctx, "Failed to close downstream connection", "error", err.Error())
		}
	}
	p.logger.Info(ctx, "Worker shutdown complete")
}
