package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	apphttp "gitlab.com/timkado/api/doc-translate-service/internal/adapters/http"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/middleware"
	appnats "gitlab.com/timkado/api/doc-translate-service/internal/adapters/nats"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/postgres"
	appredis "gitlab.com/timkado/api/doc-translate-service/internal/adapters/redis"
	wsadapter "gitlab.com/timkado/api/doc-translate-service/internal/adapters/websocket"
	"gitlab.com/timkado/api/doc-translate-service/internal/application"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
	"gitlab.com/timkado/api/doc-translate-service/pkg/safego"
)

func shutdownTimeout(cfgProvider config.Provider) time.Duration {
	return config.Seconds(cfgProvider.Get().App.ShutdownTimeoutSeconds, 30*time.Second)
}

// readinessCheck is one named dependency check.
type readinessCheck struct {
	name  string
	check func(ctx context.Context) error
}

func readinessHandler(logger domain.Logger, checks []readinessCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		ready := true
		deps := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.check(ctx); err != nil {
				deps[c.name] = "disconnected"
				ready = false
				logger.Warn(ctx, "Readiness check failed", "dependency", c.name, "error", err.Error())
				continue
			}
			deps[c.name] = "connected"
		}

		response := struct {
			Status       string            `json:"status"`
			Dependencies map[string]string `json:"dependencies"`
		}{Status: "READY", Dependencies: deps}

		w.Header().Set("Content-Type", "application/json")
		if ready {
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = "NOT_READY"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error(ctx, "Failed to encode readiness response", "error", err.Error())
		}
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"OK"}`)
}

// APIApp is the HTTP process.
type APIApp struct {
	configProvider config.Provider
	logger         domain.Logger
	httpServeMux   *http.ServeMux
	httpServer     *http.Server
	redisClient    *redis.Client
	guard          *appredis.ConnectionGuard
	natsConn       *appnats.Connection
	queue          *appnats.JobQueueAdapter
	repo           *postgres.Repo
	api            *apphttp.APIHandlers
	wsRouter       *wsadapter.Router
}

// NewAPIApp is the Wire constructor for APIApp.
func NewAPIApp(
	cfgProvider config.Provider,
	appLogger domain.Logger,
	mux *http.ServeMux,
	server *http.Server,
	redisClient *redis.Client,
	guard *appredis.ConnectionGuard,
	natsConn *appnats.Connection,
	queue *appnats.JobQueueAdapter,
	repo *postgres.Repo,
	api *apphttp.APIHandlers,
	wsRouter *wsadapter.Router,
) *APIApp {
	return &APIApp{
		configProvider: cfgProvider,
		logger:         appLogger,
		httpServeMux:   mux,
		httpServer:     server,
		redisClient:    redisClient,
		guard:          guard,
		natsConn:       natsConn,
		queue:          queue,
		repo:           repo,
		api:            api,
		wsRouter:       wsRouter,
	}
}

// Run registers the routes, serves HTTP and shuts down gracefully on SIGINT/SIGTERM or ctx end.
func (a *APIApp) Run(ctx context.Context) error {
	appCfg := a.configProvider.Get().App
	a.logger.Info(ctx, "Starting API", "service_name", appCfg.ServiceName, "version", appCfg.Version)

	guardCtx, stopGuard := context.WithCancel(ctx)
	defer stopGuard()
	safego.Execute(guardCtx, a.logger, "RedisConnectionGuard", func() { a.guard.Run(guardCtx) })

	a.httpServeMux.Handle("GET /health", middleware.RequestIDMiddleware(http.HandlerFunc(healthHandler)))
	a.httpServeMux.Handle("GET /ready", middleware.RequestIDMiddleware(readinessHandler(a.logger, []readinessCheck{
		{name: "redis", check: func(ctx context.Context) error { return a.redisClient.Ping(ctx).Err() }},
		{name: "nats", check: a.natsConn.Ping},
		{name: "job_stream", check: a.queue.Ping},
		{name: "postgres", check: a.repo.Ping},
	})))
	a.httpServeMux.Handle("GET /metrics", middleware.RequestIDMiddleware(promhttp.Handler()))
	a.api.RegisterRoutes(ctx, a.httpServeMux)
	a.wsRouter.RegisterRoutes(ctx, a.httpServeMux)
	a.httpServer.RegisterOnShutdown(a.wsRouter.Shutdown)

	safego.Execute(ctx, a.logger, "SignalListenerAndGracefulShutdown", func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			a.logger.Info(context.Background(), "Shutdown signal received, initiating graceful shutdown...", "signal", sig.String())
		case <-ctx.Done():
			a.logger.Info(context.Background(), "Application context cancelled, initiating graceful shutdown...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(a.configProvider))
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(context.Background(), "HTTP server graceful shutdown failed", "error", err.Error())
		}
		a.logger.Info(context.Background(), "HTTP server shut down.")
	})

	a.logger.Info(ctx, fmt.Sprintf("HTTP server listening on port %d", a.configProvider.Get().Server.HTTPPort))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.Error(ctx, "HTTP server ListenAndServe error", "error", err.Error())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	a.logger.Info(ctx, "API shut down gracefully.")
	return nil
}

// WorkerApp is the queue worker process.
type WorkerApp struct {
	configProvider config.Provider
	logger         domain.Logger
	guard          *appredis.ConnectionGuard
	pool           *application.WorkerPool
}

// NewWorkerApp is the Wire constructor for WorkerApp.
func NewWorkerApp(cfgProvider config.Provider, appLogger domain.Logger, guard *appredis.ConnectionGuard, pool *application.WorkerPool) *WorkerApp {
	return &WorkerApp{configProvider: cfgProvider, logger: appLogger, guard: guard, pool: pool}
}

// Run consumes the configured queues until the first SIGINT/SIGTERM or ctx end, then
// runs the pool shutdown. A second signal during shutdown exits immediately.
func (a *WorkerApp) Run(ctx context.Context) error {
	appCfg := a.configProvider.Get().App
	a.logger.Info(ctx, "Starting worker", "service_name", appCfg.ServiceName, "version", appCfg.Version)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	safego.Execute(runCtx, a.logger, "RedisConnectionGuard", func() { a.guard.Run(runCtx) })
	safego.Execute(runCtx, a.logger, "WorkerPool", func() {
		if err := a.pool.Run(runCtx); err != nil {
			a.logger.Error(runCtx, "Worker pool stopped with error", "error", err.Error())
		}
	})

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	done := make(chan struct{})
	startShutdown := func() {
		safego.Execute(context.Background(), a.logger, "WorkerShutdown", func() {
			defer close(done)
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout(a.configProvider))
			defer cancel()
			a.pool.HandleSignal(shutdownCtx)
		})
	}

	shuttingDown := false
	ctxDone := ctx.Done()
	for {
		select {
		case sig := <-sigs:
			a.logger.Info(context.Background(), "Termination signal received", "signal", sig.String())
			if shuttingDown {
				a.pool.HandleSignal(context.Background())
				continue
			}
			shuttingDown = true
			startShutdown()
		case <-ctxDone:
			ctxDone = nil
			if !shuttingDown {
				shuttingDown = true
				startShutdown()
			}
		case <-done:
			stop()
			a.logger.Info(context.Background(), "Worker shut down gracefully.")
			return nil
		}
	}
}

// SchedulerApp runs the batch tasks, either once or on their intervals.
type SchedulerApp struct {
	configProvider config.Provider
	logger         domain.Logger
	guard          *appredis.ConnectionGuard
	coordinator    *application.BatchCoordinator
}

// NewSchedulerApp is the Wire constructor for SchedulerApp.
func NewSchedulerApp(cfgProvider config.Provider, appLogger domain.Logger, guard *appredis.ConnectionGuard, coordinator *application.BatchCoordinator) *SchedulerApp {
	return &SchedulerApp{configProvider: cfgProvider, logger: appLogger, guard: guard, coordinator: coordinator}
}

// Tasks lists the batch task names in run order.
func Tasks() []string {
	return []string{application.TaskCleanup, application.TaskPurge, application.TaskReminders, application.TaskQuota}
}

// RunOnce runs a single task. ran is false when another process holds its lock.
func (a *SchedulerApp) RunOnce(ctx context.Context, task string) (domain.BatchResult, bool, error) {
	guardCtx, stopGuard := context.WithCancel(ctx)
	defer stopGuard()
	safego.Execute(guardCtx, a.logger, "RedisConnectionGuard", func() { a.guard.Run(guardCtx) })
	return a.coordinator.Run(ctx, task)
}

// Serve supervises one service per task until SIGINT/SIGTERM or ctx end.
func (a *SchedulerApp) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := a.configProvider.Get().Batch
	intervals := map[string]int{
		application.TaskCleanup:   cfg.CleanupIntervalMinutes,
		application.TaskPurge:     cfg.PurgeIntervalMinutes,
		application.TaskReminders: cfg.ReminderIntervalMinutes,
		application.TaskQuota:     cfg.QuotaIntervalMinutes,
	}

	sup := suture.New("batch-scheduler", suture.Spec{
		EventHook: a.supervisorEvent,
		Timeout:   shutdownTimeout(a.configProvider),
	})
	sup.Add(guardService{guard: a.guard})
	for _, task := range Tasks() {
		interval := time.Duration(intervals[task]) * time.Minute
		sup.Add(application.NewBatchTaskService(a.coordinator, task, interval))
		a.logger.Info(ctx, "Batch task scheduled", "task", task, "interval", interval.String())
	}

	if err := sup.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	a.logger.Info(context.Background(), "Scheduler shut down gracefully.")
	return nil
}

func (a *SchedulerApp) supervisorEvent(e suture.Event) {
	fields := make([]any, 0, 2*len(e.Map()))
	for k, v := range e.Map() {
		fields = append(fields, k, v)
	}
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
		a.logger.Warn(context.Background(), e.String(), fields...)
	default:
		a.logger.Info(context.Background(), e.String(), fields...)
	}
}

// guardService adapts the Redis connection guard to a supervised service.
type guardService struct {
	guard *appredis.ConnectionGuard
}

func (g guardService) Serve(ctx context.Context) error {
	g.guard.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// reconnection gave up; the guard exits the process on its own
	return suture.ErrDoNotRestart
}

func (g guardService) String() string { return "redis-guard" }
