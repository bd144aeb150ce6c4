package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/ai"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/config"
	apphttp "gitlab.com/timkado/api/doc-translate-service/internal/adapters/http"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/identity"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/logger"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/mail"
	appnats "gitlab.com/timkado/api/doc-translate-service/internal/adapters/nats"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/postgres"
	appredis "gitlab.com/timkado/api/doc-translate-service/internal/adapters/redis"
	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/spill"
	wsadapter "gitlab.com/timkado/api/doc-translate-service/internal/adapters/websocket"
	"gitlab.com/timkado/api/doc-translate-service/internal/application"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// Queues is the set of configured queues keyed by job type.
type Queues map[domain.JobType]domain.QueueConfig

// MarkerStore is the raw lock manager used for per-day batch markers. It is a
// distinct type so Wire does not confuse it with the lock manager behind DistributedLock.
type MarkerStore domain.LockManager

// InitialZapLoggerProvider provides a basic *zap.Logger used while the configuration loads.
func InitialZapLoggerProvider() (*zap.Logger, func(), error) {
	l, err := zap.NewProduction()
	if err != nil {
		l, err = zap.NewDevelopment()
		if err != nil {
			l = zap.NewExample()
			fmt.Fprintf(os.Stderr, "Failed to create initial zap logger, falling back to example logger: %v\n", err)
		}
	}
	cleanup := func() {
		if syncErr := l.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to sync initial zap logger: %v\n", syncErr)
		}
	}
	return l, cleanup, nil
}

// ConfigProvider loads the configuration. appCtx ends the reload watcher.
func ConfigProvider(appCtx context.Context, l *zap.Logger) (config.Provider, error) {
	return config.NewViperProvider(appCtx, l)
}

// LoggerProvider provides the application logger.
func LoggerProvider(cfgProvider config.Provider) (domain.Logger, error) {
	return logger.NewZapAdapter(cfgProvider, cfgProvider.Get().App.ServiceName)
}

// QueuesProvider collects every configured queue and validates it.
func QueuesProvider(cfgProvider config.Provider) (Queues, error) {
	cfg := cfgProvider.Get()
	out := make(Queues, len(cfg.Queues))
	for name := range cfg.Queues {
		qc, _ := cfg.Queue(domain.JobType(name))
		if err := qc.Validate(); err != nil {
			return nil, err
		}
		out[qc.JobType] = qc
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no queues configured")
	}
	return out, nil
}

// RedisClientProvider dials Redis and returns a cleanup closing the client.
func RedisClientProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*redis.Client, func(), error) {
	cfg := cfgProvider.Get().Redis
	client, err := appredis.NewClient(ctx, cfg)
	if err != nil {
		appLogger.Error(ctx, "Failed to connect to Redis", "error", err.Error(), "address", cfg.Address)
		return nil, nil, err
	}
	cleanup := func() {
		if err := client.Close(); err != nil {
			appLogger.Warn(context.Background(), "Error closing Redis client", "error", err.Error())
			return
		}
		appLogger.Info(context.Background(), "Redis connection closed")
	}
	appLogger.Info(ctx, "Successfully connected to Redis", "address", cfg.Address)
	return client, cleanup, nil
}

// ConnectionGuardProvider installs the Redis connection guard. Fatal errors exit the process.
func ConnectionGuardProvider(client *redis.Client, appLogger domain.Logger, cfgProvider config.Provider) *appredis.ConnectionGuard {
	return appredis.NewConnectionGuard(client, appLogger, appredis.PolicyFromConfig(cfgProvider.Get().Redis), os.Exit)
}

func CacheStoreProvider(client *redis.Client, appLogger domain.Logger) *appredis.CacheStoreAdapter {
	return appredis.NewCacheStoreAdapter(client, appLogger)
}

func LockManagerProvider(client *redis.Client, appLogger domain.Logger) *appredis.LockManagerAdapter {
	return appredis.NewLockManagerAdapter(client, appLogger)
}

// MarkerStoreProvider exposes the lock manager for day markers.
func MarkerStoreProvider(locks *appredis.LockManagerAdapter) MarkerStore {
	return locks
}

func WorkerRegistryProvider(client *redis.Client, appLogger domain.Logger) *appredis.WorkerRegistryAdapter {
	return appredis.NewWorkerRegistryAdapter(client, appLogger)
}

func JobEventPubSubProvider(client *redis.Client, appLogger domain.Logger) *appredis.JobEventPubSubAdapter {
	return appredis.NewJobEventPubSubAdapter(client, appLogger)
}

// CacheServiceProvider provides the breaker-guarded cache.
func CacheServiceProvider(store domain.CacheStore, appLogger domain.Logger, cfgProvider config.Provider) *application.CacheService {
	cfg := cfgProvider.Get().Cache
	return application.NewCacheService(store, appLogger, application.CacheOptions{
		DefaultTTL:      config.Seconds(cfg.DefaultTTLSeconds, 5*time.Minute),
		MaxJitter:       config.Seconds(cfg.MaxJitterSeconds, time.Minute),
		BreakerCooldown: config.Seconds(cfg.BreakerCooldownSecond, 30*time.Second),
	})
}

func DistributedLockProvider(locks domain.LockManager, conn domain.ConnectionState, appLogger domain.Logger) *application.DistributedLock {
	return application.NewDistributedLock(locks, conn, appLogger)
}

func JobStatusTrackerProvider(cache *application.CacheService, publisher domain.JobEventPublisher, appLogger domain.Logger, cfgProvider config.Provider) *application.JobStatusTracker {
	ttl := config.Seconds(cfgProvider.Get().Cache.JobStatusTTLSeconds, 30*time.Minute)
	return application.NewJobStatusTracker(cache, publisher, appLogger, ttl)
}

// NATSConnectionProvider connects to NATS. The cleanup drains the connection.
func NATSConnectionProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*appnats.Connection, func(), error) {
	return appnats.Connect(ctx, cfgProvider, appLogger)
}

// JobQueueAdapterProvider makes sure the job stream exists.
func JobQueueAdapterProvider(ctx context.Context, conn *appnats.Connection, cfgProvider config.Provider, appLogger domain.Logger) (*appnats.JobQueueAdapter, error) {
	return appnats.NewJobQueueAdapter(ctx, conn.JetStream(), appnats.StreamOptionsFromConfig(cfgProvider.Get().NATS), appLogger)
}

func QueueRouterProvider(adapter *appnats.JobQueueAdapter, queues Queues) *appnats.QueueRouter {
	return appnats.NewQueueRouter(adapter, queues)
}

func SpillStoreProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (domain.SpillStore, error) {
	return spill.New(ctx, cfgProvider.Get().Spill, appLogger)
}

// PostgresRepoProvider opens the domain store. The cleanup closes the pool.
func PostgresRepoProvider(ctx context.Context, cfgProvider config.Provider, appLogger domain.Logger) (*postgres.Repo, func(), error) {
	return postgres.NewRepo(ctx, cfgProvider.Get().Postgres, appLogger)
}

func JobProducerProvider(
	queue domain.JobQueue,
	spillStore domain.SpillStore,
	locks *application.DistributedLock,
	workers domain.WorkerRegistry,
	status *application.JobStatusTracker,
	appLogger domain.Logger,
	cfgProvider config.Provider,
	queues Queues,
) *application.JobProducer {
	cfg := cfgProvider.Get()
	return application.NewJobProducer(queue, spillStore, locks, workers, status, appLogger, application.ProducerOptions{
		Queues:       queues,
		LockTTL:      config.Seconds(cfg.Locks.JobLockTTLSeconds, 15*time.Minute),
		HeartbeatTTL: config.Seconds(cfg.Worker.HeartbeatTTLSeconds, 30*time.Second),
	})
}

func DocumentQueryServiceProvider(store domain.DocumentStore, cache *application.CacheService, appLogger domain.Logger, cfgProvider config.Provider) *application.DocumentQueryService {
	cfg := cfgProvider.Get().Cache
	return application.NewDocumentQueryService(store, cache, appLogger,
		config.Seconds(cfg.DocTTLSeconds, 10*time.Minute),
		config.Seconds(cfg.DocListTTLSeconds, 2*time.Minute),
	)
}

func APIHandlersProvider(
	producer *application.JobProducer,
	status *application.JobStatusTracker,
	documents *application.DocumentQueryService,
	appLogger domain.Logger,
	cfgProvider config.Provider,
) *apphttp.APIHandlers {
	return apphttp.NewAPIHandlers(producer, status, documents, appLogger, cfgProvider.Get().Server.MaxUploadMB)
}

func WebsocketHandlerProvider(appLogger domain.Logger, cfgProvider config.Provider, status *application.JobStatusTracker, events domain.JobEventSubscriber) *wsadapter.Handler {
	return wsadapter.NewHandler(appLogger, cfgProvider, status, events)
}

func WebsocketRouterProvider(appLogger domain.Logger, wsHandler *wsadapter.Handler) *wsadapter.Router {
	return wsadapter.NewRouter(appLogger, wsHandler)
}

// HTTPServeMuxProvider provides the main HTTP multiplexer.
func HTTPServeMuxProvider() *http.ServeMux {
	return http.NewServeMux()
}

// HTTPGracefulServerProvider provides the HTTP server. Shutdown is driven by APIApp.Run.
func HTTPGracefulServerProvider(cfgProvider config.Provider, mux *http.ServeMux) *http.Server {
	cfg := cfgProvider.Get().Server
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  config.Seconds(cfg.ReadTimeoutSeconds, 30*time.Second),
		WriteTimeout: config.Seconds(cfg.WriteTimeoutSeconds, 30*time.Second),
		IdleTimeout:  config.Seconds(cfg.IdleTimeoutSeconds, 60*time.Second),
	}
}

func AIClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*ai.Client, error) {
	return ai.NewClient(cfgProvider.Get().AI, appLogger)
}

func PipelineDepsProvider(
	status *application.JobStatusTracker,
	spillStore domain.SpillStore,
	translator domain.Translator,
	summarizer domain.Summarizer,
	documents domain.DocumentStore,
	cache *application.CacheService,
	appLogger domain.Logger,
) application.PipelineDeps {
	return application.PipelineDeps{
		Status:     status,
		Spill:      spillStore,
		Translator: translator,
		Summarizer: summarizer,
		Documents:  documents,
		Cache:      cache,
		Logger:     appLogger,
	}
}

func WorkerDepsProvider(status *application.JobStatusTracker, spillStore domain.SpillStore, locks *application.DistributedLock, appLogger domain.Logger) application.WorkerDeps {
	return application.WorkerDeps{
		Status: status,
		Spill:  spillStore,
		Locks:  locks,
		Active: application.NewActiveJobs(),
		Abort:  &application.AbortSignal{},
		Logger: appLogger,
	}
}

// JobWorkersProvider creates one worker per job type this process consumes.
func JobWorkersProvider(
	ctx context.Context,
	cfgProvider config.Provider,
	adapter *appnats.JobQueueAdapter,
	queues Queues,
	pipeline application.PipelineDeps,
	deps application.WorkerDeps,
) ([]*application.JobWorker, error) {
	cfg := cfgProvider.Get()
	jobTypes := cfg.Worker.JobTypes
	if len(jobTypes) == 0 {
		for t := range queues {
			jobTypes = append(jobTypes, string(t))
		}
		sort.Strings(jobTypes)
	}
	fetchWait := config.Millis(cfg.NATS.FetchWaitMs, 2*time.Second)

	workers := make([]*application.JobWorker, 0, len(jobTypes))
	for _, name := range jobTypes {
		jobType := domain.JobType(name)
		qc, ok := queues[jobType]
		if !ok {
			return nil, fmt.Errorf("worker consumes %q but no queue is configured for it", name)
		}
		var processor application.Processor
		switch jobType {
		case domain.JobTypeTranslation:
			processor = application.NewTranslationProcessor(pipeline)
		case domain.JobTypeSummarization:
			processor = application.NewSummarizationProcessor(pipeline, int64(cfg.Server.MaxUploadMB)<<20)
		default:
			return nil, fmt.Errorf("no pipeline for job type %q", name)
		}
		consumer, err := adapter.NewConsumer(ctx, qc)
		if err != nil {
			return nil, err
		}
		w, err := application.NewJobWorker(qc, consumer, processor, deps, fetchWait)
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// WorkerPoolProvider wires the pool. Draining NATS is the last shutdown step.
func WorkerPoolProvider(
	workers []*application.JobWorker,
	registry domain.WorkerRegistry,
	deps application.WorkerDeps,
	cfgProvider config.Provider,
	conn *appnats.Connection,
) *application.WorkerPool {
	cfg := cfgProvider.Get().Worker
	workerID := cfg.ID
	if workerID == "" {
		workerID, _ = os.Hostname()
	}
	return application.NewWorkerPool(workers, registry, deps, application.PoolOptions{
		WorkerID:          workerID,
		HeartbeatInterval: config.Seconds(cfg.HeartbeatIntervalSeconds, 10*time.Second),
		HeartbeatTTL:      config.Seconds(cfg.HeartbeatTTLSeconds, 30*time.Second),
		SettleDelay:       config.Millis(cfg.ShutdownSettleMs, 500*time.Millisecond),
	}, os.Exit, func() error {
		conn.Close()
		return nil
	})
}

func MailerProvider(cfgProvider config.Provider, appLogger domain.Logger) (*mail.SMTPMailer, error) {
	return mail.NewSMTPMailer(cfgProvider.Get().SMTP, appLogger)
}

func IdentityClientProvider(cfgProvider config.Provider, appLogger domain.Logger) (*identity.Client, error) {
	return identity.NewClient(cfgProvider.Get().Identity, appLogger)
}

func BatchCoordinatorProvider(
	store domain.BatchStore,
	directory domain.IdentityDirectory,
	mailer domain.Mailer,
	cache *application.CacheService,
	locks *application.DistributedLock,
	markers MarkerStore,
	appLogger domain.Logger,
	cfgProvider config.Provider,
) (*application.BatchCoordinator, error) {
	cfg := cfgProvider.Get()
	loc := time.UTC
	if cfg.Batch.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(cfg.Batch.Timezone); err != nil {
			return nil, fmt.Errorf("batch timezone %q: %w", cfg.Batch.Timezone, err)
		}
	}
	return application.NewBatchCoordinator(store, directory, mailer, cache, locks, markers, appLogger, application.BatchOptions{
		PageSize:           cfg.Batch.PageSize,
		LockTTL:            config.Seconds(cfg.Locks.BatchLockTTLSeconds, 5*time.Minute),
		EmailLockTTL:       config.Seconds(cfg.Locks.EmailLockTTLSeconds, 2*time.Minute),
		ReminderThreshold:  cfg.Batch.ReminderThreshold,
		ReminderRetryDelay: config.Millis(cfg.Batch.ReminderRetryDelayMs, time.Minute),
		ReminderSubject:    cfg.Batch.ReminderSubject,
		Location:           loc,
	}), nil
}

// CoreSet is shared by every process: config, logging and the Redis-backed services.
var CoreSet = wire.NewSet(
	InitialZapLoggerProvider,
	ConfigProvider,
	LoggerProvider,

	RedisClientProvider,
	ConnectionGuardProvider,
	wire.Bind(new(domain.ConnectionState), new(*appredis.ConnectionGuard)),
	CacheStoreProvider,
	wire.Bind(new(domain.CacheStore), new(*appredis.CacheStoreAdapter)),
	LockManagerProvider,
	wire.Bind(new(domain.LockManager), new(*appredis.LockManagerAdapter)),

	CacheServiceProvider,
	DistributedLockProvider,
)

// JobSet adds the job status and queue plumbing used by the API and the workers.
var JobSet = wire.NewSet(
	WorkerRegistryProvider,
	wire.Bind(new(domain.WorkerRegistry), new(*appredis.WorkerRegistryAdapter)),
	JobEventPubSubProvider,
	wire.Bind(new(domain.JobEventPublisher), new(*appredis.JobEventPubSubAdapter)),
	wire.Bind(new(domain.JobEventSubscriber), new(*appredis.JobEventPubSubAdapter)),
	JobStatusTrackerProvider,

	QueuesProvider,
	NATSConnectionProvider,
	JobQueueAdapterProvider,
	SpillStoreProvider,
	PostgresRepoProvider,
	wire.Bind(new(domain.DocumentStore), new(*postgres.Repo)),
)

// APISet builds the HTTP process.
var APISet = wire.NewSet(
	CoreSet,
	JobSet,
	QueueRouterProvider,
	wire.Bind(new(domain.JobQueue), new(*appnats.QueueRouter)),
	JobProducerProvider,
	DocumentQueryServiceProvider,
	APIHandlersProvider,
	WebsocketHandlerProvider,
	WebsocketRouterProvider,
	HTTPServeMuxProvider,
	HTTPGracefulServerProvider,
	NewAPIApp,
)

// WorkerSet builds the queue worker process.
var WorkerSet = wire.NewSet(
	CoreSet,
	JobSet,
	AIClientProvider,
	wire.Bind(new(domain.Translator), new(*ai.Client)),
	wire.Bind(new(domain.Summarizer), new(*ai.Client)),
	PipelineDepsProvider,
	WorkerDepsProvider,
	JobWorkersProvider,
	WorkerPoolProvider,
	NewWorkerApp,
)

// SchedulerSet builds the batch scheduler process.
var SchedulerSet = wire.NewSet(
	CoreSet,
	PostgresRepoProvider,
	wire.Bind(new(domain.BatchStore), new(*postgres.Repo)),
	MarkerStoreProvider,
	MailerProvider,
	wire.Bind(new(domain.Mailer), new(*mail.SMTPMailer)),
	IdentityClientProvider,
	wire.Bind(new(domain.IdentityDirectory), new(*identity.Client)),
	BatchCoordinatorProvider,
	NewSchedulerApp,
)
