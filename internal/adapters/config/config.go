package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

const envPrefix = "DOC_TRANSLATE"

// ServerConfig holds server-related configurations.
type ServerConfig struct {
	HTTPPort            int `mapstructure:"http_port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	IdleTimeoutSeconds  int `mapstructure:"idle_timeout_seconds"`
	MaxUploadMB         int `mapstructure:"max_upload_mb"`
	// Job status stream
	StreamPingSeconds  int `mapstructure:"stream_ping_seconds"`
	StreamWriteSeconds int `mapstructure:"stream_write_seconds"`
}

// NATSConfig holds NATS JetStream settings.
type NATSConfig struct {
	URL                string `mapstructure:"url"`
	StreamName         string `mapstructure:"stream_name"`
	SubjectPrefix      string `mapstructure:"subject_prefix"`
	AckWaitSeconds     int    `mapstructure:"ack_wait_seconds"`
	MaxAckPending      int    `mapstructure:"max_ack_pending"`
	FetchWaitMs        int    `mapstructure:"fetch_wait_ms"`
	DuplicateWindowSec int    `mapstructure:"duplicate_window_seconds"`
}

// RedisConfig holds Redis client and reconnect policy settings.
type RedisConfig struct {
	Address           string `mapstructure:"address"`
	Password          string `mapstructure:"password"`
	DB                int    `mapstructure:"db"`
	DialTimeoutMs     int    `mapstructure:"dial_timeout_ms"`
	ReadTimeoutMs     int    `mapstructure:"read_timeout_ms"`
	WriteTimeoutMs    int    `mapstructure:"write_timeout_ms"`
	PoolSize          int    `mapstructure:"pool_size"`
	RetryBaseDelayMs  int    `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs   int    `mapstructure:"retry_max_delay_ms"`
	MaxRetryAttempts  int    `mapstructure:"max_retry_attempts"`
	HealthIntervalMs  int    `mapstructure:"health_interval_ms"`
	FatalGraceSeconds int    `mapstructure:"fatal_grace_seconds"`
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// CacheConfig holds CacheService tuning.
type CacheConfig struct {
	DefaultTTLSeconds     int `mapstructure:"default_ttl_seconds"`
	MaxJitterSeconds      int `mapstructure:"max_jitter_seconds"`
	BreakerCooldownSecond int `mapstructure:"breaker_cooldown_seconds"`
	DocTTLSeconds         int `mapstructure:"doc_ttl_seconds"`
	DocListTTLSeconds     int `mapstructure:"doc_list_ttl_seconds"`
	JobStatusTTLSeconds   int `mapstructure:"job_status_ttl_seconds"`
}

// LocksConfig holds lock TTLs.
type LocksConfig struct {
	JobLockTTLSeconds   int `mapstructure:"job_lock_ttl_seconds"`
	BatchLockTTLSeconds int `mapstructure:"batch_lock_ttl_seconds"`
	EmailLockTTLSeconds int `mapstructure:"email_lock_ttl_seconds"`
}

// RateLimitConfig limits job starts per window.
type RateLimitConfig struct {
	Max        int `mapstructure:"max"`
	DurationMs int `mapstructure:"duration_ms"`
}

// BackoffConfig configures retry delays.
type BackoffConfig struct {
	Type        string `mapstructure:"type"`
	BaseDelayMs int    `mapstructure:"base_delay_ms"`
}

// QueueConfig is the per job type queue surface.
type QueueConfig struct {
	QueueName   string           `mapstructure:"queue_name"`
	Concurrency int              `mapstructure:"concurrency"`
	RateLimit   *RateLimitConfig `mapstructure:"rate_limit"`
	MaxAttempts int              `mapstructure:"max_attempts"`
	Backoff     BackoffConfig    `mapstructure:"backoff"`
}

// ToDomain converts the config section into a domain.QueueConfig.
func (q QueueConfig) ToDomain(jobType domain.JobType) domain.QueueConfig {
	out := domain.QueueConfig{
		JobType:     jobType,
		QueueName:   q.QueueName,
		Concurrency: q.Concurrency,
		MaxAttempts: q.MaxAttempts,
		Backoff: domain.Backoff{
			Type:        q.Backoff.Type,
			BaseDelayMs: q.Backoff.BaseDelayMs,
		},
	}
	if q.RateLimit != nil && q.RateLimit.Max > 0 {
		out.RateLimit = &domain.RateLimit{Max: q.RateLimit.Max, DurationMs: q.RateLimit.DurationMs}
	}
	return out
}

// WorkerConfig holds worker process settings.
type WorkerConfig struct {
	ID                       string   `mapstructure:"id"`
	HeartbeatIntervalSeconds int      `mapstructure:"heartbeat_interval_seconds"`
	HeartbeatTTLSeconds      int      `mapstructure:"heartbeat_ttl_seconds"`
	ShutdownSettleMs         int      `mapstructure:"shutdown_settle_ms"`
	JobTypes                 []string `mapstructure:"job_types"`
}

// BatchConfig holds scheduler settings.
type BatchConfig struct {
	PageSize                int     `mapstructure:"page_size"`
	ReminderThreshold       float64 `mapstructure:"reminder_threshold"`
	ReminderRetryDelayMs    int     `mapstructure:"reminder_retry_delay_ms"`
	ReminderSubject         string  `mapstructure:"reminder_subject"`
	CleanupIntervalMinutes  int     `mapstructure:"cleanup_interval_minutes"`
	PurgeIntervalMinutes    int     `mapstructure:"purge_interval_minutes"`
	ReminderIntervalMinutes int     `mapstructure:"reminder_interval_minutes"`
	QuotaIntervalMinutes    int     `mapstructure:"quota_interval_minutes"`
	Timezone                string  `mapstructure:"timezone"`
}

// SpillConfig selects where uploads are spilled between API and worker.
type SpillConfig struct {
	Driver    string `mapstructure:"driver"` // "local" or "s3"
	LocalDir  string `mapstructure:"local_dir"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	PathStyle bool   `mapstructure:"path_style"`
}

// PostgresConfig holds the domain store connection.
type PostgresConfig struct {
	DSN           string `mapstructure:"dsn"`
	Schema        string `mapstructure:"schema"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

// AIConfig holds the AI gateway client settings.
type AIConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	APIKey                string `mapstructure:"api_key"`
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	BreakerFailures       int    `mapstructure:"breaker_failures"`
	BreakerTimeoutSeconds int    `mapstructure:"breaker_timeout_seconds"`
}

// SMTPConfig holds outgoing mail settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// IdentityConfig holds the identity provider admin API settings.
type IdentityConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName            string `mapstructure:"service_name"`
	Version                string `mapstructure:"version"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig              `mapstructure:"app"`
	Server   ServerConfig           `mapstructure:"server"`
	Log      LogConfig              `mapstructure:"log"`
	Redis    RedisConfig            `mapstructure:"redis"`
	NATS     NATSConfig             `mapstructure:"nats"`
	Cache    CacheConfig            `mapstructure:"cache"`
	Locks    LocksConfig            `mapstructure:"locks"`
	Queues   map[string]QueueConfig `mapstructure:"queues"`
	Worker   WorkerConfig           `mapstructure:"worker"`
	Batch    BatchConfig            `mapstructure:"batch"`
	Spill    SpillConfig            `mapstructure:"spill"`
	Postgres PostgresConfig         `mapstructure:"postgres"`
	AI       AIConfig               `mapstructure:"ai"`
	SMTP     SMTPConfig             `mapstructure:"smtp"`
	Identity IdentityConfig         `mapstructure:"identity"`
}

// Queue returns the domain queue config for jobType. ok is false when it is not configured.
func (c *Config) Queue(jobType domain.JobType) (domain.QueueConfig, bool) {
	q, ok := c.Queues[string(jobType)]
	if !ok {
		return domain.QueueConfig{}, false
	}
	return q.ToDomain(jobType), true
}

// Seconds converts an integer seconds setting into a duration, falling back when unset.
func Seconds(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Second
}

// Millis converts an integer milliseconds setting into a duration, falling back when unset.
func Millis(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
}

// Provider defines an interface for accessing application configuration.
type Provider interface {
	Get() *Config
}

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	config atomic.Pointer[Config]
	logger *zap.Logger // config loads before domain.Logger exists
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.service_name", "doc-translate-service")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.shutdown_timeout_seconds", 30)

	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout_seconds", 30)
	v.SetDefault("server.write_timeout_seconds", 30)
	v.SetDefault("server.idle_timeout_seconds", 60)
	v.SetDefault("server.max_upload_mb", 25)
	v.SetDefault("server.stream_ping_seconds", 20)
	v.SetDefault("server.stream_write_seconds", 10)

	v.SetDefault("log.level", "info")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.dial_timeout_ms", 5000)
	v.SetDefault("redis.read_timeout_ms", 3000)
	v.SetDefault("redis.write_timeout_ms", 3000)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.retry_base_delay_ms", 500)
	v.SetDefault("redis.retry_max_delay_ms", 5000)
	v.SetDefault("redis.max_retry_attempts", 10)
	v.SetDefault("redis.health_interval_ms", 5000)
	v.SetDefault("redis.fatal_grace_seconds", 5)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "DOC_JOBS")
	v.SetDefault("nats.subject_prefix", "jobs")
	v.SetDefault("nats.ack_wait_seconds", 600)
	v.SetDefault("nats.max_ack_pending", 256)
	v.SetDefault("nats.fetch_wait_ms", 2000)
	v.SetDefault("nats.duplicate_window_seconds", 120)

	v.SetDefault("cache.default_ttl_seconds", 300)
	v.SetDefault("cache.max_jitter_seconds", 60)
	v.SetDefault("cache.breaker_cooldown_seconds", 30)
	v.SetDefault("cache.doc_ttl_seconds", 600)
	v.SetDefault("cache.doc_list_ttl_seconds", 120)
	v.SetDefault("cache.job_status_ttl_seconds", 1800)

	v.SetDefault("locks.job_lock_ttl_seconds", 900)
	v.SetDefault("locks.batch_lock_ttl_seconds", 300)
	v.SetDefault("locks.email_lock_ttl_seconds", 120)

	v.SetDefault("queues.translation.queue_name", "translation")
	v.SetDefault("queues.translation.concurrency", 2)
	v.SetDefault("queues.translation.max_attempts", 3)
	v.SetDefault("queues.translation.rate_limit.max", 10)
	v.SetDefault("queues.translation.rate_limit.duration_ms", 60000)
	v.SetDefault("queues.translation.backoff.type", "exponential")
	v.SetDefault("queues.translation.backoff.base_delay_ms", 5000)
	v.SetDefault("queues.summarization.queue_name", "summarization")
	v.SetDefault("queues.summarization.concurrency", 4)
	v.SetDefault("queues.summarization.max_attempts", 3)
	v.SetDefault("queues.summarization.backoff.type", "exponential")
	v.SetDefault("queues.summarization.backoff.base_delay_ms", 2000)

	v.SetDefault("worker.heartbeat_interval_seconds", 10)
	v.SetDefault("worker.heartbeat_ttl_seconds", 30)
	v.SetDefault("worker.shutdown_settle_ms", 500)
	v.SetDefault("worker.job_types", []string{"translation", "summarization"})

	v.SetDefault("batch.page_size", 500)
	v.SetDefault("batch.reminder_threshold", 0.7)
	v.SetDefault("batch.reminder_retry_delay_ms", 60000)
	v.SetDefault("batch.reminder_subject", "You have documents waiting")
	v.SetDefault("batch.cleanup_interval_minutes", 60)
	v.SetDefault("batch.purge_interval_minutes", 360)
	v.SetDefault("batch.reminder_interval_minutes", 1440)
	v.SetDefault("batch.quota_interval_minutes", 60)
	v.SetDefault("batch.timezone", "UTC")

	v.SetDefault("spill.driver", "local")
	v.SetDefault("spill.local_dir", os.TempDir())

	v.SetDefault("postgres.schema", "public")
	v.SetDefault("postgres.run_migrations", true)

	v.SetDefault("ai.timeout_seconds", 120)
	v.SetDefault("ai.breaker_failures", 5)
	v.SetDefault("ai.breaker_timeout_seconds", 30)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("identity.timeout_seconds", 15)
}

// NewViperProvider loads configuration from an optional .env file, a YAML file and
// DOC_TRANSLATE_* environment variables, then watches for SIGHUP and file changes.
// appCtx ends the reload goroutine.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
	v.SetConfigType("yaml")
	v.AddConfigPath(getEnv("VIPER_CONFIG_PATH", "/app/config"))
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")) // redis.address -> DOC_TRANSLATE_REDIS_ADDRESS

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		logger.Error("Failed to unmarshal config", zap.Error(err))
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	p := &viperProvider{logger: logger}
	p.config.Store(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		defer signal.Stop(sigChan)
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, reloading configuration", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload(v, "sighup")
			case <-appCtx.Done():
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload(v, "fsnotify")
		})
		v.WatchConfig()
	}

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))
	return p, nil
}

func (p *viperProvider) reload(v *viper.Viper, source string) {
	newCfg := &Config{}
	if err := v.Unmarshal(newCfg); err != nil {
		p.logger.Error("Failed to unmarshal reloaded config", zap.String("source", source), zap.Error(err))
		return
	}
	p.config.Store(newCfg)
	p.logger.Info("Configuration reloaded", zap.String("source", source))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

// staticProvider serves a fixed Config. Used by tests and one-shot tools.
type staticProvider struct {
	cfg *Config
}

// NewStaticProvider wraps cfg in a Provider.
func NewStaticProvider(cfg *Config) Provider {
	return &staticProvider{cfg: cfg}
}

func (s *staticProvider) Get() *Config {
	return s.cfg
}

// Defaults returns a Config populated only with the built-in defaults.
func Defaults() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return cfg, nil
}
