package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_cache_requests_total",
			Help: "Cache lookups by result (hit, miss, coalesced, short_circuit).",
		},
		[]string{"result"},
	)

	CacheStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_cache_store_errors_total",
			Help: "Store errors absorbed by the cache service, by operation.",
		},
		[]string{"op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dts_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	LockOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_lock_operations_total",
			Help: "Distributed lock operations by prefix, operation and outcome.",
		},
		[]string{"prefix", "op", "outcome"},
	)

	RedisConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dts_redis_connection_up",
			Help: "1 while the Redis connection is believed healthy.",
		},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_jobs_total",
			Help: "Job attempts by queue and outcome (completed, retried, failed, aborted, rejected).",
		},
		[]string{"queue", "outcome"},
	)

	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_jobs_enqueued_total",
			Help: "Jobs accepted by the producer, by job type.",
		},
		[]string{"type"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dts_job_duration_seconds",
			Help:    "Wall time of one job attempt.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"queue", "outcome"},
	)

	ActiveJobsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dts_active_jobs",
			Help: "Jobs currently held in the worker active registry.",
		},
		[]string{"queue"},
	)

	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_batch_items_total",
			Help: "Batch items processed by task and outcome.",
		},
		[]string{"task", "outcome"},
	)

	BatchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_batch_runs_total",
			Help: "Batch task runs by outcome (completed, skipped_locked, failed, retried).",
		},
		[]string{"task", "outcome"},
	)

	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dts_job_stream_connections",
			Help: "Open job status WebSocket streams.",
		},
	)

	StreamMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dts_job_stream_messages_total",
			Help: "Messages written to job status streams, by type.",
		},
		[]string{"type"},
	)
)

// IncCache records a cache lookup result.
func IncCache(result string) {
	CacheRequestsTotal.WithLabelValues(result).Inc()
}

// IncCacheStoreError records an absorbed store error.
func IncCacheStoreError(op string) {
	CacheStoreErrorsTotal.WithLabelValues(op).Inc()
}

// SetBreakerState publishes a breaker state, 0 closed, 1 half-open, 2 open.
func SetBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// IncLock records a lock operation.
func IncLock(prefix, op, outcome string) {
	LockOperationsTotal.WithLabelValues(prefix, op, outcome).Inc()
}

// SetRedisUp publishes the connection guard view of Redis.
func SetRedisUp(up bool) {
	if up {
		RedisConnectionState.Set(1)
		return
	}
	RedisConnectionState.Set(0)
}

// ObserveJob records the outcome and duration of one job attempt.
func ObserveJob(queue, outcome string, d time.Duration) {
	JobsTotal.WithLabelValues(queue, outcome).Inc()
	JobDuration.WithLabelValues(queue, outcome).Observe(d.Seconds())
}

// IncEnqueued records an accepted job.
func IncEnqueued(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

// SetActiveJobs publishes the size of the active registry for queue.
func SetActiveJobs(queue string, n int) {
	ActiveJobsGauge.WithLabelValues(queue).Set(float64(n))
}

// AddBatchItems records n items of task with outcome.
func AddBatchItems(task, outcome string, n int) {
	if n <= 0 {
		return
	}
	BatchItemsTotal.WithLabelValues(task, outcome).Add(float64(n))
}

// IncBatchRun records a batch run.
func IncBatchRun(task, outcome string) {
	BatchRunsTotal.WithLabelValues(task, outcome).Inc()
}

// StreamOpened tracks an open job status stream. Call the returned func on close.
func StreamOpened() func() {
	StreamConnections.Inc()
	return StreamConnections.Dec
}

func IncStreamMessage(msgType string) {
	StreamMessagesTotal.WithLabelValues(msgType).Inc()
}
