package redis

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/doc-translate-service/internal/adapters/metrics"
	"gitlab.com/timkado/api/doc-translate-service/internal/domain"
)

// ErrorClass is how the connection guard reacts to a command error.
type ErrorClass int

const (
	// ClassNone means the server answered; the connection is fine.
	ClassNone ErrorClass = iota
	// ClassTransient means the connection failed and may recover.
	ClassTransient
	// ClassFatal means retrying can never succeed (credentials, read-only replica, protocol).
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "none"
	}
}

var fatalReplyPrefixes = []string{
	"WRONGPASS",
	"NOAUTH",
	"NOPERM",
	"READONLY",
	"ERR AUTH",
	"ERR INVALID PASSWORD",
	"ERR PROTOCOL ERROR",
}

// ClassifyError maps a go-redis error onto an ErrorClass.
func ClassifyError(err error) ErrorClass {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return ClassNone
	}

	msg := strings.ToUpper(strings.TrimSpace(err.Error()))
	for _, prefix := range fatalReplyPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return ClassFatal
		}
	}
	// reply parsing failures surface as "redis: can't parse ..."
	if strings.Contains(msg, "PROTOCOL ERROR") || strings.Contains(msg, "CAN'T PARSE") {
		return ClassFatal
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		// the server answered; WRONGTYPE and friends are command errors, not connection errors
		if strings.HasPrefix(msg, "LOADING") || strings.HasPrefix(msg, "CLUSTERDOWN") || strings.HasPrefix(msg, "TRYAGAIN") {
			return ClassTransient
		}
		return ClassNone
	}

	// network, timeout, pool and closed-client errors
	return ClassTransient
}

// ConnectionPolicy is the process-level reconnect policy.
type ConnectionPolicy struct {
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int
	HealthInterval time.Duration
	FatalGrace     time.Duration
}

// RetryDelay returns min(attempt*BaseDelay, MaxDelay).
func (p ConnectionPolicy) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.BaseDelay
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// ConnectionGuard watches every command through a go-redis hook, keeps an up/down
// view of the connection, reconnects with linear-capped backoff and terminates the
// process on non-recoverable errors after a grace period.
type ConnectionGuard struct {
	client *redis.Client
	logger domain.Logger
	policy ConnectionPolicy
	exit   func(code int)

	up                atomic.Bool
	reconnectDisabled atomic.Bool
	wake              chan struct{}
	fatalOnce         sync.Once
	giveUpOnce        sync.Once
}

// NewConnectionGuard installs the guard as a hook on client. exit is os.Exit in
// production and is called on fatal errors and when reconnect attempts run out.
func NewConnectionGuard(client *redis.Client, logger domain.Logger, policy ConnectionPolicy, exit func(code int)) *ConnectionGuard {
	if policy.HealthInterval <= 0 {
		policy.HealthInterval = 5 * time.Second
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 10
	}
	g := &ConnectionGuard{
		client: client,
		logger: logger,
		policy: policy,
		exit:   exit,
		wake:   make(chan struct{}, 1),
	}
	g.up.Store(true)
	metrics.SetRedisUp(true)
	client.AddHook(g)
	return g
}

// IsUp reports whether the connection is currently believed healthy.
func (g *ConnectionGuard) IsUp() bool {
	return g.up.Load() && !g.reconnectDisabled.Load()
}

// ReconnectDisabled reports whether a fatal error has stopped all reconnection.
func (g *ConnectionGuard) ReconnectDisabled() bool {
	return g.reconnectDisabled.Load()
}

func (g *ConnectionGuard) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		g.observe(ctx, err)
		return conn, err
	}
}

func (g *ConnectionGuard) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		g.observe(ctx, err)
		return err
	}
}

func (g *ConnectionGuard) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		g.observe(ctx, err)
		return err
	}
}

func (g *ConnectionGuard) observe(ctx context.Context, err error) {
	switch ClassifyError(err) {
	case ClassFatal:
		g.handleFatal(ctx, err)
	case ClassTransient:
		if g.up.CompareAndSwap(true, false) {
			metrics.SetRedisUp(false)
			g.logger.Warn(ctx, "Redis connection marked down", "error", err.Error())
			select {
			case g.wake <- struct{}{}:
			default:
			}
		}
	default:
		if !g.reconnectDisabled.Load() && g.up.CompareAndSwap(false, true) {
			metrics.SetRedisUp(true)
			g.logger.Info(ctx, "Redis connection marked up")
		}
	}
}

func (g *ConnectionGuard) handleFatal(ctx context.Context, err error) {
	g.fatalOnce.Do(func() {
		g.reconnectDisabled.Store(true)
		g.up.Store(false)
		metrics.SetRedisUp(false)
		g.logger.Error(ctx, "Non-recoverable Redis error; reconnection disabled, process will exit",
			"error", err.Error(),
			"grace_period", g.policy.FatalGrace.String(),
		)
		time.AfterFunc(g.policy.FatalGrace, func() {
			g.exit(1)
		})
	})
}

// Run drives health checks and reconnection until ctx ends or the policy gives up.
func (g *ConnectionGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.policy.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-g.wake:
		}
		if g.reconnectDisabled.Load() {
			return
		}
		if g.up.Load() {
			// a cheap ping so an idle process still notices a dead server
			_ = g.client.Ping(ctx).Err()
			if g.up.Load() {
				continue
			}
		}
		if !g.reconnect(ctx) {
			return
		}
	}
}

// reconnect pings with min(attempt*base, max) delays. It returns false when the
// process should stop trying.
func (g *ConnectionGuard) reconnect(ctx context.Context) bool {
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		delay := g.policy.RetryDelay(attempt)
		g.logger.Warn(ctx, "Redis reconnect attempt scheduled", "attempt", attempt, "max_attempts", g.policy.MaxAttempts, "delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}

		if g.reconnectDisabled.Load() {
			return false
		}
		if err := g.client.Ping(ctx).Err(); err == nil {
			g.logger.Info(ctx, "Redis reconnected", "attempt", attempt)
			return true
		}
	}

	g.giveUpOnce.Do(func() {
		g.logger.Error(ctx, "Redis reconnect attempts exhausted; exiting", "max_attempts", g.policy.MaxAttempts)
		g.exit(1)
	})
	return false
}
