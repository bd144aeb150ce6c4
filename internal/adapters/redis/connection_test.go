package redis

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassNone},
		{"miss", redis.Nil, ClassNone},
		{"caller cancelled", context.Canceled, ClassNone},
		{"wrong type reply", replyError("WRONGTYPE Operation against a key holding the wrong kind of value"), ClassNone},
		{"noauth", replyError("NOAUTH Authentication required."), ClassFatal},
		{"wrongpass", replyError("WRONGPASS invalid username-password pair or user is disabled."), ClassFatal},
		{"read only replica", replyError("READONLY You can't write against a read only replica."), ClassFatal},
		{"protocol", errors.New("redis: can't parse \"+OK\\r\""), ClassFatal},
		{"loading", replyError("LOADING Redis is loading the dataset in memory"), ClassTransient},
		{"eof", io.EOF, ClassTransient},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, ClassTransient},
		{"timeout", context.DeadlineExceeded, ClassTransient},
		{"closed client", redis.ErrClosed, ClassTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Fatalf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryDelayIsLinearAndCapped(t *testing.T) {
	p := ConnectionPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond}
	want := []time.Duration{100, 200, 300, 350, 350}
	for i, w := range want {
		if got := p.RetryDelay(i + 1); got != w*time.Millisecond {
			t.Errorf("RetryDelay(%d) = %v, want %v", i+1, got, w*time.Millisecond)
		}
	}
}

func TestGuardFatalDisablesReconnectAndExits(t *testing.T) {
	_, client := newTestRedis(t)
	exited := make(chan int, 1)
	g := NewConnectionGuard(client, testLogger(), ConnectionPolicy{
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		FatalGrace: 10 * time.Millisecond,
	}, func(code int) { exited <- code })

	g.observe(context.Background(), replyError("WRONGPASS invalid username-password pair"))
	if g.IsUp() || !g.ReconnectDisabled() {
		t.Fatalf("after fatal: up=%v disabled=%v", g.IsUp(), g.ReconnectDisabled())
	}

	// a later successful reply must not revive the connection
	g.observe(context.Background(), nil)
	if g.IsUp() {
		t.Fatal("guard marked up after fatal error")
	}

	select {
	case code := <-exited:
		if code != 1 {
			t.Fatalf("exit code = %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("exit not called after grace period")
	}

	// a second fatal error does not schedule another exit
	g.observe(context.Background(), replyError("NOAUTH Authentication required."))
	select {
	case <-exited:
		t.Fatal("exit scheduled twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGuardReconnectsAfterOutage(t *testing.T) {
	mr, client := newTestRedis(t)
	g := NewConnectionGuard(client, testLogger(), ConnectionPolicy{
		BaseDelay:      5 * time.Millisecond,
		MaxDelay:       20 * time.Millisecond,
		MaxAttempts:    200,
		HealthInterval: 10 * time.Millisecond,
		FatalGrace:     time.Second,
	}, func(int) { t.Error("exit called during recoverable outage") })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	mr.Close()
	_ = client.Ping(ctx).Err()
	if g.IsUp() {
		t.Fatal("guard still up after failed command")
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("restart miniredis: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !g.IsUp() {
		if time.Now().After(deadline) {
			t.Fatal("guard did not recover after server came back")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGuardGivesUpAfterMaxAttempts(t *testing.T) {
	mr, client := newTestRedis(t)
	exited := make(chan int, 1)
	g := NewConnectionGuard(client, testLogger(), ConnectionPolicy{
		BaseDelay:      time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
		MaxAttempts:    3,
		HealthInterval: 5 * time.Millisecond,
	}, func(code int) { exited <- code })

	mr.Close()
	_ = client.Ping(context.Background()).Err()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	select {
	case code := <-exited:
		if code != 1 {
			t.Fatalf("exit code = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("guard did not give up")
	}
}
