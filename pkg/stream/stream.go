// Package stream provides a cancellable, channel-backed stream of values pushed by a
// producer goroutine. Closing the stream cancels the producer's context, so a consumer
// that walks away stops the upstream work instead of leaking it.
package stream

import (
	"context"
	"errors"
	"sync"
)

// Stream delivers values of T until the producer returns or the stream is closed.
type Stream[T any] struct {
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Emit pushes v to the consumer. It returns false once the stream has been
// cancelled, after which the producer should return.
type Emit[T any] func(v T) bool

// New starts produce on its own goroutine. buffer sizes the channel between producer
// and consumer.
func New[T any](ctx context.Context, buffer int, produce func(ctx context.Context, emit Emit[T]) error) *Stream[T] {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream[T]{
		ch:     make(chan T, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	emit := func(v T) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		select {
		case s.ch <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}
	go func() {
		defer close(s.done)
		defer close(s.ch)
		defer cancel()
		err := produce(ctx, emit)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return s
}

// C returns the receive channel. It is closed when the producer returns.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Done is closed once the producer has returned.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Close cancels the producer and waits for it to return. It is safe to call more than once.
func (s *Stream[T]) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Err returns the producer's error once it has returned. Cancellation is not reported.
func (s *Stream[T]) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if errors.Is(s.err, context.Canceled) {
		return nil
	}
	return s.err
}
