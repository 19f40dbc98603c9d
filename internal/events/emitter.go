package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Report after Close.
var ErrClosed = errors.New("follow-up queue closed")

// Sink receives follow-up messages. Delivery must not start an agent turn.
type Sink interface {
	FollowUp(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

func (f SinkFunc) FollowUp(ctx context.Context, text string) error { return f(ctx, text) }

// Emitter provides non-blocking delivery of follow-up messages to a Sink.
//
// Design notes:
// - Emit() never blocks callers (drops when buffer is full).
// - Messages are delivered in order on a single worker goroutine.
// - A slow or failing sink only affects the worker.
type Emitter struct {
	sink    Sink
	ch      chan string
	timeout time.Duration
	logger  *slog.Logger

	dropped   atomic.Int64
	delivered atomic.Int64

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	done      chan struct{}
}

// NewEmitter creates an emitter for sink. buffer < 1 means 256.
func NewEmitter(sink Sink, buffer int, logger *slog.Logger) *Emitter {
	if buffer < 1 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		sink:    sink,
		ch:      make(chan string, buffer),
		timeout: 10 * time.Second,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the background delivery loop (idempotent).
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		go func() {
			defer close(e.done)
			for text := range e.ch {
				e.deliver(text)
			}
		}()
	})
}

func (e *Emitter) deliver(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	if err := e.sink.FollowUp(ctx, text); err != nil {
		e.logger.Warn("follow-up delivery failed", "error", err)
		return
	}
	e.delivered.Add(1)
}

// Emit enqueues text for async delivery. If the buffer is full or the
// emitter is closed, the message is dropped.
func (e *Emitter) Emit(text string) bool {
	if text == "" {
		return false
	}
	e.Start()
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.ch <- text:
		return true
	default:
		n := e.dropped.Add(1)
		// Avoid log spam: emit only for the first drop and then every 1000 drops.
		if n == 1 || n%1000 == 0 {
			e.logger.Debug("follow-up emitter dropped messages (buffer full)", "dropped", n)
		}
		return false
	}
}

// Report lets the emitter stand in as an activity reporter.
func (e *Emitter) Report(_ context.Context, text string) error {
	if !e.Emit(text) {
		e.mu.RLock()
		closed := e.closed
		e.mu.RUnlock()
		if closed {
			return ErrClosed
		}
	}
	return nil
}

// Dropped returns the number of dropped messages.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Delivered returns the number of messages the sink accepted.
func (e *Emitter) Delivered() int64 {
	return e.delivered.Load()
}

// Close stops accepting messages and waits up to ctx for queued ones to be
// delivered.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.ch)
	e.mu.Unlock()

	e.Start()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
