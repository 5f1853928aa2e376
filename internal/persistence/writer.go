package persistence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrWriterStopped is returned by Flush once the queue goroutine has exited.
var ErrWriterStopped = errors.New("writer queue stopped")

type writeCmd struct {
	name    string
	fn      func(context.Context) error
	barrier chan struct{}
}

type WriterOptions struct {
	Capacity int
	// MaxAttempts bounds retries of a failing command. 1 disables retries.
	MaxAttempts int
	RetryDelay  time.Duration
	// DropWhenFull rejects commands instead of queueing them out of order
	// when the buffer is full.
	DropWhenFull bool
}

// WriterQueue runs write commands one at a time in enqueue order on a
// single goroutine.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd
	opts   WriterOptions

	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	return NewWriterQueueWithOptions(logger, WriterOptions{Capacity: capacity})
}

func NewWriterQueueWithOptions(logger *slog.Logger, opts WriterOptions) *WriterQueue {
	if logger == nil {
		logger = slog.Default().With("component", "writer")
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 300 * time.Millisecond
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, opts.Capacity),
		opts:   opts,
		done:   make(chan struct{}),
	}
}

// Enqueue schedules fn. It reports false when the command was dropped.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) bool {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
		return true
	default:
	}

	if w.opts.DropWhenFull {
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			w.logger.Warn("writer queue full, dropping command", "cmd", name, "dropped_total", n)
		}
		return false
	}
	go func() { w.queue <- cmd }()

	return true
}

// Dropped returns how many commands were rejected because the queue was full.
func (w *WriterQueue) Dropped() int64 {
	return w.dropped.Load()
}

func (w *WriterQueue) Start(ctx context.Context) {
	w.once.Do(func() {
		go func() {
			defer close(w.done)
			for {
				select {
				case <-ctx.Done():
					return
				case cmd := <-w.queue:
					if cmd.barrier != nil {
						close(cmd.barrier)
						continue
					}
					w.runWithRetry(ctx, cmd)
				}
			}
		}()
	})
}

// Flush blocks until every command enqueued before the call has run.
func (w *WriterQueue) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case w.queue <- writeCmd{name: "flush", barrier: barrier}:
	case <-w.done:
		return ErrWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-barrier:
		return nil
	case <-w.done:
		return ErrWriterStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed after the queue goroutine exits.
func (w *WriterQueue) Done() <-chan struct{} {
	return w.done
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		if err := cmd.fn(ctx); err != nil {
			w.logger.Error("write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
			if attempt == w.opts.MaxAttempts {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * w.opts.RetryDelay):
			}
			continue
		}
		return
	}
}
