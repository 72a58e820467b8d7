// Package async decouples the training loop from slow log destinations.
package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crimson-sun/threadclass/internal/logging"
	"github.com/crimson-sun/threadclass/internal/model"
	"github.com/crimson-sun/threadclass/internal/output"
)

const (
	defaultBufferSize   = 256
	defaultDrainTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the queue capacity.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithDropOnFull makes Write drop the entry instead of blocking when the
// queue is full.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// WithDrainTimeout bounds how long Close waits for queued entries.
func WithDrainTimeout(d time.Duration) Option {
	return func(a *Async) { a.drainTimeout = d }
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *Async) { a.logger = l }
}

// Async queues log entries and delivers them to the wrapped output from a
// background goroutine. Delivery errors are logged, never returned to the
// trainer.
type Async struct {
	inner        output.Output
	queue        chan model.LogEntry
	done         chan struct{}
	logger       *slog.Logger
	bufSize      int
	dropOnFull   bool
	drainTimeout time.Duration
	dropped      atomic.Int64
	failed       atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// New wraps inner and starts the delivery goroutine.
func New(inner output.Output, opts ...Option) *Async {
	a := &Async{
		inner:        inner,
		bufSize:      defaultBufferSize,
		drainTimeout: defaultDrainTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.queue = make(chan model.LogEntry, a.bufSize)
	a.done = make(chan struct{})
	go a.deliver()
	return a
}

// Write enqueues entry. It blocks while the queue is full unless
// WithDropOnFull is set or ctx is done. Writes after Close are dropped.
func (a *Async) Write(ctx context.Context, entry model.LogEntry) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}

	if a.dropOnFull {
		select {
		case a.queue <- entry:
		default:
			a.dropped.Add(1)
			a.logger.Warn("log queue full, dropping entry",
				logging.PhaseKey, entry.Phase, logging.StepKey, entry.Step)
		}
		return nil
	}

	select {
	case a.queue <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped reports how many entries were discarded.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Failed reports how many entries the wrapped output rejected.
func (a *Async) Failed() int64 { return a.failed.Load() }

// Close stops accepting entries, waits for the queue to drain and closes the
// wrapped output. It is safe to call more than once.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(a.drainTimeout):
		a.logger.Warn("log queue drain timed out", logging.DurationKey, a.drainTimeout)
	}
	return a.inner.Close()
}

func (a *Async) deliver() {
	defer close(a.done)
	for entry := range a.queue {
		if err := a.inner.Write(context.Background(), entry); err != nil {
			a.failed.Add(1)
			a.logger.Warn("log output write failed", "error", err)
		}
	}
}
