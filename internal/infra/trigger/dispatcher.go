// Package trigger delivers committed team document changes to the
// reconciliation pipeline. Deliveries are asynchronous, unordered across
// documents, and redelivered a bounded number of times on handler failure,
// mirroring the at-least-once semantics of hosted change-trigger mechanisms.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mellon/pkg/domain"
)

// Handler processes one delivered change.
type Handler func(ctx context.Context, change domain.TeamChange) error

// Logger is the minimal logging surface the dispatcher needs. The engine's
// logger satisfies it.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// TeamWriteSource is any store that exposes a post-commit team write hook.
type TeamWriteSource interface {
	OnTeamWrite(fn func(domain.TeamChange))
}

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 10 * time.Millisecond
)

type delivery struct {
	change   domain.TeamChange
	attempts int
	done     chan error
}

// Dispatcher queues committed changes and drives them through a handler on
// background workers.
type Dispatcher struct {
	handler     Handler
	logger      Logger
	maxAttempts int
	backoff     time.Duration
	concurrency int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*delivery
	active int
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger attaches a logger for delivery failures.
func WithLogger(logger Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMaxAttempts bounds how often one change is redelivered.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the pause before a redelivery.
func WithBackoff(backoff time.Duration) Option {
	return func(d *Dispatcher) {
		if backoff >= 0 {
			d.backoff = backoff
		}
	}
}

// WithConcurrency sets the number of delivery workers.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// NewDispatcher constructs a dispatcher and starts its workers.
func NewDispatcher(handler Handler, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handler:     handler,
		logger:      noopLogger{},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cond = sync.NewCond(&d.mu)
	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Attach subscribes the dispatcher to a store's team write hook.
func (d *Dispatcher) Attach(source TeamWriteSource) {
	source.OnTeamWrite(func(change domain.TeamChange) {
		d.Dispatch(change)
	})
}

// Dispatch enqueues one change. The returned channel receives the terminal
// delivery error (nil on success) and is closed afterwards.
func (d *Dispatcher) Dispatch(change domain.TeamChange) <-chan error {
	done := make(chan error, 1)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		done <- fmt.Errorf("trigger: dispatcher closed")
		close(done)
		return done
	}
	d.queue = append(d.queue, &delivery{change: change, done: done})
	d.cond.Signal()
	d.mu.Unlock()
	return done
}

// Drain blocks until the queue is empty and no delivery is in flight.
func (d *Dispatcher) Drain() {
	d.mu.Lock()
	for len(d.queue) > 0 || d.active > 0 {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// Close stops accepting new deliveries, waits for queued ones to finish, and
// stops the workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 && d.closed {
			d.mu.Unlock()
			return
		}
		item := d.queue[0]
		d.queue = d.queue[1:]
		d.active++
		d.mu.Unlock()

		d.run(item)

		d.mu.Lock()
		d.active--
		d.cond.Broadcast()
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(item *delivery) {
	for {
		item.attempts++
		err := d.handler(context.Background(), item.change)
		if err == nil {
			item.done <- nil
			close(item.done)
			return
		}
		if item.attempts >= d.maxAttempts {
			d.logger.Error("delivery abandoned",
				"team_id", item.change.TeamID,
				"attempts", item.attempts,
				"error", err,
			)
			item.done <- err
			close(item.done)
			return
		}
		d.logger.Warn("delivery failed, retrying",
			"team_id", item.change.TeamID,
			"attempt", item.attempts,
			"error", err,
		)
		time.Sleep(d.backoff)
	}
}
