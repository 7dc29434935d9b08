package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"roster/pkg/platform/circuit"
)

var ErrClosed = errors.New("dispatcher closed")

const (
	defaultQueueSize     = 1024
	defaultBatchSize     = 64
	defaultFlushInterval = 200 * time.Millisecond
	defaultMaxAttempts   = 5
	defaultBackoff       = 100 * time.Millisecond
)

// Dispatcher buffers events and publishes them to a Sink in batches from a
// single goroutine. Emit blocks only while the buffer is full.
type Dispatcher struct {
	sink          Sink
	logger        *slog.Logger
	queue         chan Event
	batchSize     int
	flushInterval time.Duration
	maxAttempts   int
	backoff       time.Duration
	breaker       *circuit.Breaker

	mu      sync.RWMutex
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	running bool
}

type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

func WithBatchSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

func WithFlushInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.flushInterval = interval
		}
	}
}

// WithRetry sets how many times a failed batch is published and the delay
// before the first retry. The delay doubles on every attempt.
func WithRetry(attempts int, backoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
		d.backoff = backoff
	}
}

// WithBreaker stops retrying batches while the breaker is open, so a dead
// sink drops events at the rate they arrive instead of stalling the queue.
func WithBreaker(b *circuit.Breaker) DispatcherOption {
	return func(d *Dispatcher) {
		d.breaker = b
	}
}

func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:          sink,
		logger:        slog.Default(),
		queue:         make(chan Event, defaultQueueSize),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		maxAttempts:   defaultMaxAttempts,
		backoff:       defaultBackoff,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit queues events for publishing.
func (d *Dispatcher) Emit(ctx context.Context, evs ...Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	for _, e := range evs {
		select {
		case d.queue <- e:
			queueDepth.Inc()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run publishes queued events until Close is called or ctx is done, then
// flushes whatever is still buffered.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()
	defer close(d.done)

	ticker := time.NewTicker(d.flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, d.batchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		d.publish(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-d.queue:
			queueDepth.Dec()
			batch = append(batch, e)
			if len(batch) >= d.batchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		case <-d.stop:
			d.drain(context.WithoutCancel(ctx), &batch)
			flush(context.WithoutCancel(ctx))
			return nil
		case <-ctx.Done():
			// bounded final flush so shutdown does not hang on a dead broker
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			d.drain(final, &batch)
			flush(final)
			cancel()
			return nil
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context, batch *[]Event) {
	for {
		select {
		case e := <-d.queue:
			queueDepth.Dec()
			*batch = append(*batch, e)
			if len(*batch) >= d.batchSize {
				d.publish(ctx, *batch)
				*batch = (*batch)[:0]
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, batch []Event) {
	wait := d.backoff
	var err error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err = d.sink.Publish(ctx, batch); err == nil {
			for _, e := range batch {
				published.WithLabelValues(string(e.Type)).Inc()
			}
			d.recordSuccess(ctx)
			return
		}
		d.logger.WarnContext(ctx, "publish domain events failed",
			"attempt", attempt,
			"batch_size", len(batch),
			"error", err)
		if d.recordFailure(ctx) || attempt == d.maxAttempts {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			attempt = d.maxAttempts
		}
		wait *= 2
	}
	for _, e := range batch {
		dropped.WithLabelValues(string(e.Type)).Inc()
	}
	d.logger.ErrorContext(ctx, "dropping domain events",
		"batch_size", len(batch),
		"first_event_id", batch[0].ID,
		"error", err)
}

func (d *Dispatcher) recordSuccess(ctx context.Context) {
	if d.breaker == nil {
		return
	}
	if _, change := d.breaker.RecordSuccess(); change.Closed {
		d.logger.InfoContext(ctx, "event sink recovered", "breaker", d.breaker.Name())
	}
}

// recordFailure reports whether retries should stop.
func (d *Dispatcher) recordFailure(ctx context.Context) bool {
	if d.breaker == nil {
		return false
	}
	degraded, change := d.breaker.RecordFailure()
	if change.Opened {
		d.logger.ErrorContext(ctx, "event sink circuit opened, retries suspended", "breaker", d.breaker.Name())
	}
	return degraded
}

// Close stops accepting events, waits for Run to flush the buffer and closes
// the sink.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	running := d.running
	d.mu.Unlock()
	close(d.stop)

	if running {
		select {
		case <-d.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return d.sink.Close()
}
