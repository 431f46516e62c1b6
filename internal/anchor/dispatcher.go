package anchor

import (
	"context"
	"log/slog"
	"time"

	dErrors "didledger/pkg/domain-errors"
	"didledger/pkg/platform/circuit"
)

const (
	defaultBatchSize      = 64
	defaultInterval       = time.Second
	defaultAttemptTimeout = 10 * time.Second
	defaultDrainTimeout   = 5 * time.Second
	defaultMaxAttempts    = 5
)

// Dispatcher decouples commits from the gateway. Notify only appends to a
// ring buffer; Run drains it on a single worker goroutine, guarded by a
// circuit breaker so an unreachable registry is probed rather than hammered.
type Dispatcher struct {
	gateway        Gateway
	buffer         *RingBuffer
	breaker        *circuit.Breaker
	metrics        *Metrics
	logger         *slog.Logger
	wake           chan struct{}
	batchSize      int
	interval       time.Duration
	attemptTimeout time.Duration
	drainTimeout   time.Duration
	maxAttempts    int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBufferSize bounds the number of events held while the gateway lags.
func WithBufferSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		d.buffer = NewRingBuffer(n)
	}
}

func WithBreaker(b *circuit.Breaker) DispatcherOption {
	return func(d *Dispatcher) {
		if b != nil {
			d.breaker = b
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

// WithInterval sets how often the worker polls when it is not woken by Notify.
func WithInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithAttemptTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.attemptTimeout = timeout
		}
	}
}

// WithMaxAttempts bounds how often one event is retried before it is abandoned.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// NewDispatcher creates a dispatcher for gateway. Call Run to start delivery.
func NewDispatcher(gateway Gateway, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		gateway:        gateway,
		buffer:         NewRingBuffer(0),
		breaker:        circuit.New("anchor-" + gateway.Name()),
		logger:         slog.Default(),
		wake:           make(chan struct{}, 1),
		batchSize:      defaultBatchSize,
		interval:       defaultInterval,
		attemptTimeout: defaultAttemptTimeout,
		drainTimeout:   defaultDrainTimeout,
		maxAttempts:    defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify queues ev for delivery. It never blocks.
func (d *Dispatcher) Notify(ev Event) {
	if d.buffer.Enqueue(ev) {
		d.metrics.addDropped(1)
		d.logger.Warn("anchor buffer full, dropped oldest event",
			"gateway", d.gateway.Name(),
			"did", ev.DID,
		)
	}
	d.metrics.setPending(d.buffer.Len())
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of undelivered events.
func (d *Dispatcher) Pending() int {
	return d.buffer.Len()
}

// Dropped returns how many events were discarded because the buffer was full.
func (d *Dispatcher) Dropped() int64 {
	return d.buffer.Dropped()
}

// Run delivers events until ctx is cancelled, then makes one bounded attempt
// to drain what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.drainTimeout)
			d.Flush(drainCtx)
			cancel()
			if n := d.buffer.Len(); n > 0 {
				d.logger.Warn("anchor dispatcher stopped with undelivered events",
					"gateway", d.gateway.Name(),
					"pending", n,
				)
			}
			return nil
		case <-d.wake:
		case <-ticker.C:
		}
		d.Flush(ctx)
	}
}

// Flush delivers buffered events until none are left or the breaker or ctx
// stops it.
func (d *Dispatcher) Flush(ctx context.Context) {
	for ctx.Err() == nil {
		if !d.breaker.Allow() {
			return
		}
		batch := d.buffer.DequeueBatch(d.batchSize)
		if len(batch) == 0 {
			d.metrics.setPending(0)
			return
		}
		for i := range batch {
			if ctx.Err() != nil || !d.breaker.Allow() {
				d.requeue(batch[i:])
				return
			}
			if d.deliver(ctx, batch[i]) {
				continue
			}
			// Stop the round on failure; the next tick retries.
			batch[i].attempts++
			if batch[i].attempts < d.maxAttempts {
				d.requeue(batch[i:])
			} else {
				d.logger.ErrorContext(ctx, "anchor event abandoned",
					"gateway", d.gateway.Name(),
					"event_id", batch[i].ID,
					"did", batch[i].DID,
					"attempts", batch[i].attempts,
				)
				d.requeue(batch[i+1:])
			}
			return
		}
		d.metrics.setPending(d.buffer.Len())
	}
}

func (d *Dispatcher) requeue(events []Event) {
	d.metrics.addDropped(d.buffer.Requeue(events))
	d.metrics.setPending(d.buffer.Len())
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) bool {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	err := d.gateway.Anchor(attemptCtx, ev)
	if err == nil {
		if _, change := d.breaker.RecordSuccess(); change.Closed {
			d.metrics.setBreakerState(false)
			d.logger.InfoContext(ctx, "anchor gateway recovered", "gateway", d.gateway.Name())
		}
		d.metrics.incAnchored(d.gateway.Name(), string(ev.Kind))
		return true
	}

	d.metrics.incFailures(d.gateway.Name())
	_, change := d.breaker.RecordFailure()
	if change.Opened {
		d.metrics.setBreakerState(true)
	}
	unavailable := dErrors.Wrap(err, dErrors.CodeGatewayUnavailable, "anchoring gateway unavailable")
	d.logger.WarnContext(ctx, "anchor delivery failed",
		"gateway", d.gateway.Name(),
		"event_id", ev.ID,
		"did", ev.DID,
		"kind", string(ev.Kind),
		"breaker_open", d.breaker.IsOpen(),
		"error", unavailable,
	)
	return false
}
