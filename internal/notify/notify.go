// Package notify delivers order events to logs and message brokers.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

var (
	_ order.Notifier = (*Log)(nil)
	_ order.Notifier = Multi(nil)
	_ order.Notifier = (*Async)(nil)
)

// ErrClosed is returned by Async after Close.
var ErrClosed = errors.New("notifier closed")

// Log writes events to a zap logger.
type Log struct {
	lg *zap.Logger
}

// NewLog creates a Log notifier.
func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg}
}

func (l *Log) Notify(_ context.Context, e order.Event) error {
	l.lg.Info("Order event",
		zap.String("event_id", e.ID),
		zap.String("event", string(e.Kind)),
		zap.String("order_id", e.Order.ID),
		zap.String("number", e.Order.Number),
		zap.String("status", string(e.Order.Status)),
		zap.String("payment_status", string(e.Order.PaymentStatus)),
		zap.Int64("total", e.Order.Total.Amount),
	)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []order.Notifier

func (m Multi) Notify(ctx context.Context, e order.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AsyncConfig configures Async.
type AsyncConfig struct {
	Workers int
	Buffer  int
	// Timeout bounds a single delivery.
	Timeout time.Duration
}

// Async delivers events on a worker pool so callers never wait on a broker.
// Events are dropped with a log line when the buffer is full.
type Async struct {
	next    order.Notifier
	lg      *zap.Logger
	timeout time.Duration
	queue   chan order.Event
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the workers.
func NewAsync(next order.Notifier, cfg AsyncConfig, lg *zap.Logger) *Async {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		lg:      lg,
		timeout: cfg.Timeout,
		queue:   make(chan order.Event, cfg.Buffer),
	}
	for range cfg.Workers {
		a.wg.Add(1)
		go a.work()
	}
	return a
}

func (a *Async) work() {
	defer a.wg.Done()
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Notify(ctx, e); err != nil {
			a.lg.Error("Event delivery failed",
				zap.String("event_id", e.ID),
				zap.String("event", string(e.Kind)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Notify enqueues e.
func (a *Async) Notify(_ context.Context, e order.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		a.lg.Warn("Event queue full, dropping event",
			zap.String("event_id", e.ID),
			zap.String("event", string(e.Kind)),
		)
		return nil
	}
}

// Cap returns the queue capacity after defaults are applied.
func (a *Async) Cap() int {
	return cap(a.queue)
}

// Len returns the number of queued events.
func (a *Async) Len() int {
	return len(a.queue)
}

// Close stops accepting events and waits for queued ones until ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
