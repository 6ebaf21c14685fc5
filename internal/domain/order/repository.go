package order

import (
	"context"
	"time"
)

// ListFilter narrows ListByCustomer results.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// MetricsSnapshot is the raw aggregate over orders created in [From, To).
type MetricsSnapshot struct {
	OrderCount int64
	// Revenue is the sum of order totals in minor units.
	Revenue  int64
	ByStatus map[Status]int64
}

// Repository persists orders.
type Repository interface {
	// NextSequence returns a strictly increasing number used for order
	// numbers.
	NextSequence(ctx context.Context) (int64, error)
	// Create stores the order with all its records atomically. It returns
	// ErrDuplicateOrder when the idempotency key is taken.
	Create(ctx context.Context, o *Order) error
	// GetByID returns ErrNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetByIdempotencyKey returns ErrNotFound for unknown keys.
	GetByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// Update applies p atomically and returns the stored order. It returns
	// ErrConflict when p.ExpectedVersion is stale and ErrDuplicateRefund when
	// p.AddRefund is already recorded.
	Update(ctx context.Context, id string, p Patch) (*Order, error)
	// ListByCustomer returns the customer's orders, newest first.
	ListByCustomer(ctx context.Context, email string, f ListFilter) ([]*Order, error)
	// Metrics aggregates orders created in [from, to).
	Metrics(ctx context.Context, from, to time.Time) (MetricsSnapshot, error)
}

// EventKind names a notification.
type EventKind string

const (
	EventCreated       EventKind = "order.created"
	EventPaid          EventKind = "order.paid"
	EventPaymentFailed EventKind = "order.payment_failed"
	EventShipped       EventKind = "order.shipped"
	EventDelivered     EventKind = "order.delivered"
	EventCancelled     EventKind = "order.cancelled"
	EventRefunded      EventKind = "order.refunded"
)

// Event is published after a successful state change.
type Event struct {
	ID         string
	Kind       EventKind
	Order      *Order
	OccurredAt time.Time
}

// Notifier delivers events. Delivery failures never fail the operation that
// produced the event.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event) error

func (f NotifierFunc) Notify(ctx context.Context, e Event) error { return f(ctx, e) }
