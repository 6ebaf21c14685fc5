// Package memory provides in-process repositories used by tests, local
// development and the API server when no database is configured.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository keeps whole order aggregates in a map. Every read returns
// a copy.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
	byKey  map[string]string
	seq    atomic.Int64
}

// NewOrderRepository returns an empty OrderRepository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*order.Order),
		byKey:  make(map[string]string),
	}
}

func (r *OrderRepository) NextSequence(context.Context) (int64, error) {
	return r.seq.Add(1), nil
}

func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[o.ID]; ok {
		return order.ErrDuplicateOrder
	}
	if o.IdempotencyKey != "" {
		if _, ok := r.byKey[o.IdempotencyKey]; ok {
			return order.ErrDuplicateOrder
		}
		r.byKey[o.IdempotencyKey] = o.ID
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*order.Order, error) {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *OrderRepository) Update(_ context.Context, id string, p order.Patch) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Version != p.ExpectedVersion {
		return nil, order.ErrConflict
	}
	if p.AddRefund != nil {
		if _, dup := o.FindRefund(p.AddRefund.ID); dup {
			return nil, order.ErrDuplicateRefund
		}
	}

	next := o.Clone()
	next.ApplyPatch(p)
	r.orders[id] = next
	return next.Clone(), nil
}

func (r *OrderRepository) ListByCustomer(_ context.Context, email string, f order.ListFilter) ([]*order.Order, error) {
	r.mu.RLock()
	var matched []*order.Order
	for _, o := range r.orders {
		if !strings.EqualFold(o.Customer.Email, email) {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, o)
	}
	r.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Number, a.Number)
	})

	if f.Offset >= len(matched) {
		return []*order.Order{}, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}

	out := make([]*order.Order, len(matched))
	for i, o := range matched {
		out[i] = o.Clone()
	}
	return out, nil
}

func (r *OrderRepository) Metrics(_ context.Context, from, to time.Time) (order.MetricsSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := order.MetricsSnapshot{ByStatus: make(map[order.Status]int64)}
	for _, o := range r.orders {
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		snap.OrderCount++
		snap.Revenue += o.Total.Amount
		snap.ByStatus[o.Status]++
	}
	return snap, nil
}
