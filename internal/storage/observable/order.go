// Package observable decorates repositories with tracing spans and query
// duration metrics.
package observable

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

const instrumentationName = "github.com/xenking/oolio-orders/internal/storage/observable"

// Metrics holds the storage instruments.
type Metrics struct {
	queryDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	h, err := meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_duration histogram: %w", err)
	}
	return &Metrics{queryDuration: h}, nil
}

func (m *Metrics) RecordQuery(ctx context.Context, operation string, seconds float64, failed bool) {
	m.queryDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("error", failed),
	))
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository wraps an order.Repository.
type OrderRepository struct {
	repo    order.Repository
	tracer  trace.Tracer
	metrics *Metrics
}

func NewOrderRepository(repo order.Repository, tp trace.TracerProvider, metrics *Metrics) *OrderRepository {
	return &OrderRepository{
		repo:    repo,
		tracer:  tp.Tracer(instrumentationName),
		metrics: metrics,
	}
}

// observe runs fn inside a span and records its duration.
func (r *OrderRepository) observe(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository."+op, trace.WithAttributes(attrs...))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.metrics.RecordQuery(ctx, op, time.Since(start).Seconds(), err != nil)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (r *OrderRepository) NextSequence(ctx context.Context) (n int64, err error) {
	err = r.observe(ctx, "NextSequence", func(ctx context.Context) error {
		n, err = r.repo.NextSequence(ctx)
		return err
	})
	return n, err
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.observe(ctx, "Create", func(ctx context.Context) error {
		return r.repo.Create(ctx, o)
	}, attribute.String("order.id", o.ID), attribute.Int("order.items", len(o.Items)))
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (o *order.Order, err error) {
	err = r.observe(ctx, "GetByID", func(ctx context.Context) error {
		o, err = r.repo.GetByID(ctx, id)
		return err
	}, attribute.String("order.id", id))
	return o, err
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, key string) (o *order.Order, err error) {
	err = r.observe(ctx, "GetByIdempotencyKey", func(ctx context.Context) error {
		o, err = r.repo.GetByIdempotencyKey(ctx, key)
		return err
	})
	return o, err
}

func (r *OrderRepository) Update(ctx context.Context, id string, p order.Patch) (o *order.Order, err error) {
	err = r.observe(ctx, "Update", func(ctx context.Context) error {
		o, err = r.repo.Update(ctx, id, p)
		return err
	},
		attribute.String("order.id", id),
		attribute.Int64("order.expected_version", p.ExpectedVersion),
		attribute.String("order.status", string(p.Status)),
		attribute.Bool("order.add_refund", p.AddRefund != nil),
	)
	return o, err
}

func (r *OrderRepository) ListByCustomer(ctx context.Context, email string, f order.ListFilter) (orders []*order.Order, err error) {
	err = r.observe(ctx, "ListByCustomer", func(ctx context.Context) error {
		orders, err = r.repo.ListByCustomer(ctx, email, f)
		return err
	},
		attribute.String("filter.status", string(f.Status)),
		attribute.Int("filter.limit", f.Limit),
		attribute.Int("filter.offset", f.Offset),
	)
	return orders, err
}

func (r *OrderRepository) Metrics(ctx context.Context, from, to time.Time) (snap order.MetricsSnapshot, err error) {
	err = r.observe(ctx, "Metrics", func(ctx context.Context) error {
		snap, err = r.repo.Metrics(ctx, from, to)
		return err
	})
	return snap, err
}
