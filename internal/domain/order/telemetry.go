package order

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/xenking/oolio-orders/internal/domain/order"

type instruments struct {
	tracer      trace.Tracer
	created     metric.Int64Counter
	transitions metric.Int64Counter
	refunded    metric.Int64Counter
	rejected    metric.Int64Counter
}

func newInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(instrumentationName)

	created, err := meter.Int64Counter("orders_created_total",
		metric.WithDescription("Orders created"))
	if err != nil {
		return nil, errors.Wrap(err, "orders_created_total")
	}
	transitions, err := meter.Int64Counter("order_transitions_total",
		metric.WithDescription("Order status transitions"))
	if err != nil {
		return nil, errors.Wrap(err, "order_transitions_total")
	}
	refunded, err := meter.Int64Counter("order_refunded_minor_units_total",
		metric.WithDescription("Refunded amount in minor currency units"))
	if err != nil {
		return nil, errors.Wrap(err, "order_refunded_minor_units_total")
	}
	rejected, err := meter.Int64Counter("order_operations_rejected_total",
		metric.WithDescription("Order operations rejected, by error class"))
	if err != nil {
		return nil, errors.Wrap(err, "order_operations_rejected_total")
	}

	return &instruments{
		tracer:      tp.Tracer(instrumentationName),
		created:     created,
		transitions: transitions,
		refunded:    refunded,
		rejected:    rejected,
	}, nil
}

func (i *instruments) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "order."+op, trace.WithAttributes(attrs...))
}

// end finishes span recording err, if any.
func (i *instruments) end(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.rejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("class", Classify(err).String()),
		))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (i *instruments) transition(ctx context.Context, entity, from, to string) {
	i.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}
