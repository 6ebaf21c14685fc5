package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

var _ order.Notifier = (*AMQP)(nil)

// publisher is the part of *amqp.Channel used by AMQP.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig configures the broker notifier.
type AMQPConfig struct {
	URL      string
	Exchange string
	// RoutingPrefix is prepended to the event kind, e.g. "orders" gives
	// "orders.order.paid".
	RoutingPrefix string
	MaxRetries    int
	RetryDelay    time.Duration
}

// AMQP publishes events as persistent JSON messages to a topic exchange.
type AMQP struct {
	cfg  AMQPConfig
	ch   publisher
	conn *amqp.Connection
	lg   *zap.Logger
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(cfg AMQPConfig, lg *zap.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "dial amqp")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %q", cfg.Exchange)
	}

	a := newAMQP(cfg, ch, lg)
	a.conn = conn
	return a, nil
}

func newAMQP(cfg AMQPConfig, ch publisher, lg *zap.Logger) *AMQP {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RoutingPrefix == "" {
		cfg.RoutingPrefix = "orders"
	}
	return &AMQP{cfg: cfg, ch: ch, lg: lg}
}

// Notify publishes e, retrying with linear backoff.
func (a *AMQP) Notify(ctx context.Context, e order.Event) error {
	key := fmt.Sprintf("%s.%s", a.cfg.RoutingPrefix, e.Kind)
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Timestamp:    e.OccurredAt,
		Body:         EncodeEvent(e),
		Headers: amqp.Table{
			"order_id":   e.Order.ID,
			"event_type": string(e.Kind),
		},
	}

	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		if lastErr = a.ch.Publish(a.cfg.Exchange, key, false, false, msg); lastErr == nil {
			a.lg.Debug("Event published", zap.String("routing_key", key), zap.String("event_id", e.ID))
			return nil
		}
		a.lg.Warn("Publish failed",
			zap.String("routing_key", key),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == a.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "publish")
		case <-time.After(a.cfg.RetryDelay * time.Duration(attempt)):
		}
	}
	return errors.Wrapf(lastErr, "publish %s after %d attempts", key, a.cfg.MaxRetries)
}

// Close closes the broker connection.
func (a *AMQP) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
