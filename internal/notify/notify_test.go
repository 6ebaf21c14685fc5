package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/order"
)

// --- Mock implementations ---

type mockPublisher struct {
	mu       sync.Mutex
	failures int
	calls    int
	exchange string
	key      string
	msg      amqp.Publishing
}

func (m *mockPublisher) Publish(exchange, key string, _, _ bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return errors.New("channel closed")
	}
	m.exchange, m.key, m.msg = exchange, key, msg
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []order.Event
	err    error
}

func (r *recorder) Notify(_ context.Context, e order.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// --- Helpers ---

func testEvent() order.Event {
	return order.Event{
		ID:         "01HZY",
		Kind:       order.EventShipped,
		OccurredAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		Order: &order.Order{
			ID:            "ord-1",
			Number:        "OO-2026-000001",
			Customer:      order.Customer{Email: "jane@example.com"},
			Status:        order.StatusShipped,
			PaymentStatus: order.PaymentCompleted,
			Currency:      "USD",
			Total:         money.New(10875, "USD"),
			TotalRefunded: money.New(0, "USD"),
			Shipment:      order.Shipment{Carrier: "UPS", TrackingNumber: "1Z999"},
			Version:       3,
		},
	}
}

// --- Tests ---

func TestEncodeEvent(t *testing.T) {
	body := EncodeEvent(testEvent())
	require.True(t, jx.Valid(body))

	fields := map[string]string{}
	var total int64
	d := jx.DecodeBytes(body)
	require.NoError(t, d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id", "type":
			v, err := d.Str()
			fields[key] = v
			return err
		case "order":
			return d.Obj(func(d *jx.Decoder, key string) error {
				switch key {
				case "total":
					v, err := d.Int64()
					total = v
					return err
				case "number":
					v, err := d.Str()
					fields["number"] = v
					return err
				default:
					return d.Skip()
				}
			})
		default:
			return d.Skip()
		}
	}))

	assert.Equal(t, "01HZY", fields["id"])
	assert.Equal(t, "order.shipped", fields["type"])
	assert.Equal(t, "OO-2026-000001", fields["number"])
	assert.Equal(t, int64(10875), total)
	assert.Contains(t, string(body), `"tracking":{"carrier":"UPS","number":"1Z999"}`)
}

func TestAMQP_Notify(t *testing.T) {
	pub := &mockPublisher{failures: 1}
	a := newAMQP(AMQPConfig{Exchange: "orders.events", RetryDelay: time.Millisecond}, pub, zap.NewNop())

	require.NoError(t, a.Notify(context.Background(), testEvent()))

	assert.Equal(t, 2, pub.calls)
	assert.Equal(t, "orders.events", pub.exchange)
	assert.Equal(t, "orders.order.shipped", pub.key)
	assert.Equal(t, uint8(amqp.Persistent), pub.msg.DeliveryMode)
	assert.Equal(t, "application/json", pub.msg.ContentType)
	assert.Equal(t, "01HZY", pub.msg.MessageId)
	assert.Equal(t, "ord-1", pub.msg.Headers["order_id"])
}

func TestAMQP_NotifyGivesUp(t *testing.T) {
	pub := &mockPublisher{failures: 10}
	a := newAMQP(AMQPConfig{Exchange: "x", MaxRetries: 3, RetryDelay: time.Millisecond}, pub, zap.NewNop())

	err := a.Notify(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, pub.calls)
}

func TestAMQP_NotifyStopsOnCancel(t *testing.T) {
	pub := &mockPublisher{failures: 10}
	a := newAMQP(AMQPConfig{Exchange: "x", MaxRetries: 5, RetryDelay: time.Hour}, pub, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.Notify(ctx, testEvent())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pub.calls)
}

func TestLog_Notify(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).Notify(context.Background(), testEvent()))

	entries := logs.FilterMessage("Order event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "order.shipped", entries[0].ContextMap()["event"])
}

func TestMulti_Notify(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("down")}

	err := Multi{failing, ok}.Notify(context.Background(), testEvent())
	require.Error(t, err)
	assert.Equal(t, 1, ok.count())
}

func TestAsync_DeliversAndDrains(t *testing.T) {
	rec := &recorder{}
	a := NewAsync(rec, AsyncConfig{Workers: 2, Buffer: 16, Timeout: time.Second}, zap.NewNop())

	for range 10 {
		require.NoError(t, a.Notify(context.Background(), testEvent()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 10, rec.count())
	assert.Zero(t, a.Len())

	require.ErrorIs(t, a.Notify(context.Background(), testEvent()), ErrClosed)
}

func TestAsync_LogsFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	a := NewAsync(&recorder{err: errors.New("down")}, AsyncConfig{Workers: 1}, zap.New(core))

	require.NoError(t, a.Notify(context.Background(), testEvent()))
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, 1, logs.FilterMessage("Event delivery failed").Len())
}

func TestAsync_Cap(t *testing.T) {
	tests := []struct {
		name   string
		buffer int
		want   int
	}{
		{"configured", 16, 16},
		{"zero uses default", 0, 1024},
		{"negative uses default", -1, 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAsync(&recorder{}, AsyncConfig{Workers: 1, Buffer: tt.buffer}, zap.NewNop())
			t.Cleanup(func() { _ = a.Close(context.Background()) })
			assert.Equal(t, tt.want, a.Cap())
		})
	}
}
