package order

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func usd(v int64) money.Money { return money.New(v, "USD") }

// newTestOrder builds a consistent single-item order of the given total in
// status with matching payment and fulfillment states.
func newTestOrder(total int64, status Status) *Order {
	o := &Order{
		ID:                "ord-1",
		Number:            "OO-2026-000001",
		Customer:          Customer{Email: "jane@example.com"},
		Status:            status,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentUnfulfilled,
		Currency:          "USD",
		Subtotal:          usd(total),
		ShippingTotal:     usd(0),
		TaxTotal:          usd(0),
		DiscountTotal:     usd(0),
		Total:             usd(total),
		TotalRefunded:     usd(0),
		Items: []Item{{
			ID:                "item-1",
			ProductID:         "p1",
			UnitPrice:         usd(total),
			Quantity:          1,
			Subtotal:          usd(total),
			Discount:          usd(0),
			Tax:               usd(0),
			Total:             usd(total),
			FulfillmentStatus: FulfillmentUnfulfilled,
		}},
		Payment:   Payment{Amount: usd(0)},
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}

	paid := func() {
		paidAt, processedAt := testNow, testNow
		o.PaymentStatus = PaymentCompleted
		o.Payment.Amount = usd(total)
		o.Payment.PaidAt = &paidAt
		o.ProcessedAt = &processedAt
	}
	fulfill := func(fs FulfillmentStatus) {
		o.FulfillmentStatus = fs
		o.Items[0].FulfillmentStatus = fs
		o.Items[0].FulfilledQuantity = 1
	}
	refund := func(amount int64) {
		o.TotalRefunded = usd(amount)
		o.Refunds = []Refund{{ID: "rf-1", Amount: usd(amount), Status: RefundCompleted, ProcessedAt: testNow}}
	}

	switch status {
	case StatusProcessing:
		o.PaymentStatus = PaymentProcessing
	case StatusPaid:
		paid()
	case StatusShipped:
		paid()
		fulfill(FulfillmentShipped)
	case StatusDelivered:
		paid()
		fulfill(FulfillmentDelivered)
	case StatusCancelled:
		o.PaymentStatus = PaymentCancelled
	case StatusRefunded:
		paid()
		o.PaymentStatus = PaymentRefunded
		refund(total)
	case StatusPartiallyRefunded:
		paid()
		o.PaymentStatus = PaymentPartiallyRefunded
		refund(total / 2)
	}
	return o
}

func TestOrder_TransitionGrid(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:           {StatusProcessing, StatusCancelled},
		StatusProcessing:        {StatusPaid, StatusCancelled},
		StatusPaid:              {StatusShipped, StatusRefunded, StatusPartiallyRefunded},
		StatusShipped:           {StatusDelivered},
		StatusDelivered:         {StatusRefunded, StatusPartiallyRefunded},
		StatusPartiallyRefunded: {StatusRefunded},
	}

	for _, from := range Statuses {
		for _, to := range Statuses {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				o := newTestOrder(5000, from)
				before := o.Clone()

				err := o.TransitionTo(to, testNow.Add(time.Hour))

				want := from == to
				for _, s := range allowed[from] {
					if s == to {
						want = true
					}
				}
				if !want {
					require.ErrorIs(t, err, ErrInvalidTransition)
					var te *InvalidTransitionError
					require.ErrorAs(t, err, &te)
					assert.Equal(t, string(from), te.From)
					assert.Equal(t, string(to), te.To)
					assert.Equal(t, before, o, "rejected transition must not modify the order")
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, o.Status)
			})
		}
	}
}

func TestOrder_TransitionSideEffects(t *testing.T) {
	later := testNow.Add(time.Hour)

	t.Run("paid completes payment once", func(t *testing.T) {
		o := newTestOrder(5000, StatusProcessing)
		require.NoError(t, o.TransitionTo(StatusPaid, later))
		assert.Equal(t, PaymentCompleted, o.PaymentStatus)
		assert.Equal(t, usd(5000), o.Payment.Amount)
		require.NotNil(t, o.ProcessedAt)
		assert.Equal(t, later, *o.ProcessedAt)
	})

	t.Run("shipped fulfills items", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		require.NoError(t, o.TransitionTo(StatusShipped, later))
		assert.Equal(t, FulfillmentShipped, o.FulfillmentStatus)
		assert.Equal(t, 1, o.Items[0].FulfilledQuantity)
		require.NotNil(t, o.Shipment.ShippedAt)
	})

	t.Run("delivered", func(t *testing.T) {
		o := newTestOrder(5000, StatusShipped)
		require.NoError(t, o.TransitionTo(StatusDelivered, later))
		assert.Equal(t, FulfillmentDelivered, o.FulfillmentStatus)
		require.NotNil(t, o.Shipment.DeliveredAt)
	})

	t.Run("cancel cancels open payment", func(t *testing.T) {
		o := newTestOrder(5000, StatusProcessing)
		require.NoError(t, o.TransitionTo(StatusCancelled, later))
		assert.Equal(t, PaymentCancelled, o.PaymentStatus)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		before := o.Clone()
		require.NoError(t, o.TransitionTo(StatusPaid, later))
		assert.Equal(t, before, o)
	})
}

func TestOrder_SetPaymentStatus(t *testing.T) {
	t.Run("completing a processing order pays it", func(t *testing.T) {
		o := newTestOrder(5000, StatusProcessing)
		require.NoError(t, o.SetPaymentStatus(PaymentCompleted, testNow))
		assert.Equal(t, StatusPaid, o.Status)
		assert.Equal(t, PaymentCompleted, o.PaymentStatus)
	})

	t.Run("completing a pending order is rejected", func(t *testing.T) {
		o := newTestOrder(5000, StatusPending)
		before := o.Clone()
		err := o.SetPaymentStatus(PaymentCompleted, testNow)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, before, o)
	})

	t.Run("failed payment can be retried", func(t *testing.T) {
		o := newTestOrder(5000, StatusProcessing)
		require.NoError(t, o.SetPaymentStatus(PaymentFailed, testNow))
		require.NoError(t, o.SetPaymentStatus(PaymentProcessing, testNow))
		assert.Equal(t, PaymentProcessing, o.PaymentStatus)
	})

	t.Run("completed cannot fail", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		require.ErrorIs(t, o.SetPaymentStatus(PaymentFailed, testNow), ErrInvalidTransition)
	})
}

func TestOrder_SetFulfillmentStatus(t *testing.T) {
	t.Run("requires settled payment", func(t *testing.T) {
		o := newTestOrder(5000, StatusProcessing)
		err := o.SetFulfillmentStatus(FulfillmentFulfilled, testNow)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, FulfillmentUnfulfilled, o.FulfillmentStatus)
	})

	t.Run("paid order can be fulfilled", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		require.NoError(t, o.SetFulfillmentStatus(FulfillmentFulfilled, testNow))
		assert.Equal(t, FulfillmentFulfilled, o.Items[0].FulfillmentStatus)
		assert.Equal(t, 1, o.Items[0].FulfilledQuantity)
	})

	t.Run("cannot go backwards", func(t *testing.T) {
		o := newTestOrder(5000, StatusShipped)
		require.ErrorIs(t, o.SetFulfillmentStatus(FulfillmentFulfilled, testNow), ErrInvalidTransition)
	})
}

func TestOrder_AddTracking(t *testing.T) {
	tr := Tracking{Carrier: "UPS", TrackingNumber: "1Z999", TrackingURL: "https://ups.example/1Z999"}

	t.Run("pending order is rejected", func(t *testing.T) {
		o := newTestOrder(5000, StatusPending)
		before := o.Clone()
		err := o.AddTracking(tr, testNow)
		require.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, before, o)
	})

	t.Run("paid order ships", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		require.NoError(t, o.AddTracking(tr, testNow))
		assert.Equal(t, StatusShipped, o.Status)
		assert.Equal(t, "1Z999", o.Shipment.TrackingNumber)
	})

	t.Run("shipped order gets corrected", func(t *testing.T) {
		o := newTestOrder(5000, StatusShipped)
		require.NoError(t, o.AddTracking(Tracking{Carrier: "FedEx", TrackingNumber: "42"}, testNow))
		assert.Equal(t, StatusShipped, o.Status)
		assert.Equal(t, "FedEx", o.Shipment.Carrier)
	})

	t.Run("carrier required", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		var ve *ValidationError
		require.ErrorAs(t, o.AddTracking(Tracking{TrackingNumber: "1"}, testNow), &ve)
		assert.Equal(t, "carrier", ve.Field)
	})
}

func TestOrder_ApplyRefund(t *testing.T) {
	t.Run("full refund", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		require.NoError(t, o.ApplyRefund(Refund{ID: "r1", Amount: usd(5000)}, testNow))
		assert.Equal(t, StatusRefunded, o.Status)
		assert.Equal(t, PaymentRefunded, o.PaymentStatus)
		assert.Equal(t, usd(5000), o.TotalRefunded)
		assert.Equal(t, RefundCompleted, o.Refunds[0].Status)
		require.NoError(t, o.CheckInvariants())
	})

	t.Run("partial then over balance", func(t *testing.T) {
		o := newTestOrder(5000, StatusPaid)
		require.NoError(t, o.ApplyRefund(Refund{ID: "r1", Amount: usd(2000)}, testNow))
		assert.Equal(t, StatusPartiallyRefunded, o.Status)
		assert.Equal(t, PaymentPartiallyRefunded, o.PaymentStatus)

		before := o.Clone()
		var ve *ValidationError
		require.ErrorAs(t, o.ApplyRefund(Refund{ID: "r2", Amount: usd(3001)}, testNow), &ve)
		assert.Equal(t, before, o)

		require.NoError(t, o.ApplyRefund(Refund{ID: "r2", Amount: usd(3000)}, testNow))
		assert.Equal(t, StatusRefunded, o.Status)
		require.NoError(t, o.CheckInvariants())
	})

	tests := []struct {
		name   string
		status Status
		refund Refund
		check  func(t *testing.T, err error)
	}{
		{
			name: "zero amount", status: StatusPaid, refund: Refund{ID: "r", Amount: usd(0)},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
			},
		},
		{
			name: "other currency", status: StatusPaid, refund: Refund{ID: "r", Amount: money.New(10, "EUR")},
			check: func(t *testing.T, err error) {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
			},
		},
		{
			name: "pending order", status: StatusPending, refund: Refund{ID: "r", Amount: usd(10)},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrInvalidTransition) },
		},
		{
			name: "shipped order", status: StatusShipped, refund: Refund{ID: "r", Amount: usd(10)},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrInvalidTransition) },
		},
		{
			name: "fully refunded order", status: StatusRefunded, refund: Refund{ID: "r", Amount: usd(1)},
			check: func(t *testing.T, err error) { require.ErrorIs(t, err, ErrInvalidTransition) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder(5000, tt.status)
			before := o.Clone()
			tt.check(t, o.ApplyRefund(tt.refund, testNow))
			assert.Equal(t, before, o)
		})
	}
}

func TestOrder_Fulfill(t *testing.T) {
	o := newTestOrder(5000, StatusPaid)
	o.Items[0].Quantity = 5
	o.Items[0].UnitPrice = usd(1000)

	require.NoError(t, o.Fulfill(map[string]int{"item-1": 2}, testNow))
	assert.Equal(t, FulfillmentPartiallyFulfilled, o.FulfillmentStatus)
	assert.Equal(t, 2, o.Items[0].FulfilledQuantity)

	var ve *ValidationError
	require.ErrorAs(t, o.Fulfill(map[string]int{"item-1": 4}, testNow), &ve)
	require.ErrorAs(t, o.Fulfill(map[string]int{"missing": 1}, testNow), &ve)

	require.NoError(t, o.Fulfill(map[string]int{"item-1": 3}, testNow))
	assert.Equal(t, FulfillmentFulfilled, o.FulfillmentStatus)
	require.NoError(t, o.CheckInvariants())

	pending := newTestOrder(5000, StatusPending)
	require.ErrorIs(t, pending.Fulfill(map[string]int{"item-1": 1}, testNow), ErrInvalidTransition)
}

func TestOrder_CheckInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Order)
	}{
		{"total mismatch", func(o *Order) { o.Total = usd(4999) }},
		{"refunded exceeds total", func(o *Order) {
			o.TotalRefunded = usd(6000)
			o.Refunds = []Refund{{ID: "r", Amount: usd(6000)}}
		}},
		{"refund records disagree", func(o *Order) { o.TotalRefunded = usd(10) }},
		{"duplicate refund id", func(o *Order) {
			o.TotalRefunded = usd(20)
			o.Refunds = []Refund{{ID: "r", Amount: usd(10)}, {ID: "r", Amount: usd(10)}}
		}},
		{"negative amount", func(o *Order) { o.TaxTotal = usd(-1); o.Total = usd(4999) }},
		{"wrong currency", func(o *Order) { o.ShippingTotal = money.New(0, "EUR") }},
		{"item subtotal", func(o *Order) { o.Items[0].Quantity = 2 }},
		{"over fulfilled", func(o *Order) { o.Items[0].FulfilledQuantity = 2 }},
		{"two active discounts", func(o *Order) {
			o.Discounts = []Discount{{Active: true}, {Active: true}}
		}},
	}

	require.NoError(t, newTestOrder(5000, StatusPaid).CheckInvariants())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newTestOrder(5000, StatusPaid)
			tt.mutate(o)
			var ie *InvariantViolationError
			require.ErrorAs(t, o.CheckInvariants(), &ie)
		})
	}
}

func TestOrder_Clone(t *testing.T) {
	o := newTestOrder(5000, StatusPaid)
	c := o.Clone()
	c.Items[0].FulfilledQuantity = 1
	*c.ProcessedAt = testNow.Add(time.Hour)
	c.Refunds = append(c.Refunds, Refund{ID: "x"})

	assert.Equal(t, 0, o.Items[0].FulfilledQuantity)
	assert.Equal(t, testNow, *o.ProcessedAt)
	assert.Empty(t, o.Refunds)
}

func TestOrder_ApplyPatch(t *testing.T) {
	o := newTestOrder(5000, StatusPaid)
	next := o.Clone()
	require.NoError(t, next.AddTracking(Tracking{Carrier: "UPS", TrackingNumber: "1"}, testNow))

	p := PatchFrom(next, o.Version)
	p.AddNote = &Note{Body: "shipped", CreatedAt: testNow}
	o.ApplyPatch(p)

	assert.Equal(t, StatusShipped, o.Status)
	assert.Equal(t, FulfillmentShipped, o.Items[0].FulfillmentStatus)
	assert.Equal(t, int64(1), o.Version)
	assert.Len(t, o.Notes, 1)
}
