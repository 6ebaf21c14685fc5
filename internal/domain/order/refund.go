package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/payment"
)

const maxRefundIDLength = 64

// RefundRequest is the input of CreateRefund.
type RefundRequest struct {
	OrderID string
	// Amount in minor units of the order currency.
	Amount int64
	Reason string
	// RefundID makes the request idempotent. A new id is generated when
	// empty.
	RefundID string
}

// CreateRefund refunds part or all of the paid amount. Replaying a refund id
// returns the order without refunding twice.
func (s *Service) CreateRefund(ctx context.Context, req RefundRequest) (*Order, error) {
	refundID := strings.TrimSpace(req.RefundID)
	if refundID == "" {
		refundID = "rf_" + strings.ToLower(ulid.Make().String())
	}
	if len(refundID) > maxRefundIDLength {
		return nil, invalid("refund_id", "is too long")
	}
	if req.Amount <= 0 {
		return nil, invalid("amount", "must be greater than 0")
	}

	var (
		replayed bool
		refunded money.Money
	)
	o, err := s.mutate(ctx, "refund", req.OrderID, func(ctx context.Context, o *Order, now time.Time) (change, error) {
		if prev, ok := o.FindRefund(refundID); ok {
			if prev.Amount.Amount != req.Amount {
				return change{}, invalid("refund_id", "was already used for a different amount")
			}
			replayed = true
			return change{noop: true}, nil
		}

		r := Refund{
			ID:     refundID,
			Amount: money.New(req.Amount, o.Currency),
			Reason: strings.TrimSpace(req.Reason),
		}

		// Validate before asking the gateway to move money.
		if err := o.Clone().ApplyRefund(r, now); err != nil {
			return change{}, err
		}

		if o.Payment.IntentID != "" {
			if s.gateway == nil {
				return change{}, ErrNoGateway
			}
			res, err := s.gateway.Refund(ctx, payment.RefundRequest{
				IntentID:       o.Payment.IntentID,
				Amount:         r.Amount,
				Reason:         r.Reason,
				IdempotencyKey: refundID,
			})
			if err != nil {
				return change{}, &PaymentError{Err: err}
			}
			r.GatewayRefundID = res.ID
			if res.Status == "pending" {
				r.Status = RefundPending
			}
		}

		if err := o.ApplyRefund(r, now); err != nil {
			return change{}, err
		}
		stored, _ := o.FindRefund(refundID)
		refunded = stored.Amount
		return change{refund: &stored, events: []EventKind{EventRefunded}}, nil
	})

	switch {
	case errors.Is(err, ErrDuplicateRefund):
		// Another instance recorded the same refund first.
		return s.GetOrderByID(ctx, req.OrderID)
	case err != nil:
		return nil, err
	}

	if replayed {
		zctx.From(ctx).Info("Refund replayed", zap.String("order_id", o.ID), zap.String("refund_id", refundID))
		return o, nil
	}
	s.inst.refunded.Add(ctx, refunded.Amount, metric.WithAttributes(attribute.String("currency", refunded.Currency)))
	zctx.From(ctx).Info("Refund recorded",
		zap.String("order_id", o.ID),
		zap.String("refund_id", refundID),
		zap.Int64("amount", refunded.Amount),
		zap.String("status", string(o.Status)),
	)
	return o, nil
}
