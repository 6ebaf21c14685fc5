package order

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/payment"
)

// StartPayment creates a gateway intent for the order total and moves the
// order and payment to processing. The returned intent carries the client
// secret for the payment UI. Failed or cancelled payments can be restarted.
func (s *Service) StartPayment(ctx context.Context, id string) (*Order, payment.Intent, error) {
	if s.gateway == nil {
		return nil, payment.Intent{}, ErrNoGateway
	}

	var intent payment.Intent
	o, err := s.mutate(ctx, "start_payment", id, func(ctx context.Context, o *Order, now time.Time) (change, error) {
		if o.Status != StatusPending && o.Status != StatusProcessing {
			return change{}, &InvalidTransitionError{
				Entity: "order", From: string(o.Status), To: string(StatusProcessing),
				Reason: "payment can only start before the order is paid",
			}
		}
		if !o.PaymentStatus.CanTransitionTo(PaymentProcessing) && o.PaymentStatus != PaymentProcessing {
			return change{}, &InvalidTransitionError{Entity: "payment", From: string(o.PaymentStatus), To: string(PaymentProcessing)}
		}

		var err error
		intent, err = s.gateway.CreateIntent(ctx, payment.IntentRequest{
			OrderID:       o.ID,
			OrderNumber:   o.Number,
			Amount:        o.Total,
			Method:        o.Payment.Method,
			CustomerEmail: o.Customer.Email,
			// A retried request for the same order version reuses the intent.
			IdempotencyKey: o.ID + ":" + strconv.FormatInt(o.Version, 10),
		})
		if err != nil {
			return change{}, &PaymentError{Err: err}
		}

		if err := o.TransitionTo(StatusProcessing, now); err != nil {
			return change{}, err
		}
		if err := o.SetPaymentStatus(PaymentProcessing, now); err != nil {
			return change{}, err
		}
		o.Payment.IntentID = intent.ID
		o.Payment.Amount = o.Total
		o.Payment.FailureMessage = ""
		o.UpdatedAt = now
		return change{}, nil
	})
	if err != nil {
		return nil, payment.Intent{}, err
	}
	return o, intent, nil
}

// ConfirmPayment reads the gateway outcome of the started payment.
//
// A successful payment marks the order paid. A cancelled payment returns a
// PaymentError with Cancelled set and a failed one a PaymentError with the
// gateway message; in both cases the payment status is stored and the order
// stays open for another attempt. A pending outcome leaves the order as is.
func (s *Service) ConfirmPayment(ctx context.Context, id string) (*Order, error) {
	if s.gateway == nil {
		return nil, ErrNoGateway
	}

	return s.mutate(ctx, "confirm_payment", id, func(ctx context.Context, o *Order, now time.Time) (change, error) {
		if o.PaymentStatus.Settled() {
			return change{noop: true}, nil
		}
		if o.Payment.IntentID == "" || o.Status != StatusProcessing {
			return change{}, invalid("payment", "payment has not been started")
		}

		res, err := s.gateway.Outcome(ctx, o.Payment.IntentID)
		if err != nil {
			return change{}, &PaymentError{Err: err}
		}

		switch res.Outcome {
		case payment.OutcomeSucceeded:
			if res.Amount.Currency != "" && !res.Amount.Equal(o.Total) {
				zctx.From(ctx).Error("Gateway amount differs from order total",
					zap.String("order_id", o.ID),
					zap.Stringer("charged", res.Amount),
					zap.Stringer("total", o.Total),
				)
				return change{}, &InvariantViolationError{
					OrderID: o.ID,
					Detail:  fmt.Sprintf("gateway charged %s for a total of %s", res.Amount, o.Total),
				}
			}
			o.Payment.ChargeID = res.ChargeID
			o.Payment.CardBrand = res.CardBrand
			o.Payment.CardLast4 = res.CardLast4
			o.Payment.ReceiptURL = res.ReceiptURL
			o.Payment.Amount = o.Total
			if err := o.SetPaymentStatus(PaymentCompleted, now); err != nil {
				return change{}, err
			}
			return change{events: []EventKind{EventPaid}}, nil

		case payment.OutcomeCancelled:
			if err := o.SetPaymentStatus(PaymentCancelled, now); err != nil {
				return change{}, err
			}
			return change{result: &PaymentError{Cancelled: true}}, nil

		case payment.OutcomeFailed:
			if err := o.SetPaymentStatus(PaymentFailed, now); err != nil {
				return change{}, err
			}
			o.Payment.FailureMessage = res.FailureMessage
			return change{
				events: []EventKind{EventPaymentFailed},
				result: &PaymentError{Message: res.FailureMessage},
			}, nil

		default:
			return change{noop: true}, nil
		}
	})
}
