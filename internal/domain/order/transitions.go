package order

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UpdateOrderStatus moves the order to status. Refund statuses are entered
// only by recording a refund.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, status Status) (*Order, error) {
	target, err := ParseStatus(string(status))
	if err != nil {
		return nil, &ValidationError{Field: "status", Reason: err.Error()}
	}
	return s.mutate(ctx, "update_status", id, func(_ context.Context, o *Order, now time.Time) (change, error) {
		if o.Status == target {
			return change{noop: true}, nil
		}
		if target == StatusRefunded || target == StatusPartiallyRefunded {
			return change{}, &InvalidTransitionError{
				Entity: "order", From: string(o.Status), To: string(target),
				Reason: "refund statuses are set by recording a refund",
			}
		}
		if err := o.TransitionTo(target, now); err != nil {
			return change{}, err
		}
		var ch change
		if kind, ok := statusEvent(target); ok {
			ch.events = append(ch.events, kind)
		}
		return ch, nil
	})
}

// UpdatePaymentStatus moves the payment to status. Completing the payment of
// a processing order marks the order paid.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id string, status PaymentStatus) (*Order, error) {
	target, err := ParsePaymentStatus(string(status))
	if err != nil {
		return nil, &ValidationError{Field: "payment_status", Reason: err.Error()}
	}
	return s.mutate(ctx, "update_payment_status", id, func(_ context.Context, o *Order, now time.Time) (change, error) {
		if o.PaymentStatus == target {
			return change{noop: true}, nil
		}
		if target == PaymentRefunded || target == PaymentPartiallyRefunded {
			return change{}, &InvalidTransitionError{
				Entity: "payment", From: string(o.PaymentStatus), To: string(target),
				Reason: "refund statuses are set by recording a refund",
			}
		}
		before := o.Status
		if err := o.SetPaymentStatus(target, now); err != nil {
			return change{}, err
		}
		var ch change
		if before != o.Status {
			if kind, ok := statusEvent(o.Status); ok {
				ch.events = append(ch.events, kind)
			}
		}
		if target == PaymentFailed {
			ch.events = append(ch.events, EventPaymentFailed)
		}
		return ch, nil
	})
}

// AddTrackingInfo records carrier tracking. A paid order becomes shipped.
func (s *Service) AddTrackingInfo(ctx context.Context, id string, t Tracking) (*Order, error) {
	return s.mutate(ctx, "add_tracking", id, func(_ context.Context, o *Order, now time.Time) (change, error) {
		before := o.Status
		if err := o.AddTracking(t, now); err != nil {
			return change{}, err
		}
		var ch change
		if before != o.Status {
			ch.events = append(ch.events, EventShipped)
		}
		return ch, nil
	})
}

// FulfillItems records fulfilled quantities keyed by item id.
func (s *Service) FulfillItems(ctx context.Context, id string, quantities map[string]int) (*Order, error) {
	return s.mutate(ctx, "fulfill", id, func(_ context.Context, o *Order, now time.Time) (change, error) {
		if err := o.Fulfill(quantities, now); err != nil {
			return change{}, err
		}
		return change{}, nil
	})
}

// CancelOrder cancels the order and records reason as a note.
func (s *Service) CancelOrder(ctx context.Context, id, reason string) (*Order, error) {
	reason = strings.TrimSpace(reason)
	return s.mutate(ctx, "cancel", id, func(_ context.Context, o *Order, now time.Time) (change, error) {
		if o.Status == StatusCancelled {
			return change{noop: true}, nil
		}
		if err := o.TransitionTo(StatusCancelled, now); err != nil {
			return change{}, err
		}
		ch := change{events: []EventKind{EventCancelled}}
		if reason != "" {
			n, err := o.AppendNote(fmt.Sprintf("Cancelled: %s", reason), now)
			if err != nil {
				return change{}, err
			}
			ch.note = &n
		}
		return ch, nil
	})
}

// AppendNote adds an admin note to the order.
func (s *Service) AppendNote(ctx context.Context, id, body string) (*Order, error) {
	return s.mutate(ctx, "append_note", id, func(_ context.Context, o *Order, now time.Time) (change, error) {
		n, err := o.AppendNote(body, now)
		if err != nil {
			return change{}, err
		}
		return change{note: &n}, nil
	})
}
