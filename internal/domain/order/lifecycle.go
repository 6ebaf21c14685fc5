package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

// Every mutation below works on a copy and writes it back only on success,
// so a rejected change leaves the order untouched.

// TransitionTo moves the order to target and applies the side effects of
// entering it. Requesting the current status is a no-op.
func (o *Order) TransitionTo(target Status, now time.Time) error {
	if o.Status == target {
		return nil
	}
	next := o.Clone()
	if err := next.transition(target, now); err != nil {
		return err
	}
	*o = *next
	return nil
}

func (o *Order) transition(target Status, now time.Time) error {
	if !o.Status.CanTransitionTo(target) {
		return &InvalidTransitionError{Entity: "order", From: string(o.Status), To: string(target)}
	}

	switch target {
	case StatusPaid:
		if err := o.completePayment(now); err != nil {
			return err
		}
	case StatusShipped:
		if err := o.setFulfillment(FulfillmentShipped); err != nil {
			return err
		}
		if o.Shipment.ShippedAt == nil {
			o.Shipment.ShippedAt = &now
		}
	case StatusDelivered:
		if err := o.setFulfillment(FulfillmentDelivered); err != nil {
			return err
		}
		o.Shipment.DeliveredAt = &now
	case StatusCancelled:
		switch o.PaymentStatus {
		case PaymentPending, PaymentProcessing, PaymentFailed:
			o.PaymentStatus = PaymentCancelled
		}
	}

	o.Status = target
	o.UpdatedAt = now
	return nil
}

// completePayment marks the payment collected and stamps processed_at once.
func (o *Order) completePayment(now time.Time) error {
	if o.PaymentStatus != PaymentCompleted {
		if !o.PaymentStatus.CanTransitionTo(PaymentCompleted) {
			return &InvalidTransitionError{Entity: "payment", From: string(o.PaymentStatus), To: string(PaymentCompleted)}
		}
		o.PaymentStatus = PaymentCompleted
	}
	if o.Payment.PaidAt == nil {
		o.Payment.PaidAt = &now
	}
	if o.Payment.Amount.Currency == "" || o.Payment.Amount.IsZero() {
		o.Payment.Amount = o.Total
	}
	if o.ProcessedAt == nil {
		o.ProcessedAt = &now
	}
	return nil
}

// SetPaymentStatus moves the payment to target. Completing the payment of a
// processing order marks the order paid.
func (o *Order) SetPaymentStatus(target PaymentStatus, now time.Time) error {
	if o.PaymentStatus == target {
		return nil
	}
	next := o.Clone()
	if err := next.setPaymentStatus(target, now); err != nil {
		return err
	}
	*o = *next
	return nil
}

func (o *Order) setPaymentStatus(target PaymentStatus, now time.Time) error {
	if !o.PaymentStatus.CanTransitionTo(target) {
		return &InvalidTransitionError{Entity: "payment", From: string(o.PaymentStatus), To: string(target)}
	}

	if target == PaymentCompleted {
		switch o.Status {
		case StatusProcessing:
			return o.transition(StatusPaid, now)
		case StatusPaid:
			if err := o.completePayment(now); err != nil {
				return err
			}
		default:
			return &InvalidTransitionError{
				Entity: "payment", From: string(o.PaymentStatus), To: string(target),
				Reason: fmt.Sprintf("order is %s", o.Status),
			}
		}
	}

	o.PaymentStatus = target
	o.UpdatedAt = now
	return nil
}

// SetFulfillmentStatus moves the order fulfillment to target. Fulfillment
// cannot progress before the payment is collected.
func (o *Order) SetFulfillmentStatus(target FulfillmentStatus, now time.Time) error {
	if o.FulfillmentStatus == target {
		return nil
	}
	next := o.Clone()
	if err := next.setFulfillment(target); err != nil {
		return err
	}
	next.UpdatedAt = now
	*o = *next
	return nil
}

func (o *Order) setFulfillment(target FulfillmentStatus) error {
	if !o.FulfillmentStatus.CanTransitionTo(target) {
		return &InvalidTransitionError{Entity: "fulfillment", From: string(o.FulfillmentStatus), To: string(target)}
	}
	if !o.PaymentStatus.Settled() {
		return &InvalidTransitionError{
			Entity: "fulfillment", From: string(o.FulfillmentStatus), To: string(target),
			Reason: fmt.Sprintf("payment is %s", o.PaymentStatus),
		}
	}

	for i := range o.Items {
		it := &o.Items[i]
		switch target {
		case FulfillmentFulfilled, FulfillmentShipped, FulfillmentDelivered:
			it.FulfilledQuantity = it.Quantity
			it.FulfillmentStatus = target
		case FulfillmentReturned:
			it.FulfillmentStatus = target
		}
	}
	o.FulfillmentStatus = target
	return nil
}

// Tracking is carrier tracking information.
type Tracking struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
}

// AddTracking records tracking info. A paid order becomes shipped; shipped
// and delivered orders only get their tracking details corrected.
func (o *Order) AddTracking(t Tracking, now time.Time) error {
	t.Carrier = strings.TrimSpace(t.Carrier)
	t.TrackingNumber = strings.TrimSpace(t.TrackingNumber)
	if t.Carrier == "" {
		return invalid("carrier", "is required")
	}
	if t.TrackingNumber == "" {
		return invalid("tracking_number", "is required")
	}

	next := o.Clone()
	switch next.Status {
	case StatusShipped, StatusDelivered:
	default:
		if err := next.transition(StatusShipped, now); err != nil {
			return err
		}
	}
	next.Shipment.Carrier = t.Carrier
	next.Shipment.TrackingNumber = t.TrackingNumber
	next.Shipment.TrackingURL = strings.TrimSpace(t.TrackingURL)
	next.UpdatedAt = now
	*o = *next
	return nil
}

// ApplyRefund records r and moves the order and payment to refunded or
// partially refunded.
func (o *Order) ApplyRefund(r Refund, now time.Time) error {
	if r.Amount.Amount <= 0 {
		return invalid("amount", "must be greater than 0")
	}
	if r.Amount.Currency != o.Currency {
		return invalid("amount", fmt.Sprintf("currency %s does not match order currency %s", r.Amount.Currency, o.Currency))
	}
	if !o.Status.Refundable() {
		return &InvalidTransitionError{
			Entity: "order", From: string(o.Status), To: string(StatusRefunded),
			Reason: "order is not refundable",
		}
	}
	if r.Amount.GreaterThan(o.RefundableBalance()) {
		return invalid("amount", fmt.Sprintf("%s exceeds refundable balance %s", r.Amount, o.RefundableBalance()))
	}

	next := o.Clone()
	next.TotalRefunded = next.TotalRefunded.Add(r.Amount)

	status, paymentStatus := StatusPartiallyRefunded, PaymentPartiallyRefunded
	if next.TotalRefunded.Equal(next.Total) {
		status, paymentStatus = StatusRefunded, PaymentRefunded
	}
	if next.Status != status {
		if err := next.transition(status, now); err != nil {
			return err
		}
	}
	if next.PaymentStatus != paymentStatus {
		if !next.PaymentStatus.CanTransitionTo(paymentStatus) {
			return &InvalidTransitionError{Entity: "payment", From: string(next.PaymentStatus), To: string(paymentStatus)}
		}
		next.PaymentStatus = paymentStatus
	}

	if r.Status == "" {
		r.Status = RefundCompleted
	}
	if r.ProcessedAt.IsZero() {
		r.ProcessedAt = now
	}
	next.Refunds = append(next.Refunds, r)
	next.UpdatedAt = now
	*o = *next
	return nil
}

// Fulfill adds fulfilled quantities per item id.
func (o *Order) Fulfill(quantities map[string]int, now time.Time) error {
	if len(quantities) == 0 {
		return invalid("items", "at least one item is required")
	}
	if o.Status != StatusPaid {
		return &InvalidTransitionError{
			Entity: "fulfillment", From: string(o.FulfillmentStatus), To: string(FulfillmentFulfilled),
			Reason: fmt.Sprintf("order is %s", o.Status),
		}
	}

	next := o.Clone()
	for id, qty := range quantities {
		idx := next.itemIndex(id)
		if idx < 0 {
			return invalid("items", fmt.Sprintf("unknown item %s", id))
		}
		it := &next.Items[idx]
		if qty <= 0 {
			return invalid("items", fmt.Sprintf("quantity for item %s must be greater than 0", id))
		}
		if it.FulfilledQuantity+qty > it.Quantity {
			return invalid("items", fmt.Sprintf("item %s: fulfilling %d exceeds remaining %d", id, qty, it.Quantity-it.FulfilledQuantity))
		}
		it.FulfilledQuantity += qty
		if it.FulfilledQuantity == it.Quantity {
			it.FulfillmentStatus = FulfillmentFulfilled
		} else {
			it.FulfillmentStatus = FulfillmentPartiallyFulfilled
		}
	}

	target := FulfillmentFulfilled
	for _, it := range next.Items {
		if it.FulfilledQuantity < it.Quantity {
			target = FulfillmentPartiallyFulfilled
			break
		}
	}
	if next.FulfillmentStatus != target {
		if !next.FulfillmentStatus.CanTransitionTo(target) {
			return &InvalidTransitionError{Entity: "fulfillment", From: string(next.FulfillmentStatus), To: string(target)}
		}
		if !next.PaymentStatus.Settled() {
			return &InvalidTransitionError{
				Entity: "fulfillment", From: string(next.FulfillmentStatus), To: string(target),
				Reason: fmt.Sprintf("payment is %s", next.PaymentStatus),
			}
		}
		next.FulfillmentStatus = target
	}
	next.UpdatedAt = now
	*o = *next
	return nil
}

func (o *Order) itemIndex(id string) int {
	for i, it := range o.Items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

// AppendNote adds an admin note.
func (o *Order) AppendNote(body string, now time.Time) (Note, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return Note{}, invalid("note", "must not be empty")
	}
	n := Note{Body: body, CreatedAt: now}
	o.Notes = append(o.Notes, n)
	o.UpdatedAt = now
	return n, nil
}

// CheckInvariants verifies the financial and fulfillment consistency of the
// order.
func (o *Order) CheckInvariants() error {
	violation := func(format string, args ...any) error {
		return &InvariantViolationError{OrderID: o.ID, Detail: fmt.Sprintf(format, args...)}
	}

	amounts := []money.Money{o.Subtotal, o.ShippingTotal, o.TaxTotal, o.DiscountTotal, o.Total, o.TotalRefunded}
	for _, m := range amounts {
		if m.Currency != o.Currency {
			return violation("amount %s not in order currency %s", m, o.Currency)
		}
		if m.IsNegative() {
			return violation("negative amount %s", m)
		}
	}

	want := o.Subtotal.Add(o.ShippingTotal).Add(o.TaxTotal).Sub(o.DiscountTotal)
	if !o.Total.Equal(want) {
		return violation("total %s != subtotal + shipping + tax - discount = %s", o.Total, want)
	}
	if o.TotalRefunded.GreaterThan(o.Total) {
		return violation("refunded %s exceeds total %s", o.TotalRefunded, o.Total)
	}
	if o.DiscountTotal.GreaterThan(o.Subtotal) {
		return violation("discount %s exceeds subtotal %s", o.DiscountTotal, o.Subtotal)
	}

	refunded := money.Zero(o.Currency)
	seen := make(map[string]struct{}, len(o.Refunds))
	for _, r := range o.Refunds {
		if _, dup := seen[r.ID]; dup {
			return violation("refund %s recorded twice", r.ID)
		}
		seen[r.ID] = struct{}{}
		refunded = refunded.Add(r.Amount)
	}
	if !refunded.Equal(o.TotalRefunded) {
		return violation("refund records sum to %s, total refunded is %s", refunded, o.TotalRefunded)
	}

	if len(o.Items) > 0 {
		var sub, tax, disc int64
		for _, it := range o.Items {
			if it.FulfilledQuantity < 0 || it.FulfilledQuantity > it.Quantity {
				return violation("item %s fulfilled %d of %d", it.ID, it.FulfilledQuantity, it.Quantity)
			}
			if it.Subtotal.Amount != it.UnitPrice.Amount*int64(it.Quantity) {
				return violation("item %s subtotal %s != unit price x quantity", it.ID, it.Subtotal)
			}
			if it.Total.Amount != it.Subtotal.Amount-it.Discount.Amount+it.Tax.Amount {
				return violation("item %s total %s inconsistent", it.ID, it.Total)
			}
			sub += it.Subtotal.Amount
			tax += it.Tax.Amount
			disc += it.Discount.Amount
		}
		if sub != o.Subtotal.Amount || tax != o.TaxTotal.Amount || disc != o.DiscountTotal.Amount {
			return violation("item totals do not add up to order totals")
		}
	}

	active := 0
	for _, d := range o.Discounts {
		if d.Active {
			active++
		}
	}
	if active > 1 {
		return violation("%d active discounts", active)
	}
	return nil
}
