package order

import (
	"slices"
	"strings"

	"github.com/go-faster/errors"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusPaid              Status = "paid"
	StatusShipped           Status = "shipped"
	StatusDelivered         Status = "delivered"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
)

// Statuses lists every order status.
var Statuses = []Status{
	StatusPending, StatusProcessing, StatusPaid, StatusShipped,
	StatusDelivered, StatusCancelled, StatusRefunded, StatusPartiallyRefunded,
}

var orderTransitions = map[Status][]Status{
	StatusPending:           {StatusProcessing, StatusCancelled},
	StatusProcessing:        {StatusPaid, StatusCancelled},
	StatusPaid:              {StatusShipped, StatusRefunded, StatusPartiallyRefunded},
	StatusShipped:           {StatusDelivered},
	StatusDelivered:         {StatusRefunded, StatusPartiallyRefunded},
	StatusPartiallyRefunded: {StatusRefunded},
}

// CanTransitionTo reports whether the table allows s -> to.
func (s Status) CanTransitionTo(to Status) bool {
	return slices.Contains(orderTransitions[s], to)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// Refundable reports whether refunds may be issued in s.
func (s Status) Refundable() bool {
	switch s {
	case StatusPaid, StatusDelivered, StatusPartiallyRefunded:
		return true
	default:
		return false
	}
}

// ParseStatus validates an order status name.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !slices.Contains(Statuses, s) {
		return "", errors.Errorf("unknown order status %q", v)
	}
	return s, nil
}

// PaymentStatus is the state of the order's payment.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// PaymentStatuses lists every payment status.
var PaymentStatuses = []PaymentStatus{
	PaymentPending, PaymentProcessing, PaymentCompleted, PaymentFailed,
	PaymentCancelled, PaymentRefunded, PaymentPartiallyRefunded,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentProcessing:        {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentFailed:            {PaymentProcessing},
	PaymentCancelled:         {PaymentProcessing},
	PaymentCompleted:         {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPartiallyRefunded: {PaymentRefunded},
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return slices.Contains(paymentTransitions[s], to)
}

// Settled reports whether the payment was collected at some point.
func (s PaymentStatus) Settled() bool {
	switch s {
	case PaymentCompleted, PaymentPartiallyRefunded, PaymentRefunded:
		return true
	default:
		return false
	}
}

// ParsePaymentStatus validates a payment status name.
func ParsePaymentStatus(v string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToLower(strings.TrimSpace(v)))
	if !slices.Contains(PaymentStatuses, s) {
		return "", errors.Errorf("unknown payment status %q", v)
	}
	return s, nil
}

// FulfillmentStatus is the fulfillment state of an order or of an item.
type FulfillmentStatus string

const (
	FulfillmentUnfulfilled        FulfillmentStatus = "unfulfilled"
	FulfillmentPartiallyFulfilled FulfillmentStatus = "partially_fulfilled"
	FulfillmentFulfilled          FulfillmentStatus = "fulfilled"
	FulfillmentShipped            FulfillmentStatus = "shipped"
	FulfillmentDelivered          FulfillmentStatus = "delivered"
	FulfillmentReturned           FulfillmentStatus = "returned"
)

// FulfillmentStatuses lists every fulfillment status.
var FulfillmentStatuses = []FulfillmentStatus{
	FulfillmentUnfulfilled, FulfillmentPartiallyFulfilled, FulfillmentFulfilled,
	FulfillmentShipped, FulfillmentDelivered, FulfillmentReturned,
}

var fulfillmentTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentUnfulfilled:        {FulfillmentPartiallyFulfilled, FulfillmentFulfilled, FulfillmentShipped},
	FulfillmentPartiallyFulfilled: {FulfillmentFulfilled, FulfillmentShipped},
	FulfillmentFulfilled:          {FulfillmentShipped},
	FulfillmentShipped:            {FulfillmentDelivered},
	FulfillmentDelivered:          {FulfillmentReturned},
}

func (s FulfillmentStatus) CanTransitionTo(to FulfillmentStatus) bool {
	return slices.Contains(fulfillmentTransitions[s], to)
}

// ParseFulfillmentStatus validates a fulfillment status name.
func ParseFulfillmentStatus(v string) (FulfillmentStatus, error) {
	s := FulfillmentStatus(strings.ToLower(strings.TrimSpace(v)))
	if !slices.Contains(FulfillmentStatuses, s) {
		return "", errors.Errorf("unknown fulfillment status %q", v)
	}
	return s, nil
}
