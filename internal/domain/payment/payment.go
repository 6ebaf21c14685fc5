// Package payment defines the payment gateway contract used by the order
// service and its Stripe implementation.
package payment

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

// Method is the payment method the customer chose at checkout.
type Method string

const (
	MethodCard      Method = "card"
	MethodApplePay  Method = "apple_pay"
	MethodGooglePay Method = "google_pay"
)

// ErrUnknownMethod is returned for unsupported payment methods.
var ErrUnknownMethod = errors.New("unknown payment method")

// ParseMethod validates a payment method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodCard, MethodApplePay, MethodGooglePay:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// Outcome is the gateway-reported result of presenting the payment UI.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// IntentRequest asks the gateway to prepare a payment of Amount.
type IntentRequest struct {
	OrderID        string
	OrderNumber    string
	Amount         money.Money
	Method         Method
	CustomerEmail  string
	IdempotencyKey string
}

// Intent is a prepared payment. ClientSecret is handed to the client-side
// payment UI.
type Intent struct {
	ID           string
	ClientSecret string
}

// Result describes the state of an intent.
type Result struct {
	IntentID       string
	Outcome        Outcome
	Amount         money.Money
	ChargeID       string
	CardBrand      string
	CardLast4      string
	ReceiptURL     string
	FailureMessage string
}

// RefundRequest returns Amount of a completed payment.
type RefundRequest struct {
	IntentID       string
	Amount         money.Money
	Reason         string
	IdempotencyKey string
}

// RefundResult is the gateway's refund record.
type RefundResult struct {
	ID     string
	Status string
}

// Gateway is a payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Outcome(ctx context.Context, intentID string) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}
