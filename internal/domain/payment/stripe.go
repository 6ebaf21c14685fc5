package payment

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey string
	AccountID string
	Timeout   time.Duration
	Backends  *stripe.Backends

	intents stripeIntentAPI
	refunds stripeRefundAPI
}

// Stripe is a Gateway backed by Stripe payment intents.
type Stripe struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
	account string
	timeout time.Duration
	lg      *zap.Logger
}

var _ Gateway = (*Stripe)(nil)

// NewStripe creates a Stripe gateway.
func NewStripe(cfg StripeConfig, lg *zap.Logger) (*Stripe, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	intents, refunds := cfg.intents, cfg.refunds
	if intents == nil || refunds == nil {
		if key == "" {
			return nil, errors.New("stripe: secret key is required")
		}
		sc := client.New(key, cfg.Backends)
		intents, refunds = sc.PaymentIntents, sc.Refunds
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Stripe{
		intents: intents,
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		timeout: timeout,
		lg:      lg,
	}, nil
}

func (s *Stripe) params(ctx context.Context, p *stripe.Params, idempotencyKey string) {
	p.Context = ctx
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		p.SetIdempotencyKey(key)
	}
	if s.account != "" {
		p.SetStripeAccount(s.account)
	}
}

func (s *Stripe) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount.Amount),
		Currency:           stripe.String(strings.ToLower(req.Amount.Currency)),
		// Wallets settle as card payments on Stripe's side.
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}
	s.params(ctx, &params.Params, req.IdempotencyKey)
	params.AddMetadata("order_id", req.OrderID)
	params.AddMetadata("order_number", req.OrderNumber)

	intent, err := s.intents.New(params)
	if err != nil {
		return Intent{}, errors.Wrap(err, "stripe: create payment intent")
	}

	s.lg.Info("Payment intent created",
		zap.String("intent_id", intent.ID),
		zap.String("order_id", req.OrderID),
		zap.Int64("amount", req.Amount.Amount),
	)
	return Intent{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

func (s *Stripe) Outcome(ctx context.Context, intentID string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	s.params(ctx, &params.Params, "")
	params.AddExpand("latest_charge")

	intent, err := s.intents.Get(intentID, params)
	if err != nil {
		return Result{}, errors.Wrap(err, "stripe: get payment intent")
	}
	return stripeResult(intent), nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Amount:        stripe.Int64(req.Amount.Amount),
	}
	s.params(ctx, &params.Params, req.IdempotencyKey)
	if reason := stripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}

	refund, err := s.refunds.New(params)
	if err != nil {
		return RefundResult{}, errors.Wrap(err, "stripe: create refund")
	}

	s.lg.Info("Refund created",
		zap.String("refund_id", refund.ID),
		zap.String("intent_id", req.IntentID),
		zap.Int64("amount", req.Amount.Amount),
	)
	return RefundResult{ID: refund.ID, Status: string(refund.Status)}, nil
}

func stripeResult(intent *stripe.PaymentIntent) Result {
	res := Result{
		IntentID: intent.ID,
		Outcome:  OutcomePending,
		Amount:   money.New(intent.Amount, strings.ToUpper(string(intent.Currency))),
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		res.Outcome = OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		res.Outcome = OutcomeCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// A declined attempt drops the intent back to requires_payment_method.
		if intent.LastPaymentError != nil {
			res.Outcome = OutcomeFailed
			res.FailureMessage = intent.LastPaymentError.Msg
		}
	}

	if ch := intent.LatestCharge; ch != nil {
		res.ChargeID = ch.ID
		res.ReceiptURL = ch.ReceiptURL
		if d := ch.PaymentMethodDetails; d != nil && d.Card != nil {
			res.CardBrand = string(d.Card.Brand)
			res.CardLast4 = d.Card.Last4
		}
	}
	return res
}

func stripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
