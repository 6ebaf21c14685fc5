package payment

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stripe/stripe-go/v78"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

type fakeIntents struct {
	created   *stripe.PaymentIntentParams
	got       *stripe.PaymentIntentParams
	intent    *stripe.PaymentIntent
	createErr error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &stripe.PaymentIntent{ID: "pi_123", ClientSecret: "pi_123_secret"}, nil
}

func (f *fakeIntents) Get(_ string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.got = params
	return f.intent, nil
}

type fakeRefunds struct {
	params *stripe.RefundParams
}

func (f *fakeRefunds) New(params *stripe.RefundParams) (*stripe.Refund, error) {
	f.params = params
	return &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded}, nil
}

func newTestStripe(t *testing.T, intents *fakeIntents, refunds *fakeRefunds) *Stripe {
	t.Helper()
	s, err := NewStripe(StripeConfig{AccountID: "acct_1", intents: intents, refunds: refunds}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStripe_RequiresKey(t *testing.T) {
	_, err := NewStripe(StripeConfig{}, zap.NewNop())
	require.Error(t, err)
}

func TestStripe_CreateIntent(t *testing.T) {
	intents := &fakeIntents{}
	s := newTestStripe(t, intents, &fakeRefunds{})

	intent, err := s.CreateIntent(context.Background(), IntentRequest{
		OrderID:        "ord-1",
		OrderNumber:    "OO-2026-000001",
		Amount:         money.New(10875, "USD"),
		Method:         MethodApplePay,
		CustomerEmail:  "ada@example.com",
		IdempotencyKey: "intent-ord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)

	require.NotNil(t, intents.created)
	assert.Equal(t, int64(10875), *intents.created.Amount)
	assert.Equal(t, "usd", *intents.created.Currency)
	assert.Equal(t, "intent-ord-1", *intents.created.IdempotencyKey)
	assert.Equal(t, "acct_1", *intents.created.StripeAccount)
	assert.Equal(t, "ord-1", intents.created.Metadata["order_id"])
}

func TestStripe_CreateIntentError(t *testing.T) {
	s := newTestStripe(t, &fakeIntents{createErr: errors.New("card_declined")}, &fakeRefunds{})
	_, err := s.CreateIntent(context.Background(), IntentRequest{Amount: money.New(100, "USD")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create payment intent")
}

func TestStripe_Outcome(t *testing.T) {
	tests := []struct {
		name    string
		intent  *stripe.PaymentIntent
		want    Outcome
		wantMsg string
	}{
		{
			name:   "succeeded",
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded},
			want:   OutcomeSucceeded,
		},
		{
			name:   "canceled",
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusCanceled},
			want:   OutcomeCancelled,
		},
		{
			name: "declined",
			intent: &stripe.PaymentIntent{
				ID:               "pi_1",
				Status:           stripe.PaymentIntentStatusRequiresPaymentMethod,
				LastPaymentError: &stripe.Error{Msg: "Your card was declined."},
			},
			want:    OutcomeFailed,
			wantMsg: "Your card was declined.",
		},
		{
			name:   "awaiting payment method",
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusRequiresPaymentMethod},
			want:   OutcomePending,
		},
		{
			name:   "processing",
			intent: &stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusProcessing},
			want:   OutcomePending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intents := &fakeIntents{intent: tt.intent}
			got, err := newTestStripe(t, intents, &fakeRefunds{}).Outcome(context.Background(), "pi_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Outcome)
			assert.Equal(t, tt.wantMsg, got.FailureMessage)
			assert.Contains(t, intents.got.Expand, stripe.String("latest_charge"))
		})
	}
}

func TestStripe_OutcomeCardDetails(t *testing.T) {
	intents := &fakeIntents{intent: &stripe.PaymentIntent{
		ID:       "pi_1",
		Amount:   2912,
		Currency: stripe.CurrencyUSD,
		Status:   stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{
			ID:         "ch_1",
			ReceiptURL: "https://pay.example.com/receipts/ch_1",
			PaymentMethodDetails: &stripe.ChargePaymentMethodDetails{
				Card: &stripe.ChargePaymentMethodDetailsCard{Brand: "visa", Last4: "4242"},
			},
		},
	}}

	got, err := newTestStripe(t, intents, &fakeRefunds{}).Outcome(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, money.New(2912, "USD"), got.Amount)
	assert.Equal(t, "ch_1", got.ChargeID)
	assert.Equal(t, "visa", got.CardBrand)
	assert.Equal(t, "4242", got.CardLast4)
}

func TestStripe_Refund(t *testing.T) {
	refunds := &fakeRefunds{}
	got, err := newTestStripe(t, &fakeIntents{}, refunds).Refund(context.Background(), RefundRequest{
		IntentID:       "pi_1",
		Amount:         money.New(2000, "USD"),
		Reason:         "Requested_By_Customer",
		IdempotencyKey: "refund-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", got.ID)
	assert.Equal(t, "succeeded", got.Status)
	assert.Equal(t, int64(2000), *refunds.params.Amount)
	assert.Equal(t, "requested_by_customer", *refunds.params.Reason)
	assert.Equal(t, "refund-1", *refunds.params.IdempotencyKey)
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("Google_Pay")
	require.NoError(t, err)
	assert.Equal(t, MethodGooglePay, m)

	_, err = ParseMethod("cash")
	require.ErrorIs(t, err, ErrUnknownMethod)
}
