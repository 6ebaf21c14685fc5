package promo

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

type mockCatalog struct {
	rule       *Rule
	err        error
	redeemErr  error
	redeemed   []string
	findCalls  int
	lastLookup string
}

func (m *mockCatalog) FindByCode(_ context.Context, code string) (*Rule, error) {
	m.findCalls++
	m.lastLookup = code
	return m.rule, m.err
}

func (m *mockCatalog) Redeem(_ context.Context, code string) error {
	m.redeemed = append(m.redeemed, code)
	return m.redeemErr
}

func usd(v int64) money.Money { return money.New(v, "USD") }

func TestResolver_Resolve(t *testing.T) {
	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	tenPercent := &Rule{Code: "SAVE1234", Kind: KindPercentage, Value: decimal.NewFromInt(10), Description: "10% off"}

	tests := []struct {
		name         string
		catalog      *mockCatalog
		req          Request
		wantAmount   int64
		wantSaved    int64
		wantKind     Kind
		wantWaived   bool
		wantReferral bool
		wantErr      error
	}{
		{
			name:       "percentage code",
			catalog:    &mockCatalog{rule: tenPercent},
			req:        Request{Subtotal: usd(2000), Code: "SAVE1234"},
			wantAmount: 200, wantSaved: 200, wantKind: KindPercentage,
		},
		{
			name:       "code is normalized",
			catalog:    &mockCatalog{rule: tenPercent},
			req:        Request{Subtotal: usd(2000), Code: "  save1234 "},
			wantAmount: 200, wantSaved: 200, wantKind: KindPercentage,
		},
		{
			name:       "referral only",
			catalog:    &mockCatalog{},
			req:        Request{Subtotal: usd(2000), ReferralEligible: true},
			wantAmount: 200, wantSaved: 200, wantKind: KindReferral, wantReferral: true,
		},
		{
			name:         "code and referral do not stack",
			catalog:      &mockCatalog{rule: tenPercent},
			req:          Request{Subtotal: usd(2000), Code: "SAVE1234", ReferralEligible: true},
			wantAmount:   200,
			wantSaved:    200,
			wantKind:     KindPercentage,
			wantReferral: true,
		},
		{
			name: "code size wins over referral percent",
			catalog: &mockCatalog{rule: &Rule{
				Code: "FIVEOFF500", Kind: KindFixed, Value: decimal.NewFromInt(500),
			}},
			req:          Request{Subtotal: usd(2000), Code: "FIVEOFF500", ReferralEligible: true},
			wantAmount:   500,
			wantSaved:    500,
			wantKind:     KindFixed,
			wantReferral: true,
		},
		{
			name: "fixed discount clamped to subtotal",
			catalog: &mockCatalog{rule: &Rule{
				Code: "BIGFIXED", Kind: KindFixed, Value: decimal.NewFromInt(5000),
			}},
			req:        Request{Subtotal: usd(1200), Code: "BIGFIXED"},
			wantAmount: 1200, wantSaved: 1200, wantKind: KindFixed,
		},
		{
			name: "percentage over one hundred clamped",
			catalog: &mockCatalog{rule: &Rule{
				Code: "OVERDONE", Kind: KindPercentage, Value: decimal.NewFromInt(150),
			}},
			req:        Request{Subtotal: usd(1000), Code: "OVERDONE"},
			wantAmount: 1000, wantSaved: 1000, wantKind: KindPercentage,
		},
		{
			name: "negative fixed value clamped to zero",
			catalog: &mockCatalog{rule: &Rule{
				Code: "NEGATIVE", Kind: KindFixed, Value: decimal.NewFromInt(-300),
			}},
			req:        Request{Subtotal: usd(1000), Code: "NEGATIVE"},
			wantAmount: 0, wantSaved: 0, wantKind: KindFixed,
		},
		{
			name: "free shipping waives shipping only",
			catalog: &mockCatalog{rule: &Rule{
				Code: "SHIPFREE", Kind: KindFreeShipping, Description: "Free shipping",
			}},
			req:        Request{Subtotal: usd(1000), Shipping: usd(999), Code: "SHIPFREE"},
			wantAmount: 0, wantSaved: 999, wantKind: KindFreeShipping, wantWaived: true,
		},
		{
			name:    "no discount source",
			catalog: &mockCatalog{},
			req:     Request{Subtotal: usd(1000)},
		},
		{
			name:    "too short",
			catalog: &mockCatalog{rule: tenPercent},
			req:     Request{Subtotal: usd(1000), Code: "AB12"},
			wantErr: ErrInvalidSyntax,
		},
		{
			name:    "too long",
			catalog: &mockCatalog{rule: tenPercent},
			req:     Request{Subtotal: usd(1000), Code: "ABCDEFGHIJKLM"},
			wantErr: ErrInvalidSyntax,
		},
		{
			name:    "punctuation",
			catalog: &mockCatalog{rule: tenPercent},
			req:     Request{Subtotal: usd(1000), Code: "SAVE-123"},
			wantErr: ErrInvalidSyntax,
		},
		{
			name:    "unknown code",
			catalog: &mockCatalog{err: ErrUnknownCode},
			req:     Request{Subtotal: usd(1000), Code: "NOSUCHCODE"},
			wantErr: ErrUnknownCode,
		},
		{
			name: "not yet valid",
			catalog: &mockCatalog{rule: &Rule{
				Code: "FUTURE01", Kind: KindPercentage, Value: decimal.NewFromInt(5), ValidFrom: &future,
			}},
			req:     Request{Subtotal: usd(1000), Code: "FUTURE01"},
			wantErr: ErrExpired,
		},
		{
			name: "expired",
			catalog: &mockCatalog{rule: &Rule{
				Code: "EXPIRED1", Kind: KindPercentage, Value: decimal.NewFromInt(5), ValidUntil: &past,
			}},
			req:     Request{Subtotal: usd(1000), Code: "EXPIRED1"},
			wantErr: ErrExpired,
		},
		{
			name: "usage limit reached",
			catalog: &mockCatalog{rule: &Rule{
				Code: "LIMITED1", Kind: KindPercentage, Value: decimal.NewFromInt(5), MaxUses: 3, Uses: 3,
			}},
			req:     Request{Subtotal: usd(1000), Code: "LIMITED1"},
			wantErr: ErrUsageLimitReached,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.catalog, decimal.Zero)
			r.now = func() time.Time { return fixedNow }

			got, err := r.Resolve(context.Background(), tt.req)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, got.Amount.Amount)
			assert.Equal(t, tt.wantSaved, got.Saved.Amount)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantWaived, got.ShippingWaived)
			assert.Equal(t, tt.wantReferral, got.Referral)
			assert.Equal(t, tt.wantKind != "", got.Applied())
			assert.False(t, got.Amount.IsNegative())
			assert.LessOrEqual(t, got.Amount.Amount, tt.req.Subtotal.Amount)
		})
	}
}

func TestResolver_SyntaxCheckedBeforeLookup(t *testing.T) {
	cat := &mockCatalog{rule: &Rule{Code: "X", Kind: KindPercentage}}
	_, err := NewResolver(cat, decimal.Zero).Resolve(context.Background(), Request{Subtotal: usd(100), Code: "bad code"})
	require.ErrorIs(t, err, ErrInvalidSyntax)
	assert.Zero(t, cat.findCalls)
}

func TestResolver_LookupFailure(t *testing.T) {
	cat := &mockCatalog{err: errors.New("connection reset")}
	_, err := NewResolver(cat, decimal.Zero).Resolve(context.Background(), Request{Subtotal: usd(100), Code: "SAVE1234"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownCode)
	assert.Contains(t, err.Error(), "lookup promo code")
}

func TestResolver_CustomReferralPercent(t *testing.T) {
	r := NewResolver(&mockCatalog{}, decimal.NewFromInt(15))
	got, err := r.Resolve(context.Background(), Request{Subtotal: usd(1999), ReferralEligible: true})
	require.NoError(t, err)
	assert.Equal(t, int64(300), got.Amount.Amount) // 299.85 rounds up
}

func TestResolver_Redeem(t *testing.T) {
	cat := &mockCatalog{}
	r := NewResolver(cat, decimal.Zero)

	require.NoError(t, r.Redeem(context.Background(), ""))
	require.NoError(t, r.Redeem(context.Background(), " save1234"))
	assert.Equal(t, []string{"SAVE1234"}, cat.redeemed)
}

func TestStaticCatalog(t *testing.T) {
	cat := NewStaticCatalog(Rule{Code: "save1234", Kind: KindPercentage, Value: decimal.NewFromInt(10)})
	ctx := context.Background()

	rule, err := cat.FindByCode(ctx, "SAVE1234")
	require.NoError(t, err)
	assert.Equal(t, "SAVE1234", rule.Code)

	require.NoError(t, cat.Redeem(ctx, "save1234"))
	rule, err = cat.FindByCode(ctx, "SAVE1234")
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Uses)

	_, err = cat.FindByCode(ctx, "MISSING1")
	require.ErrorIs(t, err, ErrUnknownCode)
	require.ErrorIs(t, cat.Redeem(ctx, "MISSING1"), ErrUnknownCode)
}
