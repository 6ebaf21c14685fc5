package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

// DefaultReferralPercent is the referral credit when none is configured.
var DefaultReferralPercent = decimal.NewFromInt(10)

// Request is the input of Resolve.
type Request struct {
	Subtotal money.Money
	// Shipping is the cost a free-shipping code would waive.
	Shipping         money.Money
	Code             string
	ReferralEligible bool
}

// Resolution is the single discount that applies to an order.
type Resolution struct {
	// Amount is the merchandise discount, within [0, subtotal]. It is zero
	// for free-shipping codes.
	Amount money.Money
	// Saved is what the customer saves: Amount, or the waived shipping cost.
	Saved          money.Money
	ShippingWaived bool
	Kind           Kind
	Code           string
	Value          decimal.Decimal
	Description    string
	// Referral is set when the customer was referral eligible, even if a
	// code took precedence.
	Referral bool
}

// Applied reports whether any discount source applies.
func (r Resolution) Applied() bool {
	return r.Kind != ""
}

// Resolver picks exactly one discount source for an order: a valid promo
// code, otherwise the referral credit. Sources never stack.
type Resolver struct {
	catalog  Catalog
	referral decimal.Decimal
	now      func() time.Time
}

// NewResolver creates a Resolver. A zero referralPercent uses
// DefaultReferralPercent.
func NewResolver(catalog Catalog, referralPercent decimal.Decimal) *Resolver {
	if referralPercent.IsZero() {
		referralPercent = DefaultReferralPercent
	}
	return &Resolver{catalog: catalog, referral: referralPercent, now: time.Now}
}

// Resolve computes the discount for a cart.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	zero := money.Zero(req.Subtotal.Currency)
	res := Resolution{Amount: zero, Saved: zero, Referral: req.ReferralEligible}

	code := Normalize(req.Code)
	switch {
	case code != "":
		rule, err := r.lookup(ctx, code)
		if err != nil {
			return Resolution{}, err
		}
		res.Kind = rule.Kind
		res.Code = rule.Code
		res.Value = rule.Value
		res.Description = rule.Description
		switch rule.Kind {
		case KindPercentage:
			res.Amount = req.Subtotal.Percent(rule.Value)
		case KindFixed:
			res.Amount = money.New(rule.Value.Round(0).IntPart(), req.Subtotal.Currency)
		case KindFreeShipping:
			res.ShippingWaived = true
			res.Saved = req.Shipping
			return res, nil
		default:
			return Resolution{}, errors.Errorf("promo %s: unsupported kind %q", rule.Code, rule.Kind)
		}
	case req.ReferralEligible:
		res.Kind = KindReferral
		res.Value = r.referral
		res.Description = "Referral credit: " + r.referral.String() + "% off"
		res.Amount = req.Subtotal.Percent(r.referral)
	default:
		return res, nil
	}

	res.Amount = res.Amount.Clamp(zero, req.Subtotal)
	res.Saved = res.Amount
	return res, nil
}

// Redeem records a use of the code. Empty codes are ignored.
func (r *Resolver) Redeem(ctx context.Context, code string) error {
	code = Normalize(code)
	if code == "" {
		return nil
	}
	return r.catalog.Redeem(ctx, code)
}

func (r *Resolver) lookup(ctx context.Context, code string) (*Rule, error) {
	if !ValidSyntax(code) {
		return nil, ErrInvalidSyntax
	}

	rule, err := r.catalog.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrUnknownCode) {
			return nil, ErrUnknownCode
		}
		return nil, errors.Wrap(err, "lookup promo code")
	}

	now := r.now()
	if rule.ValidFrom != nil && now.Before(*rule.ValidFrom) {
		return nil, ErrExpired
	}
	if rule.ValidUntil != nil && now.After(*rule.ValidUntil) {
		return nil, ErrExpired
	}
	if rule.MaxUses > 0 && rule.Uses >= rule.MaxUses {
		return nil, ErrUsageLimitReached
	}
	return rule, nil
}
