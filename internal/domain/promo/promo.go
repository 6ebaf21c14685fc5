// Package promo resolves promotional codes and referral credit into a single
// order discount.
package promo

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported discount strategies.
type Kind string

const (
	// KindPercentage takes a percentage off the subtotal.
	KindPercentage Kind = "percentage"
	// KindFixed takes a fixed amount (minor units) off the subtotal.
	KindFixed Kind = "fixed"
	// KindFreeShipping waives the shipping cost.
	KindFreeShipping Kind = "free_shipping"
	// KindReferral is the referral credit applied when no code is given.
	KindReferral Kind = "referral"
)

var (
	// ErrInvalidSyntax is returned for codes not matching ^[A-Z0-9]{6,12}$
	// after normalization.
	ErrInvalidSyntax = errors.New("promo code must be 6-12 letters or digits")
	// ErrUnknownCode is returned when a well-formed code is not in the catalog.
	ErrUnknownCode = errors.New("unknown promo code")
	// ErrExpired is returned when a code is outside its validity window.
	ErrExpired = errors.New("promo code expired")
	// ErrUsageLimitReached is returned when a code has no uses left.
	ErrUsageLimitReached = errors.New("promo code usage limit reached")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)

// Normalize trims and upper-cases a user supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidSyntax reports whether an already normalized code is well formed.
func ValidSyntax(code string) bool {
	return codePattern.MatchString(code)
}

// Rule is a catalog entry.
type Rule struct {
	Code        string
	Kind        Kind
	Value       decimal.Decimal // percent for KindPercentage, minor units for KindFixed
	Description string
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	MaxUses     int
	Uses        int
}

// Catalog looks up promo rules.
type Catalog interface {
	// FindByCode returns ErrUnknownCode when the code does not exist.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	// Redeem records one use of the code.
	Redeem(ctx context.Context, code string) error
}

// Lister enumerates active codes. It feeds the bloom prefilter.
type Lister interface {
	ListCodes(ctx context.Context) ([]string, error)
}
