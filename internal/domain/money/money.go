// Package money implements fixed-point monetary amounts stored as integer
// minor units of an ISO 4217 currency.
//
// Percentages are applied in exact decimal arithmetic and rounded once,
// half-up, to a whole minor unit. Binary floating point never touches a
// monetary value.
package money

import (
	"math"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	// ErrCurrencyMismatch is raised when two amounts of different currencies
	// are combined.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrOverflow is returned when an operation exceeds the int64 range.
	ErrOverflow = errors.New("money overflow")
	// ErrInvalidCurrency is returned for codes that are not ISO 4217.
	ErrInvalidCurrency = errors.New("invalid currency")
)

var (
	hundred = decimal.NewFromInt(100)
	half    = decimal.New(5, -1)
)

// Money is an amount in minor units (cents for USD) of a currency.
type Money struct {
	Amount   int64
	Currency string
}

// New returns an amount of the given currency.
func New(amount int64, cur string) Money {
	return Money{Amount: amount, Currency: cur}
}

// Zero returns the zero amount of the currency.
func Zero(cur string) Money {
	return Money{Currency: cur}
}

// ParseCurrency normalizes and validates an ISO 4217 currency code.
func ParseCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", errors.Wrapf(ErrInvalidCurrency, "%q", code)
	}
	return unit.String(), nil
}

// Scale returns the number of minor-unit digits of the currency, 2 when the
// currency is unknown.
func Scale(cur string) int32 {
	unit, err := currency.ParseISO(cur)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

func (m Money) mustMatch(o Money) {
	if m.Currency != o.Currency {
		panic(errors.Wrapf(ErrCurrencyMismatch, "%s vs %s", m.Currency, o.Currency))
	}
}

// Add returns m+o. Mixing currencies is a programming error and panics.
func (m Money) Add(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}
}

// AddChecked is Add with int64 overflow detection.
func (m Money) AddChecked(o Money) (Money, error) {
	m.mustMatch(o)
	if (o.Amount > 0 && m.Amount > math.MaxInt64-o.Amount) ||
		(o.Amount < 0 && m.Amount < math.MinInt64-o.Amount) {
		return Money{}, ErrOverflow
	}
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}, nil
}

// Sub returns m-o. Mixing currencies is a programming error and panics.
func (m Money) Sub(o Money) Money {
	m.mustMatch(o)
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}
}

// Mul returns m multiplied by a quantity.
func (m Money) Mul(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// MulChecked is Mul with int64 overflow detection.
func (m Money) MulChecked(qty int64) (Money, error) {
	if qty != 0 && m.Amount != 0 {
		r := m.Amount * qty
		if r/qty != m.Amount || (m.Amount == -1 && qty == math.MinInt64) || (qty == -1 && m.Amount == math.MinInt64) {
			return Money{}, ErrOverflow
		}
		return Money{Amount: r, Currency: m.Currency}, nil
	}
	return Zero(m.Currency), nil
}

// Percent returns pct percent of m, rounded half-up to a whole minor unit.
// 8.75 means 8.75%.
func (m Money) Percent(pct decimal.Decimal) Money {
	v := decimal.NewFromInt(m.Amount).Mul(pct).Div(hundred)
	return Money{Amount: v.Add(half).Floor().IntPart(), Currency: m.Currency}
}

// DivRound divides m by n rounding half-up. It returns zero when n is zero.
func (m Money) DivRound(n int64) Money {
	if n == 0 {
		return Zero(m.Currency)
	}
	v := decimal.NewFromInt(m.Amount).Div(decimal.NewFromInt(n))
	return Money{Amount: v.Add(half).Floor().IntPart(), Currency: m.Currency}
}

// Min returns the smaller of m and o.
func (m Money) Min(o Money) Money {
	m.mustMatch(o)
	if o.Amount < m.Amount {
		return o
	}
	return m
}

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	m.mustMatch(o)
	if o.Amount > m.Amount {
		return o
	}
	return m
}

// Clamp bounds m to [lo, hi].
func (m Money) Clamp(lo, hi Money) Money {
	return m.Max(lo).Min(hi)
}

func (m Money) IsZero() bool     { return m.Amount == 0 }
func (m Money) IsNegative() bool { return m.Amount < 0 }
func (m Money) IsPositive() bool { return m.Amount > 0 }

// Cmp compares m and o and returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	m.mustMatch(o)
	switch {
	case m.Amount < o.Amount:
		return -1
	case m.Amount > o.Amount:
		return 1
	default:
		return 0
	}
}

func (m Money) LessThan(o Money) bool    { return m.Cmp(o) < 0 }
func (m Money) GreaterThan(o Money) bool { return m.Cmp(o) > 0 }

// Equal reports whether m and o have the same currency and amount.
func (m Money) Equal(o Money) bool {
	return m.Currency == o.Currency && m.Amount == o.Amount
}

// Decimal returns the amount in major units, e.g. 10875 USD -> 108.75.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -Scale(m.Currency))
}

// String renders the amount as "USD 108.75".
func (m Money) String() string {
	return m.Currency + " " + m.Decimal().StringFixed(Scale(m.Currency))
}

// Sum adds all amounts. The result has the given currency when amounts is
// empty.
func Sum(cur string, amounts ...Money) Money {
	total := Zero(cur)
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// Allocate splits amount across weights proportionally using the largest
// remainder method, so the parts always sum to amount exactly. Zero total
// weight splits evenly.
func Allocate(amount int64, weights []int64) []int64 {
	if len(weights) == 0 {
		return nil
	}
	parts := make([]int64, len(weights))
	if amount == 0 {
		return parts
	}

	var total int64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		base, rem := amount/int64(len(weights)), amount%int64(len(weights))
		for i := range parts {
			parts[i] = base
			if int64(i) < rem {
				parts[i]++
			}
		}
		return parts
	}

	type remainder struct {
		idx int
		rem decimal.Decimal
	}
	amt := decimal.NewFromInt(amount)
	tot := decimal.NewFromInt(total)
	rems := make([]remainder, len(weights))
	var distributed int64
	for i, w := range weights {
		if w < 0 {
			w = 0
		}
		exact := amt.Mul(decimal.NewFromInt(w)).Div(tot)
		share := exact.Floor()
		parts[i] = share.IntPart()
		distributed += parts[i]
		rems[i] = remainder{idx: i, rem: exact.Sub(share)}
	}

	// Hand the leftover units to the largest remainders, earliest index first.
	for left := amount - distributed; left > 0; left-- {
		best := -1
		for i, r := range rems {
			if best < 0 || r.rem.GreaterThan(rems[best].rem) {
				best = i
			}
		}
		parts[rems[best].idx]++
		rems[best].rem = decimal.NewFromInt(-1)
	}
	return parts
}
