// Package pricing computes order subtotals, shipping costs and taxes in
// integer minor units.
package pricing

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

// Method is a shipping method.
type Method string

const (
	MethodStandard  Method = "standard"
	MethodExpress   Method = "express"
	MethodOvernight Method = "overnight"
	MethodPickup    Method = "pickup"
)

var (
	// ErrUnknownMethod is returned for shipping methods without a rate.
	ErrUnknownMethod = errors.New("unknown shipping method")
	// ErrInvalidRate is returned when a tax rate entry cannot be parsed.
	ErrInvalidRate = errors.New("invalid tax rate")
)

// ParseMethod validates a shipping method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MethodStandard, MethodExpress, MethodOvernight, MethodPickup:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// Destination is the part of an address that pricing depends on.
type Destination struct {
	Country    string
	State      string
	PostalCode string
}

// Line is a cart line used for subtotal computation.
type Line struct {
	UnitPrice money.Money
	Quantity  int
}

// ShippingRater returns the base cost of shipping to a destination with a
// method, before free-shipping and surcharge rules are applied.
type ShippingRater interface {
	BaseCost(ctx context.Context, dest Destination, method Method) (money.Money, error)
}

// TaxRater returns the tax rate in percent for a destination. Unknown
// jurisdictions have a zero rate.
type TaxRater interface {
	Rate(ctx context.Context, dest Destination) (decimal.Decimal, error)
}

// RateTable is a ShippingRater with a fixed cost per method.
type RateTable struct {
	currency string
	costs    map[Method]int64
}

var _ ShippingRater = (*RateTable)(nil)

// NewRateTable returns a RateTable charging costs (minor units) per method.
func NewRateTable(currency string, costs map[Method]int64) *RateTable {
	c := make(map[Method]int64, len(costs))
	for m, v := range costs {
		c[m] = v
	}
	return &RateTable{currency: currency, costs: c}
}

func (t *RateTable) BaseCost(_ context.Context, _ Destination, method Method) (money.Money, error) {
	cost, ok := t.costs[method]
	if !ok {
		return money.Money{}, errors.Wrapf(ErrUnknownMethod, "%q", method)
	}
	return money.New(cost, t.currency), nil
}

// JurisdictionRates is a TaxRater backed by a table of state rates. Keys are
// either "STATE" (domestic) or "COUNTRY-STATE".
type JurisdictionRates struct {
	domestic string
	rates    map[string]decimal.Decimal
}

var _ TaxRater = (*JurisdictionRates)(nil)

// NewJurisdictionRates builds a rate table from "KEY=PERCENT" entries, e.g.
// "CA=8.75" or "CA-ON=13".
func NewJurisdictionRates(domesticCountry string, entries []string) (*JurisdictionRates, error) {
	rates := make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		key, value, ok := strings.Cut(e, "=")
		if !ok {
			return nil, errors.Wrapf(ErrInvalidRate, "entry %q", e)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, errors.Wrapf(ErrInvalidRate, "entry %q: %s", e, err)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
			return nil, errors.Wrapf(ErrInvalidRate, "entry %q out of range", e)
		}
		rates[strings.ToUpper(strings.TrimSpace(key))] = rate
	}
	return &JurisdictionRates{
		domestic: strings.ToUpper(domesticCountry),
		rates:    rates,
	}, nil
}

func (j *JurisdictionRates) Rate(_ context.Context, dest Destination) (decimal.Decimal, error) {
	country := strings.ToUpper(strings.TrimSpace(dest.Country))
	state := strings.ToUpper(strings.TrimSpace(dest.State))
	if r, ok := j.rates[country+"-"+state]; ok {
		return r, nil
	}
	if country == "" || country == j.domestic {
		if r, ok := j.rates[state]; ok {
			return r, nil
		}
	}
	return decimal.Zero, nil
}
