package pricing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-orders/internal/domain/money"
)

// Config holds the pricing rules that are not provided by rate sources.
type Config struct {
	Currency string
	// FreeShippingThreshold waives standard shipping when the subtotal is at
	// or above it. Zero disables the waiver.
	FreeShippingThreshold int64
	// InternationalSurcharge is added for destinations outside
	// DomesticCountry, even when shipping is otherwise free.
	InternationalSurcharge int64
	DomesticCountry        string
	// QuoteTTL caches base shipping costs returned by the ShippingRater.
	QuoteTTL time.Duration
}

// Quote is the pricing breakdown of a cart.
type Quote struct {
	Subtotal money.Money
	Shipping money.Money
	Discount money.Money
	Tax      money.Money
	Total    money.Money
}

// QuoteRequest describes a cart to price.
type QuoteRequest struct {
	Lines       []Line
	Destination Destination
	Method      Method
	// Discount is the merchandise discount, already clamped to the subtotal.
	Discount money.Money
	// ShippingWaived zeroes the shipping cost (free-shipping promotions).
	ShippingWaived bool
}

// Calculator combines rate sources with the shipping and tax rules.
type Calculator struct {
	cfg      Config
	shipping ShippingRater
	taxes    TaxRater
	cache    *quoteCache
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg Config, shipping ShippingRater, taxes TaxRater) *Calculator {
	c := &Calculator{
		cfg:      cfg,
		shipping: shipping,
		taxes:    taxes,
	}
	if cfg.QuoteTTL > 0 {
		c.cache = newQuoteCache(cfg.QuoteTTL, time.Now)
	}
	return c
}

// Currency returns the currency all amounts are computed in.
func (c *Calculator) Currency() string {
	return c.cfg.Currency
}

// Subtotal returns the sum of unit price times quantity over all lines.
func (c *Calculator) Subtotal(lines []Line) (money.Money, error) {
	total := money.Zero(c.cfg.Currency)
	for i, l := range lines {
		if l.UnitPrice.Currency != c.cfg.Currency {
			return money.Money{}, errors.Wrapf(money.ErrCurrencyMismatch, "line %d: %s", i, l.UnitPrice.Currency)
		}
		lineTotal, err := l.UnitPrice.MulChecked(int64(l.Quantity))
		if err != nil {
			return money.Money{}, errors.Wrapf(err, "line %d", i)
		}
		if total, err = total.AddChecked(lineTotal); err != nil {
			return money.Money{}, errors.Wrap(err, "subtotal")
		}
	}
	return total, nil
}

// IsDomestic reports whether dest is inside the domestic country.
func (c *Calculator) IsDomestic(dest Destination) bool {
	country := strings.TrimSpace(dest.Country)
	return country == "" || strings.EqualFold(country, c.cfg.DomesticCountry)
}

// Shipping returns the shipping cost for a cart with the given subtotal.
// Standard shipping is free at or above the threshold; non-domestic
// destinations always pay the surcharge, except for pickup.
func (c *Calculator) Shipping(ctx context.Context, subtotal money.Money, dest Destination, method Method) (money.Money, error) {
	if method == MethodPickup {
		return money.Zero(c.cfg.Currency), nil
	}

	cost, err := c.baseCost(ctx, dest, method)
	if err != nil {
		return money.Money{}, err
	}
	if method == MethodStandard && c.cfg.FreeShippingThreshold > 0 &&
		subtotal.Amount >= c.cfg.FreeShippingThreshold {
		cost = money.Zero(c.cfg.Currency)
	}
	if !c.IsDomestic(dest) {
		cost = cost.Add(money.New(c.cfg.InternationalSurcharge, c.cfg.Currency))
	}
	return cost, nil
}

func (c *Calculator) baseCost(ctx context.Context, dest Destination, method Method) (money.Money, error) {
	key := quoteKey(dest, method)
	if c.cache != nil {
		if cost, ok := c.cache.get(key); ok {
			return cost, nil
		}
	}
	cost, err := c.shipping.BaseCost(ctx, dest, method)
	if err != nil {
		return money.Money{}, errors.Wrap(err, "shipping rate")
	}
	if cost.Currency != c.cfg.Currency {
		return money.Money{}, errors.Wrapf(money.ErrCurrencyMismatch, "shipping rate in %s", cost.Currency)
	}
	if c.cache != nil {
		c.cache.set(key, cost)
	}
	return cost, nil
}

// Tax returns the tax owed on the taxable amount at the destination's rate,
// rounded once half-up.
func (c *Calculator) Tax(ctx context.Context, taxable money.Money, dest Destination) (money.Money, error) {
	if taxable.Amount <= 0 {
		return money.Zero(c.cfg.Currency), nil
	}
	rate, err := c.taxes.Rate(ctx, dest)
	if err != nil {
		return money.Money{}, errors.Wrap(err, "tax rate")
	}
	return taxable.Percent(rate), nil
}

// Quote prices a cart. Tax is computed on the subtotal after discount. An
// empty cart prices to zero.
func (c *Calculator) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	zero := money.Zero(c.cfg.Currency)
	if len(req.Lines) == 0 {
		return Quote{Subtotal: zero, Shipping: zero, Discount: zero, Tax: zero, Total: zero}, nil
	}

	subtotal, err := c.Subtotal(req.Lines)
	if err != nil {
		return Quote{}, err
	}

	discount := req.Discount
	if discount.Currency == "" {
		discount = zero
	}
	discount = discount.Clamp(zero, subtotal)

	shipping := zero
	if !req.ShippingWaived {
		if shipping, err = c.Shipping(ctx, subtotal, req.Destination, req.Method); err != nil {
			return Quote{}, err
		}
	}

	tax, err := c.Tax(ctx, subtotal.Sub(discount), req.Destination)
	if err != nil {
		return Quote{}, err
	}

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Discount: discount,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax).Sub(discount),
	}, nil
}

func quoteKey(dest Destination, method Method) string {
	return strings.ToUpper(dest.Country) + "|" + strings.ToUpper(dest.State) + "|" + string(method)
}

type cachedQuote struct {
	cost      money.Money
	expiresAt time.Time
}

// maxQuoteEntries bounds the cache; destinations come from client input.
const maxQuoteEntries = 4096

// quoteCache memoizes base shipping costs for a TTL. Expired entries are
// swept at most once per TTL on writes.
type quoteCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	entries   map[string]cachedQuote
	nextSweep time.Time
}

func newQuoteCache(ttl time.Duration, now func() time.Time) *quoteCache {
	return &quoteCache{ttl: ttl, now: now, entries: make(map[string]cachedQuote)}
}

func (c *quoteCache) get(key string) (money.Money, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return money.Money{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return money.Money{}, false
	}
	return e.cost, true
}

func (c *quoteCache) set(key string, cost money.Money) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !now.Before(c.nextSweep) || len(c.entries) >= maxQuoteEntries {
		c.sweep(now)
	}
	if _, ok := c.entries[key]; !ok && len(c.entries) >= maxQuoteEntries {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = cachedQuote{cost: cost, expiresAt: now.Add(c.ttl)}
}

func (c *quoteCache) sweep(now time.Time) {
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.nextSweep = now.Add(c.ttl)
}

func (c *quoteCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
