package order

import (
	"context"
	"time"

	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/pricing"
)

// OrderMetrics summarizes orders created in [From, To).
type OrderMetrics struct {
	From              time.Time
	To                time.Time
	OrderCount        int64
	Revenue           money.Money
	AverageOrderValue money.Money
	ByStatus          map[Status]int64
}

// GetOrderMetrics aggregates orders created in [from, to).
func (s *Service) GetOrderMetrics(ctx context.Context, from, to time.Time) (OrderMetrics, error) {
	if from.IsZero() || to.IsZero() {
		return OrderMetrics{}, invalid("range", "from and to are required")
	}
	if !from.Before(to) {
		return OrderMetrics{}, invalid("range", "from must be before to")
	}
	from, to = from.UTC(), to.UTC()

	snap, err := s.orders.Metrics(ctx, from, to)
	if err != nil {
		return OrderMetrics{}, persistence("order metrics", err)
	}

	cur := s.pricing.Currency()
	revenue := money.New(snap.Revenue, cur)
	m := OrderMetrics{
		From:              from,
		To:                to,
		OrderCount:        snap.OrderCount,
		Revenue:           revenue,
		AverageOrderValue: money.Zero(cur),
		ByStatus:          make(map[Status]int64, len(Statuses)),
	}
	for _, st := range Statuses {
		m.ByStatus[st] = snap.ByStatus[st]
	}
	if snap.OrderCount > 0 {
		m.AverageOrderValue = revenue.DivRound(snap.OrderCount)
	}
	return m, nil
}

// ShippingQuoteRequest is the input of CalculateShipping.
type ShippingQuoteRequest struct {
	// Subtotal in minor units.
	Subtotal int64
	Address  Address
	Method   string
}

// CalculateShipping quotes the shipping cost of a cart before checkout.
func (s *Service) CalculateShipping(ctx context.Context, req ShippingQuoteRequest) (money.Money, error) {
	if req.Subtotal < 0 {
		return money.Money{}, invalid("subtotal", "must not be negative")
	}
	method, err := pricing.ParseMethod(req.Method)
	if err != nil {
		return money.Money{}, &ValidationError{Field: "shipping_method", Reason: err.Error(), Err: err}
	}
	if err := validateDestination(req.Address); err != nil {
		return money.Money{}, err
	}
	dest := normalizeAddress(req.Address).Destination()
	cost, err := s.pricing.Shipping(ctx, money.New(req.Subtotal, s.pricing.Currency()), dest, method)
	if err != nil {
		return money.Money{}, persistence("quote shipping", err)
	}
	return cost, nil
}

// CalculateTax quotes the tax owed on a taxable amount.
func (s *Service) CalculateTax(ctx context.Context, taxable int64, addr Address) (money.Money, error) {
	if taxable < 0 {
		return money.Money{}, invalid("amount", "must not be negative")
	}
	if err := validateDestination(addr); err != nil {
		return money.Money{}, err
	}
	tax, err := s.pricing.Tax(ctx, money.New(taxable, s.pricing.Currency()), normalizeAddress(addr).Destination())
	if err != nil {
		return money.Money{}, persistence("quote tax", err)
	}
	return tax, nil
}
