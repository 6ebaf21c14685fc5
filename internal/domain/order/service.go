package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/payment"
	"github.com/xenking/oolio-orders/internal/domain/pricing"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/internal/domain/promo"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Service owns order creation and every order mutation.
type Service struct {
	orders   Repository
	pricing  *pricing.Calculator
	promos   *promo.Resolver
	numbers  *NumberGenerator
	locks    *Locker
	products product.Repository
	gateway  payment.Gateway
	notifier Notifier
	inst     *instruments
	now      func() time.Time
}

// Option configures optional Service collaborators.
type Option func(*serviceOptions)

type serviceOptions struct {
	numberPrefix   string
	products       product.Repository
	gateway        payment.Gateway
	notifier       Notifier
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	now            func() time.Time
}

// WithNumberPrefix sets the order number prefix.
func WithNumberPrefix(prefix string) Option {
	return func(o *serviceOptions) { o.numberPrefix = prefix }
}

// WithProductCatalog makes the catalog authoritative for item prices and
// names.
func WithProductCatalog(products product.Repository) Option {
	return func(o *serviceOptions) { o.products = products }
}

// WithGateway enables StartPayment, ConfirmPayment and gateway refunds.
func WithGateway(g payment.Gateway) Option {
	return func(o *serviceOptions) { o.gateway = g }
}

// WithNotifier sets the event notifier.
func WithNotifier(n Notifier) Option {
	return func(o *serviceOptions) { o.notifier = n }
}

// WithTelemetry sets the tracer and meter providers.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(o *serviceOptions) {
		o.tracerProvider = tp
		o.meterProvider = mp
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

// NewService creates an order Service.
func NewService(orders Repository, calc *pricing.Calculator, promos *promo.Resolver, opts ...Option) (*Service, error) {
	o := serviceOptions{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	inst, err := newInstruments(o.tracerProvider, o.meterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "create instruments")
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, Event) error { return nil })
	}

	numbers := NewNumberGenerator(o.numberPrefix, orders)
	numbers.now = o.now

	return &Service{
		orders:   orders,
		pricing:  calc,
		promos:   promos,
		numbers:  numbers,
		locks:    NewLocker(),
		products: o.products,
		gateway:  o.gateway,
		notifier: notifier,
		inst:     inst,
		now:      func() time.Time { return o.now().UTC() },
	}, nil
}

// CreateOrder validates the cart, prices it, resolves the discount and
// stores a new pending order. Replaying an idempotency key returns the order
// created by the first request.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.inst.start(ctx, "create", attribute.Int("items", len(req.Items)))
	defer func() { s.inst.end(ctx, span, "create", rerr) }()
	lg := zctx.From(ctx)

	v, err := validateCreate(req)
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, key)
		switch {
		case err == nil:
			lg.Info("Order creation replayed", zap.String("order_id", existing.ID))
			return existing, nil
		case !errors.Is(err, ErrNotFound):
			return nil, persistence("lookup idempotency key", err)
		}
	}

	items, err := s.resolveItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	o, err := s.price(ctx, v, items)
	if err != nil {
		return nil, err
	}

	if o.Number, err = s.numbers.Next(ctx); err != nil {
		return nil, persistence("create order", err)
	}
	o.IdempotencyKey = key

	if err := o.CheckInvariants(); err != nil {
		lg.DPanic("Refusing to store inconsistent order", zap.Error(err))
		return nil, err
	}

	if err := s.orders.Create(ctx, o); err != nil {
		if errors.Is(err, ErrDuplicateOrder) && key != "" {
			existing, gerr := s.orders.GetByIdempotencyKey(ctx, key)
			if gerr != nil {
				return nil, persistence("create order", gerr)
			}
			return existing, nil
		}
		return nil, persistence("create order", err)
	}

	if d, ok := o.ActiveDiscount(); ok && d.Code != "" {
		if err := s.promos.Redeem(ctx, d.Code); err != nil {
			lg.Error("Promo redemption not recorded", zap.String("code", d.Code), zap.Error(err))
		}
	}

	s.inst.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("shipping_method", string(o.Shipment.Method)),
		attribute.String("payment_method", string(o.Payment.Method)),
	))
	lg.Info("Order created",
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.Int64("total", o.Total.Amount),
	)
	s.publish(ctx, EventCreated, o)
	return o, nil
}

// resolveItems fills prices and names from the product catalog when one is
// configured.
func (s *Service) resolveItems(ctx context.Context, in []ItemInput) ([]ItemInput, error) {
	items := make([]ItemInput, len(in))
	copy(items, in)
	if s.products == nil {
		return items, nil
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = strings.TrimSpace(it.ProductID)
	}
	found, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, persistence("get products", err)
	}
	byID := make(map[string]product.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	for i := range items {
		p, ok := byID[ids[i]]
		if !ok {
			return nil, &ValidationError{Field: "items", Reason: "product " + ids[i] + " not found", Err: product.ErrNotFound}
		}
		if p.Price.Currency != s.pricing.Currency() {
			return nil, invalid("items", "product "+p.ID+" is not sold in "+s.pricing.Currency())
		}
		items[i].ProductID = p.ID
		items[i].UnitPrice = p.Price.Amount
		items[i].Name = p.Name
		items[i].SKU = p.SKU
		items[i].ImageURL = p.ImageURL
	}
	return items, nil
}

// price builds the order aggregate with all monetary fields computed.
func (s *Service) price(ctx context.Context, v validatedRequest, inputs []ItemInput) (*Order, error) {
	cur := s.pricing.Currency()
	now := s.now()

	lines := make([]pricing.Line, len(inputs))
	for i, it := range inputs {
		lines[i] = pricing.Line{UnitPrice: money.New(it.UnitPrice, cur), Quantity: it.Quantity}
	}
	subtotal, err := s.pricing.Subtotal(lines)
	if err != nil {
		return nil, &ValidationError{Field: "items", Reason: err.Error(), Err: err}
	}

	shipTo := normalizeAddress(v.ShippingAddress)
	dest := shipTo.Destination()
	shipping, err := s.pricing.Shipping(ctx, subtotal, dest, v.shippingMethod)
	if err != nil {
		if errors.Is(err, pricing.ErrUnknownMethod) {
			return nil, &ValidationError{Field: "shipping_method", Reason: err.Error(), Err: err}
		}
		return nil, errors.Wrap(err, "price shipping")
	}
	if v.QuotedShipping != nil && *v.QuotedShipping != shipping.Amount {
		return nil, invalid("quoted_shipping", "shipping quote is out of date, current cost is "+shipping.String())
	}

	res, err := s.promos.Resolve(ctx, promo.Request{
		Subtotal:         subtotal,
		Shipping:         shipping,
		Code:             v.PromoCode,
		ReferralEligible: v.ReferralEligible,
	})
	if err != nil {
		switch {
		case errors.Is(err, promo.ErrInvalidSyntax), errors.Is(err, promo.ErrUnknownCode),
			errors.Is(err, promo.ErrExpired), errors.Is(err, promo.ErrUsageLimitReached):
			return nil, &ValidationError{Field: "promo_code", Reason: err.Error(), Err: err}
		default:
			return nil, persistence("resolve promo code", err)
		}
	}

	zero := money.Zero(cur)
	discount := res.Amount
	if res.ShippingWaived {
		shipping = zero
	}

	tax, err := s.pricing.Tax(ctx, subtotal.Sub(discount), dest)
	if err != nil {
		return nil, errors.Wrap(err, "price tax")
	}

	items := buildItems(inputs, cur, discount, tax)

	o := &Order{
		ID: uuid.New().String(),
		Customer: Customer{
			ID:    strings.TrimSpace(v.Customer.ID),
			Email: strings.ToLower(strings.TrimSpace(v.Customer.Email)),
			Phone: strings.TrimSpace(v.Customer.Phone),
		},
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentUnfulfilled,
		Currency:          cur,
		Subtotal:          subtotal,
		ShippingTotal:     shipping,
		TaxTotal:          tax,
		DiscountTotal:     discount,
		Total:             subtotal.Add(shipping).Add(tax).Sub(discount),
		TotalRefunded:     zero,
		Items:             items,
		BillingAddress:    normalizeAddress(v.BillingAddress),
		ShippingAddress:   shipTo,
		Payment:           Payment{Method: v.paymentMethod, Amount: zero},
		Shipment:          Shipment{Method: v.shippingMethod, Cost: shipping},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if res.Applied() {
		o.Discounts = []Discount{{
			Code:        res.Code,
			Kind:        res.Kind,
			Value:       res.Value,
			AmountSaved: res.Saved,
			Description: res.Description,
			Referral:    res.Referral,
			Active:      true,
			CreatedAt:   now,
		}}
	}
	if note := strings.TrimSpace(v.Notes); note != "" {
		o.Notes = []Note{{Body: note, CreatedAt: now}}
	}
	return o, nil
}

// buildItems computes item amounts, spreading the order discount by item
// subtotal and the tax by discounted item subtotal.
func buildItems(inputs []ItemInput, cur string, discount, tax money.Money) []Item {
	subtotals := make([]int64, len(inputs))
	for i, it := range inputs {
		subtotals[i] = it.UnitPrice * int64(it.Quantity)
	}
	discounts := money.Allocate(discount.Amount, subtotals)

	taxable := make([]int64, len(inputs))
	for i := range inputs {
		taxable[i] = subtotals[i] - discounts[i]
	}
	taxes := money.Allocate(tax.Amount, taxable)

	items := make([]Item, len(inputs))
	for i, it := range inputs {
		items[i] = Item{
			ID:                uuid.New().String(),
			ProductID:         strings.TrimSpace(it.ProductID),
			SKU:               strings.TrimSpace(it.SKU),
			Name:              strings.TrimSpace(it.Name),
			ImageURL:          strings.TrimSpace(it.ImageURL),
			UnitPrice:         money.New(it.UnitPrice, cur),
			Quantity:          it.Quantity,
			Subtotal:          money.New(subtotals[i], cur),
			Discount:          money.New(discounts[i], cur),
			Tax:               money.New(taxes[i], cur),
			Total:             money.New(subtotals[i]-discounts[i]+taxes[i], cur),
			FulfillmentStatus: FulfillmentUnfulfilled,
		}
	}
	return items
}

// GetOrderByID returns an order.
func (s *Service) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, repoError("get order", err)
	}
	return o, nil
}

// ListCustomerOrders returns a customer's orders, newest first.
func (s *Service) ListCustomerOrders(ctx context.Context, email string, f ListFilter) ([]*Order, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if f.Status != "" {
		if _, err := ParseStatus(string(f.Status)); err != nil {
			return nil, &ValidationError{Field: "status", Reason: err.Error()}
		}
	}
	if f.Offset < 0 {
		return nil, invalid("offset", "must not be negative")
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}

	orders, err := s.orders.ListByCustomer(ctx, email, f)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	return orders, nil
}

func repoError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return persistence(op, err)
}

// publish notifies without letting delivery affect the caller.
func (s *Service) publish(ctx context.Context, kind EventKind, o *Order) {
	e := Event{
		ID:         ulid.Make().String(),
		Kind:       kind,
		Order:      o.Clone(),
		OccurredAt: s.now(),
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), e); err != nil {
		zctx.From(ctx).Error("Notification failed",
			zap.String("event", string(kind)),
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// change describes the side records of a mutation.
type change struct {
	events []EventKind
	refund *Refund
	note   *Note
	// result is returned to the caller after the change is stored.
	result error
	// noop skips persistence.
	noop bool
}

// mutate runs fn on a copy of the order under the order's lock, verifies the
// invariants and stores the result with an optimistic version check.
func (s *Service) mutate(ctx context.Context, op, id string, fn func(ctx context.Context, o *Order, now time.Time) (change, error)) (_ *Order, rerr error) {
	ctx, span := s.inst.start(ctx, op, attribute.String("order.id", id))
	defer func() {
		var pe *PaymentError
		if errors.As(rerr, &pe) && pe.Cancelled {
			s.inst.end(ctx, span, op, nil)
			return
		}
		s.inst.end(ctx, span, op, rerr)
	}()
	lg := zctx.From(ctx).With(zap.String("order_id", id), zap.String("op", op))

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("id", "is required")
	}

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	defer unlock()

	current, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, repoError("get order", err)
	}

	next := current.Clone()
	ch, err := fn(ctx, next, s.now())
	if err != nil {
		lg.Warn("Order operation rejected", zap.Error(err))
		return nil, err
	}
	if ch.noop {
		return current, ch.result
	}

	if err := next.CheckInvariants(); err != nil {
		lg.DPanic("Order operation would break invariants", zap.Error(err))
		return nil, err
	}

	patch := PatchFrom(next, current.Version)
	patch.AddRefund = ch.refund
	patch.AddNote = ch.note

	updated, err := s.orders.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, ErrDuplicateRefund) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, persistence("update order", err)
	}

	if current.Status != updated.Status {
		s.inst.transition(ctx, "order", string(current.Status), string(updated.Status))
		lg.Info("Order status changed",
			zap.String("from", string(current.Status)),
			zap.String("to", string(updated.Status)),
		)
	}
	if current.PaymentStatus != updated.PaymentStatus {
		s.inst.transition(ctx, "payment", string(current.PaymentStatus), string(updated.PaymentStatus))
	}
	if current.FulfillmentStatus != updated.FulfillmentStatus {
		s.inst.transition(ctx, "fulfillment", string(current.FulfillmentStatus), string(updated.FulfillmentStatus))
	}
	for _, kind := range ch.events {
		s.publish(ctx, kind, updated)
	}
	return updated, ch.result
}

// statusEvent returns the event emitted when an order enters status.
func statusEvent(status Status) (EventKind, bool) {
	switch status {
	case StatusPaid:
		return EventPaid, true
	case StatusShipped:
		return EventShipped, true
	case StatusDelivered:
		return EventDelivered, true
	case StatusCancelled:
		return EventCancelled, true
	case StatusRefunded, StatusPartiallyRefunded:
		return EventRefunded, true
	default:
		return "", false
	}
}
