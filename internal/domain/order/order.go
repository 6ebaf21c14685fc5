// Package order implements the order aggregate, its lifecycle state machine
// and the service that creates and mutates orders.
package order

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/payment"
	"github.com/xenking/oolio-orders/internal/domain/pricing"
	"github.com/xenking/oolio-orders/internal/domain/promo"
)

// Address is a postal address.
type Address struct {
	FirstName   string
	LastName    string
	Company     string
	Line1       string
	Line2       string
	City        string
	State       string
	PostalCode  string
	Country     string
	Phone       string
	Residential bool
}

// Destination returns the pricing-relevant part of the address.
func (a Address) Destination() pricing.Destination {
	return pricing.Destination{Country: a.Country, State: a.State, PostalCode: a.PostalCode}
}

// Customer identifies who placed the order.
type Customer struct {
	ID    string
	Email string
	Phone string
}

// Item is an order line.
type Item struct {
	ID        string
	ProductID string
	SKU       string
	Name      string
	ImageURL  string
	UnitPrice money.Money
	Quantity  int

	// Computed: Subtotal = UnitPrice*Quantity, Discount and Tax are the
	// item's share of the order totals, Total = Subtotal - Discount + Tax.
	Subtotal money.Money
	Discount money.Money
	Tax      money.Money
	Total    money.Money

	FulfillmentStatus FulfillmentStatus
	FulfilledQuantity int
}

// Payment records how the order is paid. The payment status lives on the
// order.
type Payment struct {
	Method         payment.Method
	IntentID       string
	ChargeID       string
	Amount         money.Money
	CardBrand      string
	CardLast4      string
	ReceiptURL     string
	FailureMessage string
	PaidAt         *time.Time
}

// Shipment records how the order ships.
type Shipment struct {
	Method         pricing.Method
	Carrier        string
	TrackingNumber string
	TrackingURL    string
	Cost           money.Money
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// Discount records a discount applied to the order. At most one is active.
type Discount struct {
	Code        string
	Kind        promo.Kind
	Value       decimal.Decimal
	AmountSaved money.Money
	Description string
	Referral    bool
	Active      bool
	CreatedAt   time.Time
}

// RefundStatus is the state of a refund record.
type RefundStatus string

const (
	RefundCompleted RefundStatus = "completed"
	RefundPending   RefundStatus = "pending"
)

// Refund is an immutable refund record. ID doubles as the idempotency key.
type Refund struct {
	ID              string
	Amount          money.Money
	Reason          string
	Status          RefundStatus
	GatewayRefundID string
	ProcessedAt     time.Time
}

// Note is an admin note.
type Note struct {
	Body      string
	CreatedAt time.Time
}

// Order is the order aggregate.
type Order struct {
	ID       string
	Number   string
	Customer Customer

	Status            Status
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus

	Currency      string
	Subtotal      money.Money
	ShippingTotal money.Money
	TaxTotal      money.Money
	DiscountTotal money.Money
	Total         money.Money
	TotalRefunded money.Money

	Items           []Item
	BillingAddress  Address
	ShippingAddress Address
	Payment         Payment
	Shipment        Shipment
	Discounts       []Discount
	Refunds         []Refund
	Notes           []Note

	IdempotencyKey string
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ProcessedAt    *time.Time
}

// RefundableBalance is what can still be refunded.
func (o *Order) RefundableBalance() money.Money {
	return o.Total.Sub(o.TotalRefunded)
}

// ActiveDiscount returns the active discount, if any.
func (o *Order) ActiveDiscount() (Discount, bool) {
	for _, d := range o.Discounts {
		if d.Active {
			return d, true
		}
	}
	return Discount{}, false
}

// FindRefund returns the refund with the given id.
func (o *Order) FindRefund(id string) (Refund, bool) {
	for _, r := range o.Refunds {
		if r.ID == id {
			return r, true
		}
	}
	return Refund{}, false
}

// Clone returns a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.Discounts = slices.Clone(o.Discounts)
	c.Refunds = slices.Clone(o.Refunds)
	c.Notes = slices.Clone(o.Notes)
	c.Payment.PaidAt = clonePtr(o.Payment.PaidAt)
	c.Shipment.ShippedAt = clonePtr(o.Shipment.ShippedAt)
	c.Shipment.DeliveredAt = clonePtr(o.Shipment.DeliveredAt)
	c.ProcessedAt = clonePtr(o.ProcessedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ItemFulfillment is the mutable fulfillment state of an item.
type ItemFulfillment struct {
	ItemID            string
	Status            FulfillmentStatus
	FulfilledQuantity int
}

// Patch carries the mutable state of an order to the repository. Financial
// totals other than TotalRefunded never change after creation.
type Patch struct {
	// ExpectedVersion must match the stored version or the update fails with
	// ErrConflict.
	ExpectedVersion int64

	Status            Status
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	TotalRefunded     money.Money
	Payment           Payment
	Shipment          Shipment
	Items             []ItemFulfillment
	ProcessedAt       *time.Time
	UpdatedAt         time.Time

	// AddRefund is appended to the refund records. The repository rejects a
	// refund id already recorded for the order with ErrDuplicateRefund.
	AddRefund *Refund
	AddNote   *Note
}

// PatchFrom builds the patch that turns the stored version of o into o.
func PatchFrom(o *Order, expectedVersion int64) Patch {
	items := make([]ItemFulfillment, len(o.Items))
	for i, it := range o.Items {
		items[i] = ItemFulfillment{ItemID: it.ID, Status: it.FulfillmentStatus, FulfilledQuantity: it.FulfilledQuantity}
	}
	return Patch{
		ExpectedVersion:   expectedVersion,
		Status:            o.Status,
		PaymentStatus:     o.PaymentStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		TotalRefunded:     o.TotalRefunded,
		Payment:           o.Payment,
		Shipment:          o.Shipment,
		Items:             items,
		ProcessedAt:       clonePtr(o.ProcessedAt),
		UpdatedAt:         o.UpdatedAt,
	}
}

// ApplyPatch applies p to o and bumps the version. Repositories that keep
// whole aggregates use it.
func (o *Order) ApplyPatch(p Patch) {
	o.Status = p.Status
	o.PaymentStatus = p.PaymentStatus
	o.FulfillmentStatus = p.FulfillmentStatus
	o.TotalRefunded = p.TotalRefunded
	o.Payment = p.Payment
	o.Payment.PaidAt = clonePtr(p.Payment.PaidAt)
	o.Shipment = p.Shipment
	o.Shipment.ShippedAt = clonePtr(p.Shipment.ShippedAt)
	o.Shipment.DeliveredAt = clonePtr(p.Shipment.DeliveredAt)
	o.ProcessedAt = clonePtr(p.ProcessedAt)
	o.UpdatedAt = p.UpdatedAt
	for _, f := range p.Items {
		for i := range o.Items {
			if o.Items[i].ID == f.ItemID {
				o.Items[i].FulfillmentStatus = f.Status
				o.Items[i].FulfilledQuantity = f.FulfilledQuantity
			}
		}
	}
	if p.AddRefund != nil {
		o.Refunds = append(o.Refunds, *p.AddRefund)
	}
	if p.AddNote != nil {
		o.Notes = append(o.Notes, *p.AddNote)
	}
	o.Version++
}
