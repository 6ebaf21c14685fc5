package handler

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/payment"
)

// Amounts are encoded as integers in minor units of the order currency.

func field(e *jx.Encoder, name string, v string) {
	e.FieldStart(name)
	e.Str(v)
}

func fieldInt(e *jx.Encoder, name string, v int64) {
	e.FieldStart(name)
	e.Int64(v)
}

func fieldTime(e *jx.Encoder, name string, t time.Time) {
	e.FieldStart(name)
	e.Str(t.UTC().Format(time.RFC3339))
}

// fieldOptTime writes null for nil.
func fieldOptTime(e *jx.Encoder, name string, t *time.Time) {
	if t == nil {
		e.FieldStart(name)
		e.Null()
		return
	}
	fieldTime(e, name, *t)
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	field(e, "id", o.ID)
	field(e, "number", o.Number)

	e.FieldStart("customer")
	e.ObjStart()
	field(e, "id", o.Customer.ID)
	field(e, "email", o.Customer.Email)
	field(e, "phone", o.Customer.Phone)
	e.ObjEnd()

	field(e, "status", string(o.Status))
	field(e, "payment_status", string(o.PaymentStatus))
	field(e, "fulfillment_status", string(o.FulfillmentStatus))
	field(e, "currency", o.Currency)
	fieldInt(e, "subtotal", o.Subtotal.Amount)
	fieldInt(e, "shipping_total", o.ShippingTotal.Amount)
	fieldInt(e, "tax_total", o.TaxTotal.Amount)
	fieldInt(e, "discount_total", o.DiscountTotal.Amount)
	fieldInt(e, "total", o.Total.Amount)
	fieldInt(e, "total_refunded", o.TotalRefunded.Amount)

	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		field(e, "id", it.ID)
		field(e, "product_id", it.ProductID)
		field(e, "sku", it.SKU)
		field(e, "name", it.Name)
		field(e, "image_url", it.ImageURL)
		fieldInt(e, "unit_price", it.UnitPrice.Amount)
		fieldInt(e, "quantity", int64(it.Quantity))
		fieldInt(e, "subtotal", it.Subtotal.Amount)
		fieldInt(e, "discount", it.Discount.Amount)
		fieldInt(e, "tax", it.Tax.Amount)
		fieldInt(e, "total", it.Total.Amount)
		field(e, "fulfillment_status", string(it.FulfillmentStatus))
		fieldInt(e, "fulfilled_quantity", int64(it.FulfilledQuantity))
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("billing_address")
	encodeAddress(e, o.BillingAddress)
	e.FieldStart("shipping_address")
	encodeAddress(e, o.ShippingAddress)

	p := o.Payment
	e.FieldStart("payment")
	e.ObjStart()
	field(e, "method", string(p.Method))
	field(e, "intent_id", p.IntentID)
	field(e, "charge_id", p.ChargeID)
	fieldInt(e, "amount", p.Amount.Amount)
	field(e, "card_brand", p.CardBrand)
	field(e, "card_last4", p.CardLast4)
	field(e, "receipt_url", p.ReceiptURL)
	field(e, "failure_message", p.FailureMessage)
	fieldOptTime(e, "paid_at", p.PaidAt)
	e.ObjEnd()

	s := o.Shipment
	e.FieldStart("shipment")
	e.ObjStart()
	field(e, "method", string(s.Method))
	fieldInt(e, "cost", s.Cost.Amount)
	field(e, "carrier", s.Carrier)
	field(e, "tracking_number", s.TrackingNumber)
	field(e, "tracking_url", s.TrackingURL)
	fieldOptTime(e, "shipped_at", s.ShippedAt)
	fieldOptTime(e, "delivered_at", s.DeliveredAt)
	e.ObjEnd()

	e.FieldStart("discounts")
	e.ArrStart()
	for _, d := range o.Discounts {
		e.ObjStart()
		field(e, "code", d.Code)
		field(e, "kind", string(d.Kind))
		field(e, "value", d.Value.String())
		fieldInt(e, "amount_saved", d.AmountSaved.Amount)
		field(e, "description", d.Description)
		e.FieldStart("referral")
		e.Bool(d.Referral)
		e.FieldStart("active")
		e.Bool(d.Active)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("refunds")
	e.ArrStart()
	for _, rf := range o.Refunds {
		e.ObjStart()
		field(e, "id", rf.ID)
		fieldInt(e, "amount", rf.Amount.Amount)
		field(e, "reason", rf.Reason)
		field(e, "status", string(rf.Status))
		field(e, "gateway_refund_id", rf.GatewayRefundID)
		fieldTime(e, "processed_at", rf.ProcessedAt)
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("notes")
	e.ArrStart()
	for _, n := range o.Notes {
		e.ObjStart()
		field(e, "body", n.Body)
		fieldTime(e, "created_at", n.CreatedAt)
		e.ObjEnd()
	}
	e.ArrEnd()

	fieldInt(e, "version", o.Version)
	fieldTime(e, "created_at", o.CreatedAt)
	fieldTime(e, "updated_at", o.UpdatedAt)
	fieldOptTime(e, "processed_at", o.ProcessedAt)
	e.ObjEnd()
}

func encodeAddress(e *jx.Encoder, a order.Address) {
	e.ObjStart()
	field(e, "first_name", a.FirstName)
	field(e, "last_name", a.LastName)
	field(e, "company", a.Company)
	field(e, "line1", a.Line1)
	field(e, "line2", a.Line2)
	field(e, "city", a.City)
	field(e, "state", a.State)
	field(e, "postal_code", a.PostalCode)
	field(e, "country", a.Country)
	field(e, "phone", a.Phone)
	e.FieldStart("residential")
	e.Bool(a.Residential)
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []*order.Order) {
	e.ObjStart()
	e.FieldStart("orders")
	e.ArrStart()
	for _, o := range orders {
		encodeOrder(e, o)
	}
	e.ArrEnd()
	fieldInt(e, "count", int64(len(orders)))
	e.ObjEnd()
}

func encodePayment(e *jx.Encoder, o *order.Order, intent payment.Intent) {
	e.ObjStart()
	field(e, "intent_id", intent.ID)
	field(e, "client_secret", intent.ClientSecret)
	e.FieldStart("order")
	encodeOrder(e, o)
	e.ObjEnd()
}

func encodeMetrics(e *jx.Encoder, m order.OrderMetrics) {
	e.ObjStart()
	fieldTime(e, "from", m.From)
	fieldTime(e, "to", m.To)
	field(e, "currency", m.Revenue.Currency)
	fieldInt(e, "order_count", m.OrderCount)
	fieldInt(e, "revenue", m.Revenue.Amount)
	fieldInt(e, "average_order_value", m.AverageOrderValue.Amount)
	e.FieldStart("by_status")
	e.ObjStart()
	for _, s := range order.Statuses {
		fieldInt(e, string(s), m.ByStatus[s])
	}
	e.ObjEnd()
	e.ObjEnd()
}

// encodeQuote renders a single amount quote.
func encodeQuote(e *jx.Encoder, name string, amount int64, currency string) {
	e.ObjStart()
	fieldInt(e, name, amount)
	field(e, "currency", currency)
	e.ObjEnd()
}
