package notify

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

// EncodeEvent renders the broker payload of e.
func EncodeEvent(e order.Event) []byte {
	var enc jx.Encoder
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(e.ID)
	enc.FieldStart("type")
	enc.Str(string(e.Kind))
	enc.FieldStart("occurred_at")
	enc.Str(e.OccurredAt.UTC().Format(time.RFC3339Nano))

	o := e.Order
	enc.FieldStart("order")
	enc.ObjStart()
	enc.FieldStart("id")
	enc.Str(o.ID)
	enc.FieldStart("number")
	enc.Str(o.Number)
	enc.FieldStart("customer_email")
	enc.Str(o.Customer.Email)
	enc.FieldStart("status")
	enc.Str(string(o.Status))
	enc.FieldStart("payment_status")
	enc.Str(string(o.PaymentStatus))
	enc.FieldStart("fulfillment_status")
	enc.Str(string(o.FulfillmentStatus))
	enc.FieldStart("currency")
	enc.Str(o.Currency)
	enc.FieldStart("total")
	enc.Int64(o.Total.Amount)
	enc.FieldStart("total_refunded")
	enc.Int64(o.TotalRefunded.Amount)
	if o.Shipment.TrackingNumber != "" {
		enc.FieldStart("tracking")
		enc.ObjStart()
		enc.FieldStart("carrier")
		enc.Str(o.Shipment.Carrier)
		enc.FieldStart("number")
		enc.Str(o.Shipment.TrackingNumber)
		if o.Shipment.TrackingURL != "" {
			enc.FieldStart("url")
			enc.Str(o.Shipment.TrackingURL)
		}
		enc.ObjEnd()
	}
	enc.FieldStart("version")
	enc.Int64(o.Version)
	enc.ObjEnd()

	enc.ObjEnd()
	return enc.Bytes()
}
