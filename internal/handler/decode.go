package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// decodeBody reads a JSON object from the request body, calling fn for every
// key. Malformed JSON becomes a validation error on "body".
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return &order.ValidationError{Field: "body", Reason: "cannot read request body", Err: err}
	}
	if err := jx.DecodeBytes(body).Obj(fn); err != nil {
		var ve *order.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return &order.ValidationError{Field: "body", Reason: "malformed JSON", Err: err}
	}
	return nil
}

// str decodes a string or null.
func str(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	*dst = v
	return err
}

func integer(d *jx.Decoder, dst *int64) error {
	v, err := d.Int64()
	*dst = v
	return err
}

func boolean(d *jx.Decoder, dst *bool) error {
	v, err := d.Bool()
	*dst = v
	return err
}

func decodeAddress(d *jx.Decoder, a *order.Address) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "first_name":
			return str(d, &a.FirstName)
		case "last_name":
			return str(d, &a.LastName)
		case "company":
			return str(d, &a.Company)
		case "line1":
			return str(d, &a.Line1)
		case "line2":
			return str(d, &a.Line2)
		case "city":
			return str(d, &a.City)
		case "state":
			return str(d, &a.State)
		case "postal_code":
			return str(d, &a.PostalCode)
		case "country":
			return str(d, &a.Country)
		case "phone":
			return str(d, &a.Phone)
		case "residential":
			return boolean(d, &a.Residential)
		default:
			return d.Skip()
		}
	})
}

func decodeItem(d *jx.Decoder) (order.ItemInput, error) {
	var (
		it  order.ItemInput
		qty int64
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id":
			return str(d, &it.ProductID)
		case "sku":
			return str(d, &it.SKU)
		case "name":
			return str(d, &it.Name)
		case "image_url":
			return str(d, &it.ImageURL)
		case "unit_price":
			return integer(d, &it.UnitPrice)
		case "quantity":
			return integer(d, &qty)
		default:
			return d.Skip()
		}
	})
	it.Quantity = int(qty)
	return it, err
}

func decodeCreateOrder(d *jx.Decoder, key string, req *order.CreateOrderRequest) error {
	switch key {
	case "customer":
		return d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "id":
				return str(d, &req.Customer.ID)
			case "email":
				return str(d, &req.Customer.Email)
			case "phone":
				return str(d, &req.Customer.Phone)
			default:
				return d.Skip()
			}
		})
	case "billing_address":
		return decodeAddress(d, &req.BillingAddress)
	case "shipping_address":
		return decodeAddress(d, &req.ShippingAddress)
	case "items":
		return d.Arr(func(d *jx.Decoder) error {
			it, err := decodeItem(d)
			if err != nil {
				return err
			}
			req.Items = append(req.Items, it)
			return nil
		})
	case "shipping_method":
		return str(d, &req.ShippingMethod)
	case "quoted_shipping":
		if d.Next() == jx.Null {
			return d.Null()
		}
		var v int64
		if err := integer(d, &v); err != nil {
			return err
		}
		req.QuotedShipping = &v
		return nil
	case "payment_method":
		return str(d, &req.PaymentMethod)
	case "promo_code":
		return str(d, &req.PromoCode)
	case "referral_eligible":
		return boolean(d, &req.ReferralEligible)
	case "notes":
		return str(d, &req.Notes)
	case "idempotency_key":
		return str(d, &req.IdempotencyKey)
	default:
		return d.Skip()
	}
}

// decodeQuantities reads [{"item_id": "...", "quantity": n}, ...].
func decodeQuantities(d *jx.Decoder, dst map[string]int) error {
	return d.Arr(func(d *jx.Decoder) error {
		var (
			id  string
			qty int64
		)
		err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "item_id":
				return str(d, &id)
			case "quantity":
				return integer(d, &qty)
			default:
				return d.Skip()
			}
		})
		if err != nil {
			return err
		}
		dst[id] += int(qty)
		return nil
	})
}
