package db

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-orders/internal/domain/money"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/internal/domain/promo"
)

// Products decodes the product seed. Prices are minor units of cur.
func Products(cur string) ([]product.Product, error) {
	var out []product.Product
	err := jx.DecodeBytes(ProductsSeed).Arr(func(d *jx.Decoder) error {
		var (
			p     product.Product
			price int64
		)
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "id":
				p.ID, err = d.Str()
			case "sku":
				p.SKU, err = d.Str()
			case "name":
				p.Name, err = d.Str()
			case "price":
				price, err = d.Int64()
			case "category":
				p.Category, err = d.Str()
			case "image_url":
				p.ImageURL, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		}); err != nil {
			return err
		}
		p.Price = money.New(price, cur)
		out = append(out, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode products seed")
	}
	return out, nil
}

// PromoCodes decodes the promo catalog seed.
func PromoCodes() ([]promo.Rule, error) {
	var out []promo.Rule
	err := jx.DecodeBytes(PromoCodesSeed).Arr(func(d *jx.Decoder) error {
		var r promo.Rule
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "code":
				v, err := d.Str()
				r.Code = promo.Normalize(v)
				return err
			case "kind":
				v, err := d.Str()
				r.Kind = promo.Kind(v)
				return err
			case "value":
				v, err := d.Str()
				if err != nil {
					return err
				}
				r.Value, err = decimal.NewFromString(v)
				return err
			case "description":
				v, err := d.Str()
				r.Description = v
				return err
			case "max_uses":
				v, err := d.Int()
				r.MaxUses = v
				return err
			case "valid_from":
				return decodeTime(d, &r.ValidFrom)
			case "valid_until":
				return decodeTime(d, &r.ValidUntil)
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		switch r.Kind {
		case promo.KindPercentage, promo.KindFixed, promo.KindFreeShipping:
		default:
			return errors.Errorf("promo %s: unknown kind %q", r.Code, r.Kind)
		}
		if !promo.ValidSyntax(r.Code) {
			return errors.Errorf("promo %q: invalid code", r.Code)
		}
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode promo seed")
	}
	return out, nil
}

func decodeTime(d *jx.Decoder, dst **time.Time) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	v, err := d.Str()
	if err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return err
	}
	*dst = &t
	return nil
}
