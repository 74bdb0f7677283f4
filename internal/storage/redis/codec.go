package redis

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/mercadochaco/storefront/internal/domain/cart"
	"github.com/mercadochaco/storefront/internal/domain/product"
)

// encodeLines writes lines as
// [{"productId":"..","quantity":n,"product":{"name":..,"price":"..",..}}].
// Prices are strings so no precision is lost.
func encodeLines(lines []cart.Line) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, l := range lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		if l.Product != nil {
			e.FieldStart("product")
			e.ObjStart()
			e.FieldStart("name")
			e.Str(l.Product.Name)
			e.FieldStart("price")
			e.Str(l.Product.Price.String())
			e.FieldStart("thumbnail")
			e.Str(l.Product.Thumbnail)
			e.FieldStart("slug")
			e.Str(l.Product.Slug)
			e.ObjEnd()
		}
		e.ObjEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

// decodeLines parses the encodeLines format. Unknown fields are skipped and a
// null product is treated as absent.
func decodeLines(data []byte) ([]cart.Line, error) {
	var lines []cart.Line
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		var l cart.Line
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			switch key {
			case "productId":
				v, err := d.Str()
				l.ProductID = v
				return err
			case "quantity":
				v, err := d.Int()
				l.Quantity = v
				return err
			case "product":
				if d.Next() == jx.Null {
					return d.Null()
				}
				snap, err := decodeSnapshot(d)
				if err != nil {
					return errors.Wrap(err, "product")
				}
				l.Product = &snap
				return nil
			default:
				return d.Skip()
			}
		}); err != nil {
			return err
		}
		lines = append(lines, l)
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode cart lines")
	}
	return lines, nil
}

func decodeSnapshot(d *jx.Decoder) (product.Snapshot, error) {
	var s product.Snapshot
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			v, err := d.Str()
			s.Name = v
			return err
		case "price":
			return decodePrice(d, &s.Price)
		case "thumbnail":
			v, err := d.Str()
			s.Thumbnail = v
			return err
		case "slug":
			v, err := d.Str()
			s.Slug = v
			return err
		default:
			return d.Skip()
		}
	})
	return s, err
}

// decodePrice accepts a JSON string or number.
func decodePrice(d *jx.Decoder, dst *decimal.Decimal) error {
	var raw string
	switch d.Next() {
	case jx.String:
		v, err := d.Str()
		if err != nil {
			return err
		}
		raw = v
	case jx.Number:
		v, err := d.Num()
		if err != nil {
			return err
		}
		raw = v.String()
	default:
		return d.Skip()
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return errors.Wrapf(err, "price %q", raw)
	}
	*dst = p
	return nil
}
