package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/mercadochaco/storefront/internal/domain/cart"
	"github.com/mercadochaco/storefront/internal/domain/order"
	"github.com/mercadochaco/storefront/internal/domain/product"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// money writes a decimal as a JSON number with two decimals.
func money(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	base := h.imageBaseURL
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("slug", func(e *jx.Encoder) { e.Str(p.Slug) })
		e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("image", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("thumbnail", func(e *jx.Encoder) { e.Str(base + p.Image.Thumbnail) })
				e.Field("mobile", func(e *jx.Encoder) { e.Str(base + p.Image.Mobile) })
				e.Field("tablet", func(e *jx.Encoder) { e.Str(base + p.Image.Tablet) })
				e.Field("desktop", func(e *jx.Encoder) { e.Str(base + p.Image.Desktop) })
			})
		})
	})
}

func (h *Handler) encodeCart(e *jx.Encoder, v cart.View) {
	lines := v.Lines()
	e.Obj(func(e *jx.Encoder) {
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range lines {
					h.encodeLine(e, l)
				}
			})
		})
		e.Field("count", func(e *jx.Encoder) { e.Int(cart.Count(lines)) })
		e.Field("total", func(e *jx.Encoder) { money(e, cart.Total(lines)) })
	})
}

func (h *Handler) encodeLine(e *jx.Encoder, l cart.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		if p := l.Product; p != nil {
			e.Field("product", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
					e.Field("price", func(e *jx.Encoder) { money(e, p.Price) })
					e.Field("thumbnail", func(e *jx.Encoder) { e.Str(h.imageBaseURL + p.Thumbnail) })
					e.Field("slug", func(e *jx.Encoder) { e.Str(p.Slug) })
				})
			})
		}
		e.Field("subtotal", func(e *jx.Encoder) { money(e, l.Subtotal()) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order, lines []order.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("total", func(e *jx.Encoder) { money(e, o.Total) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(l.ProductID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("unitPrice", func(e *jx.Encoder) { money(e, l.UnitPrice) })
					})
				}
			})
		})
	})
}

// addLineRequest is the body of POST /cart/lines.
type addLineRequest struct {
	ProductID string
	Quantity  int
	Product   *product.Snapshot
}

// decodeBody reads at most maxBodyBytes of r's body and passes it to fn.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return badRequest("request body too large", err)
	}
	if err := fn(jx.DecodeBytes(data)); err != nil {
		return badRequest("invalid request body", err)
	}
	return nil
}

func decodeAddLine(d *jx.Decoder) (addLineRequest, error) {
	req := addLineRequest{Quantity: 1}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "productId":
			v, err := d.Str()
			req.ProductID = v
			return err
		case "quantity":
			v, err := d.Int()
			req.Quantity = v
			return err
		case "product":
			if d.Next() == jx.Null {
				return d.Null()
			}
			snap, err := decodeSnapshot(d)
			if err != nil {
				return err
			}
			req.Product = &snap
			return nil
		default:
			return d.Skip()
		}
	})
	return req, err
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
			var raw string
			switch d.Next() {
			case jx.String:
				v, err := d.Str()
				if err != nil {
					return err
				}
				raw = v
			default:
				v, err := d.Num()
				if err != nil {
					return err
				}
				raw = v.String()
			}
			p, err := decimal.NewFromString(raw)
			if err != nil {
				return errors.Wrap(err, "price")
			}
			if p.IsNegative() {
				return errors.New("price must not be negative")
			}
			s.Price = p
			return nil
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

func decodeQuantity(d *jx.Decoder) (int, error) {
	var (
		quantity int
		seen     bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		quantity, seen = v, true
		return err
	})
	if err == nil && !seen {
		err = errors.New("quantity required")
	}
	return quantity, err
}
