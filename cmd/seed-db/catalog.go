package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/mercadochaco/storefront/internal/domain/product"
)

// readCatalog loads products from a JSON array file. Files ending in .gz are
// decompressed first.
func readCatalog(path string) (_ []product.Product, rerr error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() {
		if err := f.Close(); err != nil && rerr == nil {
			rerr = errors.Wrap(err, "close catalog")
		}
	}()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return decodeCatalog(jx.Decode(r, 64<<10))
}

func decodeCatalog(d *jx.Decoder) ([]product.Product, error) {
	var products []product.Product
	err := d.Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return err
		}
		if p.ID == "" {
			return errors.Errorf("product %d: id required", len(products))
		}
		products = append(products, p)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	return products, nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "slug":
			p.Slug, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "stock":
			p.Stock, err = d.Int()
		case "price":
			var raw jx.Num
			if raw, err = d.Num(); err != nil {
				return err
			}
			if p.Price, err = decimal.NewFromString(raw.String()); err != nil {
				return errors.Wrapf(err, "price of %q", p.ID)
			}
		case "image":
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "thumbnail":
					p.Image.Thumbnail, err = d.Str()
				case "mobile":
					p.Image.Mobile, err = d.Str()
				case "tablet":
					p.Image.Tablet, err = d.Str()
				case "desktop":
					p.Image.Desktop, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if p.Slug == "" {
		p.Slug = slugify(p.Name)
	}
	return p, err
}

// slugify lowercases s and joins its alphanumeric runs with dashes.
func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(c)
		default:
			dash = true
		}
	}
	return b.String()
}
