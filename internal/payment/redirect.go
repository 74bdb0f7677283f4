// Package payment connects created orders to the external QR payment page.
package payment

import (
	"context"
	"net/url"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/order"
)

var _ order.PaymentHandoff = (*Redirector)(nil)

// Redirector hands an order off by pointing the buyer at <base>/<orderID>.
// It keeps no state; the payment page owns everything after the redirect.
type Redirector struct {
	base *url.URL
}

// NewRedirector parses base, which must be an absolute http(s) URL.
func NewRedirector(base string) (*Redirector, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(err, "parse payment base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.Errorf("payment base url %q must be absolute http(s)", base)
	}
	return &Redirector{base: u}, nil
}

// Handoff implements order.PaymentHandoff.
func (r *Redirector) Handoff(ctx context.Context, orderID string) (string, error) {
	if orderID == "" {
		return "", errors.New("order id required")
	}
	location := r.base.JoinPath(orderID).String()
	zctx.From(ctx).Debug("Payment handoff", zap.String("order_id", orderID), zap.String("location", location))
	return location, nil
}
