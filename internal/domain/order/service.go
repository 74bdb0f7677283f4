package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/cart"
)

// Sentinel errors for checkout.
var (
	ErrNotAuthenticated = errors.New("sign in to continue to payment")
	ErrNoValidItems     = errors.New("cart has no valid items")
)

// PaymentHandoff passes a freshly created order to the payment component and
// returns where the buyer should continue.
type PaymentHandoff interface {
	Handoff(ctx context.Context, orderID string) (string, error)
}

// NopHandoff accepts every order and returns no location.
type NopHandoff struct{}

// Handoff implements PaymentHandoff.
func (NopHandoff) Handoff(context.Context, string) (string, error) { return "", nil }

// ContinuePaymentRequest holds the input for starting a checkout.
type ContinuePaymentRequest struct {
	BuyerID string
	Cart    cart.Snapshot
}

// ContinuePaymentResult holds the output of a started checkout.
type ContinuePaymentResult struct {
	Order      *Order
	Lines      []Line
	PaymentURL string
}

// Option configures a Service.
type Option func(*Service)

// WithPaymentHandoff sets the component that receives created orders.
func WithPaymentHandoff(h PaymentHandoff) Option {
	return func(s *Service) { s.handoff = h }
}

// WithMeterProvider sets the meter provider for checkout counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// Service turns a cart into a pending order.
type Service struct {
	orders  Repository
	handoff PaymentHandoff

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	created        metric.Int64Counter
	rollbacks      metric.Int64Counter
}

// NewService creates an order Service.
func NewService(orders Repository, opts ...Option) (*Service, error) {
	s := &Service{
		orders:         orders,
		handoff:        NopHandoff{},
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	const scope = "github.com/mercadochaco/storefront/internal/domain/order"
	meter := s.meterProvider.Meter(scope)
	s.tracer = s.tracerProvider.Tracer(scope)

	var err error
	if s.created, err = meter.Int64Counter("checkout.orders.created",
		metric.WithDescription("Orders created by checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "orders created counter")
	}
	if s.rollbacks, err = meter.Int64Counter("checkout.rollbacks",
		metric.WithDescription("Order headers deleted after a failed checkout"),
	); err != nil {
		return nil, errors.Wrap(err, "rollbacks counter")
	}
	return s, nil
}

// ContinuePayment creates a pending order from the cart snapshot and hands it
// to payment.
//
// The header and lines are written separately. When no line survives
// validation, or the line insert fails, the header is deleted again. A failed
// handoff keeps the order, since it is complete and pending, and returns the
// result together with the error.
//
// Calls are not deduplicated: two calls with the same snapshot create two
// orders.
func (s *Service) ContinuePayment(ctx context.Context, req ContinuePaymentRequest) (_ *ContinuePaymentResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ContinuePayment")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
	}()

	if req.BuyerID == "" {
		return nil, ErrNotAuthenticated
	}
	lg := zctx.From(ctx).With(zap.String("buyer_id", req.BuyerID))

	lines := projectLines(req.Cart.Lines)
	o := &Order{
		BuyerID: req.BuyerID,
		Total:   orderTotal(req.Cart, lines),
		Status:  StatusPending,
	}
	id, err := s.orders.Create(ctx, o)
	if err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	o.ID = id
	span.SetAttributes(attribute.String("order.id", id))

	for i := range lines {
		lines[i].OrderID = id
	}
	if len(lines) == 0 {
		return nil, s.rollback(ctx, lg, id, ErrNoValidItems)
	}
	if err := s.orders.InsertLines(ctx, lines); err != nil {
		return nil, s.rollback(ctx, lg, id, errors.Wrap(err, "insert order lines"))
	}

	s.created.Add(ctx, 1)
	lg.Info("Order created",
		zap.String("order_id", id),
		zap.Int("lines", len(lines)),
		zap.String("total", o.Total.StringFixed(2)),
	)

	result := &ContinuePaymentResult{Order: o, Lines: lines}
	location, err := s.handoff.Handoff(ctx, id)
	if err != nil {
		return result, errors.Wrapf(err, "hand off order %s", id)
	}
	result.PaymentURL = location
	return result, nil
}

// Get returns a buyer's order with its lines.
func (s *Service) Get(ctx context.Context, buyerID, orderID string) (*Order, []Line, error) {
	if buyerID == "" {
		return nil, nil, ErrNotAuthenticated
	}
	o, err := s.orders.Get(ctx, buyerID, orderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get order")
	}
	lines, err := s.orders.GetLines(ctx, orderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "get order lines")
	}
	return o, lines, nil
}

// rollback deletes the header of a failed checkout and returns cause, with
// any delete failure appended.
func (s *Service) rollback(ctx context.Context, lg *zap.Logger, orderID string, cause error) error {
	s.rollbacks.Add(ctx, 1)
	if err := s.orders.Delete(ctx, orderID); err != nil {
		lg.Error("Order rollback failed", zap.String("order_id", orderID), zap.Error(err))
		return multierr.Append(cause, errors.Wrapf(err, "delete order %s", orderID))
	}
	lg.Warn("Order rolled back", zap.String("order_id", orderID), zap.Error(cause))
	return cause
}

// orderTotal trusts the store's total when it is present, non-negative and
// every cart line was ordered. Otherwise it sums the ordered lines.
func orderTotal(c cart.Snapshot, ordered []Line) decimal.Decimal {
	if c.Total.Valid && !c.Total.Decimal.IsNegative() && len(ordered) == len(c.Lines) {
		return c.Total.Decimal.Round(2)
	}
	total := decimal.Zero
	for _, l := range ordered {
		total = total.Add(l.Subtotal())
	}
	return total.Round(2)
}

// projectLines keeps the lines that can be ordered: a product id, a positive
// quantity and a price from the catalog.
func projectLines(lines []cart.Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity <= 0 || !l.FromCatalog {
			continue
		}
		price := l.UnitPrice()
		if price.IsNegative() {
			price = decimal.Zero
		}
		out = append(out, Line{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: price,
		})
	}
	return out
}
