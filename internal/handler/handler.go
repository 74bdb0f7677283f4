// Package handler exposes the storefront over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercadochaco/storefront/internal/domain/order"
	"github.com/mercadochaco/storefront/internal/domain/product"
	"github.com/mercadochaco/storefront/internal/session"
)

// Sessions resolves the cart session of a device.
type Sessions interface {
	Get(ctx context.Context, deviceID string) (*session.Session, error)
}

// Checkout starts and reads orders.
type Checkout interface {
	ContinuePayment(ctx context.Context, req order.ContinuePaymentRequest) (*order.ContinuePaymentResult, error)
	Get(ctx context.Context, buyerID, orderID string) (*order.Order, []order.Line, error)
}

var (
	_ Sessions = (*session.Registry)(nil)
	_ Checkout = (*order.Service)(nil)
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative image paths in responses.
	ImageBaseURL string
}

// Handler serves the catalog, cart and checkout endpoints.
type Handler struct {
	products     product.Repository
	sessions     Sessions
	checkout     Checkout
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	products product.Repository,
	sessions Sessions,
	checkout Checkout,
) *Handler {
	return &Handler{
		products:     products,
		sessions:     sessions,
		checkout:     checkout,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Routes returns the API router, to be mounted under /api.
func (h *Handler) Routes(sec *SecurityHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(sec.Authenticate, Device)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &APIError{Status: http.StatusNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &APIError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})

	r.Get("/products", h.ListProducts)
	r.Get("/products/{productID}", h.GetProduct)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/lines", h.AddLine)
		r.Put("/lines/{productID}", h.UpdateLine)
		r.Delete("/lines/{productID}", h.RemoveLine)
	})

	r.Post("/checkout", h.ContinuePayment)
	r.Get("/orders/{orderID}", h.GetOrder)
	return r
}
