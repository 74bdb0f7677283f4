package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/auth"
	"github.com/mercadochaco/storefront/internal/domain/cart"
	"github.com/mercadochaco/storefront/internal/domain/order"
	"github.com/mercadochaco/storefront/internal/domain/product"
	"github.com/mercadochaco/storefront/internal/session"
	"github.com/mercadochaco/storefront/pkg/httpmiddleware"
)

// APIError is an error with a fixed HTTP status and client-facing message.
// Err, when set, is the cause that gets logged.
type APIError struct {
	Status  int
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

func badRequest(msg string, err error) *APIError {
	return &APIError{Status: http.StatusBadRequest, Message: msg, Err: err}
}

// cartFailure marks an error from a cart write. Domain validation errors pass
// through unchanged; anything else is a storage failure and maps to 502.
func cartFailure(err error) error {
	if errors.Is(err, cart.ErrInvalidQuantity) || errors.Is(err, cart.ErrMissingProduct) {
		return err
	}
	return &APIError{Status: http.StatusBadGateway, Message: "cart is temporarily unavailable", Err: err}
}

// writeError maps err to a status and writes the error body. Only 5xx
// errors are logged; their cause never reaches the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal error"

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		status, msg = apiErr.Status, apiErr.Message
	case errors.Is(err, auth.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, order.ErrNotAuthenticated):
		status, msg = http.StatusUnauthorized, order.ErrNotAuthenticated.Error()
	case errors.Is(err, product.ErrNotFound):
		status, msg = http.StatusNotFound, product.ErrNotFound.Error()
	case errors.Is(err, order.ErrNotFound):
		status, msg = http.StatusNotFound, order.ErrNotFound.Error()
	case errors.Is(err, order.ErrNoValidItems):
		status, msg = http.StatusUnprocessableEntity, order.ErrNoValidItems.Error()
	case errors.Is(err, cart.ErrInvalidQuantity):
		status, msg = http.StatusUnprocessableEntity, cart.ErrInvalidQuantity.Error()
	case errors.Is(err, cart.ErrMissingProduct):
		status, msg = http.StatusBadRequest, cart.ErrMissingProduct.Error()
	case errors.Is(err, session.ErrMissingDevice):
		status, msg = http.StatusBadRequest, session.ErrMissingDevice.Error()
	}

	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request error",
			zap.Int("status", status),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	httpmiddleware.WriteError(w, status, msg)
}
