package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/mercadochaco/storefront/internal/domain/order"
)

// ContinuePayment turns the device's cart into a pending order and returns
// where to pay. The cart is left untouched.
func (h *Handler) ContinuePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	buyerID := BuyerFromContext(ctx)
	if buyerID == "" {
		writeError(w, r, order.ErrNotAuthenticated)
		return
	}

	s, release, err := h.deviceSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()
	// A pending merge must land before the cart is read.
	if err := s.Cart.SyncIdentity(ctx); err != nil {
		writeError(w, r, cartFailure(err))
		return
	}

	result, err := h.checkout.ContinuePayment(ctx, order.ContinuePaymentRequest{
		BuyerID: buyerID,
		Cart:    s.Cart.Snapshot(),
	})
	if err != nil {
		if result != nil {
			// The order exists but payment could not be reached.
			writeError(w, r, &APIError{
				Status:  http.StatusBadGateway,
				Message: "order " + result.Order.ID + " created but payment is unavailable",
				Err:     err,
			})
			return
		}
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(result.Order.ID) })
		e.Field("total", func(e *jx.Encoder) { money(e, result.Order.Total) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(result.Order.Status)) })
		e.Field("paymentUrl", func(e *jx.Encoder) { e.Str(result.PaymentURL) })
	})
	w.Header().Set("Location", "/api/orders/"+result.Order.ID)
	writeJSON(w, http.StatusCreated, &e)
}

// GetOrder returns one of the buyer's orders with its lines.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, lines, err := h.checkout.Get(r.Context(), BuyerFromContext(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	encodeOrder(&e, o, lines)
	writeJSON(w, http.StatusOK, &e)
}
