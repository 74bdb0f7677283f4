package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mercadochaco/storefront/internal/domain/cart"
	"github.com/mercadochaco/storefront/internal/session"
)

// deviceSession acquires the request's device session with its identity set
// to the request's buyer. Setting a new identity triggers the sign-in merge.
// The session is held for this request until release is called.
func (h *Handler) deviceSession(r *http.Request) (_ *session.Session, release func(), _ error) {
	ctx := r.Context()
	s, err := h.sessions.Get(ctx, DeviceFromContext(ctx))
	if err != nil {
		if errors.Is(err, session.ErrMissingDevice) {
			return nil, nil, err
		}
		return nil, nil, cartFailure(err)
	}
	release, err = s.Acquire(ctx, BuyerFromContext(ctx))
	if err != nil {
		return nil, nil, errors.Wrap(err, "acquire device session")
	}
	return s, release, nil
}

func (h *Handler) respondCart(w http.ResponseWriter, v cart.View) {
	var e jx.Encoder
	h.encodeCart(&e, v)
	writeJSON(w, http.StatusOK, &e)
}

// GetCart returns the current lines with count and total. A failed sync is
// logged and the lines last loaded for this buyer are served.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.deviceSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()
	if err := s.Cart.SyncIdentity(r.Context()); err != nil {
		zctx.From(r.Context()).Warn("Cart sync failed, serving last known lines", zap.Error(err))
	}
	h.respondCart(w, s.Cart)
}

// AddLine adds quantity (default 1) units of a product.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req addLineRequest
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		req, err = decodeAddLine(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	s, release, err := h.deviceSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()

	ref := cart.ByID(req.ProductID)
	if req.Product != nil {
		ref = cart.WithSnapshot(req.ProductID, *req.Product)
	}
	if err := s.Cart.AddLine(r.Context(), ref, req.Quantity); err != nil {
		writeError(w, r, cartFailure(err))
		return
	}
	h.respondCart(w, s.Cart)
}

// UpdateLine sets the absolute quantity of a line; 0 or less removes it.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var quantity int
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		quantity, err = decodeQuantity(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	s, release, err := h.deviceSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()
	if err := s.Cart.UpdateQuantity(r.Context(), chi.URLParam(r, "productID"), quantity); err != nil {
		writeError(w, r, cartFailure(err))
		return
	}
	h.respondCart(w, s.Cart)
}

// RemoveLine deletes a line.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.deviceSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()
	if err := s.Cart.Remove(r.Context(), chi.URLParam(r, "productID")); err != nil {
		writeError(w, r, cartFailure(err))
		return
	}
	h.respondCart(w, s.Cart)
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s, release, err := h.deviceSession(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer release()
	if err := s.Cart.Clear(r.Context()); err != nil {
		writeError(w, r, cartFailure(err))
		return
	}
	h.respondCart(w, s.Cart)
}
