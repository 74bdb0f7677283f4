package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ListProducts returns every product in the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, p := range products {
			h.encodeProduct(e, p)
		}
	})
	writeJSON(w, http.StatusOK, &e)
}

// GetProduct returns a single product by id.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, r, errors.Wrap(err, "get product"))
		return
	}

	var e jx.Encoder
	h.encodeProduct(&e, *p)
	writeJSON(w, http.StatusOK, &e)
}
