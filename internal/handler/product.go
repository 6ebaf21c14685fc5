package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

// ListProducts returns every product in the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

// GetProduct returns a single product by ID.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			httpmiddleware.WriteError(w, http.StatusNotFound, "product not found", order.ClassNotFound.String())
			return
		}
		writeError(w, r, errors.Wrap(err, "get product"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeProduct(e, *p) })
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	field(e, "id", p.ID)
	field(e, "sku", p.SKU)
	field(e, "name", p.Name)
	fieldInt(e, "price", p.Price.Amount)
	field(e, "currency", p.Price.Currency)
	field(e, "category", p.Category)
	field(e, "image_url", p.ImageURL)
	e.ObjEnd()
}
