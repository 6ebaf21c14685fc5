// Package handler exposes the order service over HTTP with chi routing and
// go-faster/jx JSON encoding.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-orders/internal/domain/auth"
	"github.com/xenking/oolio-orders/internal/domain/order"
	"github.com/xenking/oolio-orders/internal/domain/product"
	"github.com/xenking/oolio-orders/pkg/httpmiddleware"
)

// Config holds non-dependency settings of the Handler.
type Config struct {
	// MetricsWindow is the default range of GET /metrics/orders when from
	// is omitted.
	MetricsWindow time.Duration
}

// Handler serves the order API.
type Handler struct {
	orders   *order.Service
	products product.Repository
	security *SecurityHandler
	window   time.Duration
	now      func() time.Time
}

func NewHandler(cfg Config, orders *order.Service, products product.Repository, security *SecurityHandler) *Handler {
	if cfg.MetricsWindow <= 0 {
		cfg.MetricsWindow = 30 * 24 * time.Hour
	}
	return &Handler{
		orders:   orders,
		products: products,
		security: security,
		window:   cfg.MetricsWindow,
		now:      time.Now,
	}
}

// Routes returns the API router. Every route lives under /api. Routes that
// change order state after checkout require an API key with a scope.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, "route not found", order.ClassNotFound.String())
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", order.ClassFixInput.String())
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)
		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{id}", h.GetOrder)
		r.Get("/customers/{email}/orders", h.ListCustomerOrders)
		r.Post("/orders/{id}/payment", h.StartPayment)
		r.Post("/orders/{id}/payment/confirm", h.ConfirmPayment)
		r.Post("/quotes/shipping", h.QuoteShipping)
		r.Post("/quotes/tax", h.QuoteTax)

		r.Group(func(r chi.Router) {
			r.Use(h.security.Require(auth.ScopeOrdersWrite))
			r.Post("/orders/{id}/status", h.UpdateStatus)
			r.Post("/orders/{id}/payment-status", h.UpdatePaymentStatus)
			r.Post("/orders/{id}/tracking", h.AddTracking)
			r.Post("/orders/{id}/fulfillments", h.FulfillItems)
			r.Post("/orders/{id}/cancel", h.CancelOrder)
			r.Post("/orders/{id}/notes", h.AppendNote)
		})
		r.With(h.security.Require(auth.ScopeRefunds)).Post("/orders/{id}/refunds", h.CreateRefund)
		r.With(h.security.Require(auth.ScopeMetrics)).Get("/metrics/orders", h.OrderMetrics)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeOrder(w http.ResponseWriter, status int, o *order.Order) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// statusFor maps a service error to its HTTP status code.
func statusFor(err error) int {
	var (
		validation *order.ValidationError
		pay        *order.PaymentError
		invariant  *order.InvariantViolationError
	)
	switch {
	case errors.As(err, &validation):
		if validation.Field == "body" {
			return http.StatusBadRequest
		}
		return http.StatusUnprocessableEntity
	case errors.As(err, &pay):
		return http.StatusPaymentRequired
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &invariant):
		return http.StatusInternalServerError
	case errors.Is(err, order.ErrNoGateway):
		return http.StatusServiceUnavailable
	}

	switch order.Classify(err) {
	case order.ClassTryAgain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {code, message, class}. Internal details of
// server errors are logged, not returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	class := order.Classify(err)

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.Error(err),
			zap.Stringer("class", class),
			zap.Int("status", status),
		)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	httpmiddleware.WriteError(w, status, msg, class.String())
}
