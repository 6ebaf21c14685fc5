package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/oolio-orders/internal/domain/order"
)

const idempotencyHeader = "Idempotency-Key"

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateOrderRequest
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		return decodeCreateOrder(d, key, &req)
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if key := r.Header.Get(idempotencyHeader); key != "" {
		req.IdempotencyKey = key
	}

	o, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrderByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		f   order.ListFilter
		err error
	)
	if v := q.Get("status"); v != "" {
		if f.Status, err = order.ParseStatus(v); err != nil {
			writeError(w, r, &order.ValidationError{Field: "status", Reason: err.Error(), Err: err})
			return
		}
	}
	if f.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(q.Get("offset"), "offset"); err != nil {
		writeError(w, r, err)
		return
	}

	orders, err := h.orders.ListCustomerOrders(r.Context(), chi.URLParam(r, "email"), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrders(e, orders) })
}

func queryInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &order.ValidationError{Field: name, Reason: "must be an integer", Err: err}
	}
	return n, nil
}

func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	o, intent, err := h.orders.StartPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, o, intent) })
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ConfirmPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			return str(d, &status)
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), order.Status(status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var status string
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "payment_status" {
			return str(d, &status)
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.UpdatePaymentStatus(r.Context(), chi.URLParam(r, "id"), order.PaymentStatus(status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) AddTracking(w http.ResponseWriter, r *http.Request) {
	var t order.Tracking
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "carrier":
			return str(d, &t.Carrier)
		case "tracking_number":
			return str(d, &t.TrackingNumber)
		case "tracking_url":
			return str(d, &t.TrackingURL)
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.AddTrackingInfo(r.Context(), chi.URLParam(r, "id"), t)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) FulfillItems(w http.ResponseWriter, r *http.Request) {
	quantities := make(map[string]int)
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "items" {
			return decodeQuantities(d, quantities)
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.FulfillItems(r.Context(), chi.URLParam(r, "id"), quantities)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var reason string
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
			if key == "reason" {
				return str(d, &reason)
			}
			return d.Skip()
		}); err != nil {
			writeError(w, r, err)
			return
		}
	}

	o, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusOK, o)
}

func (h *Handler) AppendNote(w http.ResponseWriter, r *http.Request) {
	var body string
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		if key == "body" {
			return str(d, &body)
		}
		return d.Skip()
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.AppendNote(r.Context(), chi.URLParam(r, "id"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request) {
	req := order.RefundRequest{OrderID: chi.URLParam(r, "id")}
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "amount":
			return integer(d, &req.Amount)
		case "reason":
			return str(d, &req.Reason)
		case "refund_id":
			return str(d, &req.RefundID)
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RefundID == "" {
		req.RefundID = r.Header.Get(idempotencyHeader)
	}

	o, err := h.orders.CreateRefund(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, http.StatusCreated, o)
}

// OrderMetrics reports aggregates for orders created in [from, to). Both
// bounds are RFC 3339; to defaults to now and from to the metrics window
// before to.
func (h *Handler) OrderMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := h.now()
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, &order.ValidationError{Field: "to", Reason: "must be an RFC 3339 timestamp", Err: err})
			return
		}
		to = t
	}
	from := to.Add(-h.window)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, &order.ValidationError{Field: "from", Reason: "must be an RFC 3339 timestamp", Err: err})
			return
		}
		from = t
	}

	m, err := h.orders.GetOrderMetrics(r.Context(), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeMetrics(e, m) })
}

func (h *Handler) QuoteShipping(w http.ResponseWriter, r *http.Request) {
	var req order.ShippingQuoteRequest
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "subtotal":
			return integer(d, &req.Subtotal)
		case "address":
			return decodeAddress(d, &req.Address)
		case "method":
			return str(d, &req.Method)
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}

	cost, err := h.orders.CalculateShipping(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, "shipping", cost.Amount, cost.Currency) })
}

func (h *Handler) QuoteTax(w http.ResponseWriter, r *http.Request) {
	var (
		taxable int64
		addr    order.Address
	)
	if err := decodeBody(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "taxable":
			return integer(d, &taxable)
		case "address":
			return decodeAddress(d, &addr)
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}

	tax, err := h.orders.CalculateTax(r.Context(), taxable, addr)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, "tax", tax.Amount, tax.Currency) })
}
