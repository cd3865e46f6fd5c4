package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/georgemunganga/storefront-backend/internal/modules/payment"
	"github.com/georgemunganga/storefront-backend/internal/modules/user"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// IdempotencyKeyHeader lets clients retry checkout without creating a
// second order.
const IdempotencyKeyHeader = "Idempotency-Key"

// Handler handles HTTP requests for orders.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the order routes. Every route requires a logged-in
// user; the admin group additionally requires an administrator.
func (h *Handler) RegisterRoutes(r chi.Router, authenticate, requireAdmin func(http.Handler) http.Handler) {
	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(authenticate)

		r.Post("/", h.placeOrder)
		r.Get("/my-orders", h.myOrders)

		r.Group(func(r chi.Router) {
			r.Use(requireAdmin)
			r.Get("/admin", h.listOrders)
			r.Get("/admin/dashboard", h.dashboard)
			r.Put("/admin/{id}/status", h.updateStatus)
		})

		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/verify", h.verifyPayment)
		r.Post("/{id}/payment-intent", h.retryPaymentIntent)
		r.Post("/{id}/cancel", h.cancelOrder)
	})
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	customer, _ := user.FromContext(r.Context())

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "malformed request body"})
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	checkout, err := h.service.PlaceOrder(r.Context(), customer, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, map[string]any{"success": true, "data": checkout})
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	customer, _ := user.FromContext(r.Context())

	var req VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "malformed request body"})
		return
	}

	o, err := h.service.VerifyPayment(r.Context(), customer, chi.URLParam(r, "id"), req)
	if errors.Is(err, ErrStockExhaustedPostPayment) {
		respond(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "payment received but an item sold out; the order has been flagged for a refund",
			"reason":  ReasonStockExhausted,
			"data":    o,
		})
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": o})
}

func (h *Handler) retryPaymentIntent(w http.ResponseWriter, r *http.Request) {
	customer, _ := user.FromContext(r.Context())
	checkout, err := h.service.RetryPaymentIntent(r.Context(), customer, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": checkout})
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	customer, _ := user.FromContext(r.Context())
	o, err := h.service.CancelOrder(r.Context(), customer, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": o})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	customer, _ := user.FromContext(r.Context())
	o, err := h.service.GetOrder(r.Context(), customer, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": o})
}

func (h *Handler) myOrders(w http.ResponseWriter, r *http.Request) {
	customer, _ := user.FromContext(r.Context())
	orders, err := h.service.ListMyOrders(r.Context(), customer)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []*Order{}
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": orders})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), Search: q.Get("search")}

	var err error
	if filter.From, err = dateParam(q.Get("from"), false); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "from " + err.Error()})
		return
	}
	if filter.To, err = dateParam(q.Get("to"), true); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "to " + err.Error()})
		return
	}

	orders, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if orders == nil {
		orders = []*Order{}
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": orders})
}

var errBadDate = errors.New("must be a date (YYYY-MM-DD) or RFC 3339 timestamp")

// dateParam parses a listing bound. A bare date used as an upper bound
// covers the whole day.
func dateParam(v string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errBadDate
	}
	return &t, nil
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "malformed request body"})
		return
	}
	o, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "id"), body.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": o})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": d})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var gwErr *GatewayError
	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrPaymentMismatch):
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
	case errors.Is(err, ErrProductNotFound), errors.Is(err, ErrOrderNotFound):
		respond(w, http.StatusNotFound, map[string]any{"success": false, "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrNotAwaitingPayment):
		respond(w, http.StatusConflict, map[string]any{"success": false, "message": err.Error()})
	case errors.As(err, &gwErr):
		logging.FromContext(r.Context()).Error("payment gateway call failed",
			zap.String("order_id", gwErr.OrderID.String()), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, payment.ErrCredentialsRejected) {
			status = http.StatusServiceUnavailable
		}
		respond(w, status, map[string]any{
			"success": false,
			"message": "payment gateway unavailable, please retry",
			"orderId": gwErr.OrderID,
		})
	default:
		logging.FromContext(r.Context()).Error("order request failed", zap.Error(err))
		respond(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "internal server error"})
	}
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
