package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "X-Razorpay-Signature"

// Settler applies an authentic provider notification to the order it
// belongs to. It returns ErrUnknownProviderOrder for orders it does not know.
type Settler interface {
	SettleByProviderOrder(ctx context.Context, providerOrderID, paymentID string) error
}

// Handler receives provider webhooks. No auth middleware: requests are
// authenticated by their signature.
type Handler struct {
	service Service
	settler Settler
}

func NewHandler(service Service, settler Settler) *Handler {
	return &Handler{service: service, settler: settler}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/webhooks/payments", h.webhook)
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "unreadable body"})
		return
	}
	if !h.service.VerifyWebhook(body, r.Header.Get(SignatureHeader)) {
		logger.Warn("webhook signature rejected")
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid signature"})
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "malformed event"})
		return
	}

	entity := ev.Payload.Payment.Entity
	switch ev.Event {
	case "payment.captured", "payment.failed", "order.paid":
	default:
		respond(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"status": "ignored"}})
		return
	}
	if entity.ID == "" || entity.OrderID == "" {
		respond(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"status": "ignored"}})
		return
	}

	// the payload status is not trusted; the settler re-fetches it
	err = h.settler.SettleByProviderOrder(r.Context(), entity.OrderID, entity.ID)
	switch {
	case err == nil:
		respond(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"status": "processed"}})
	case errors.Is(err, ErrUnknownProviderOrder):
		logger.Warn("webhook for unknown provider order", zap.String("provider_order_id", entity.OrderID))
		respond(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"status": "ignored"}})
	case errors.Is(err, ErrGatewayUnavailable):
		respond(w, http.StatusBadGateway, map[string]any{"success": false, "message": "payment gateway unavailable"})
	default:
		logger.Error("webhook settlement failed",
			zap.String("event", ev.Event), zap.String("payment_id", entity.ID), zap.Error(err))
		respond(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "internal server error"})
	}
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
