package inventory

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler exposes admin stock adjustment endpoints.
type Handler struct{ service Service }

func NewHandler(service Service) *Handler { return &Handler{service: service} }

// RegisterRoutes mounts the routes behind the given authentication and
// admin middlewares.
func (h *Handler) RegisterRoutes(r chi.Router, authenticate, requireAdmin func(http.Handler) http.Handler) {
	r.Route("/api/v1/inventory/products/{productID}/sizes", func(r chi.Router) {
		r.Use(authenticate, requireAdmin)
		r.Get("/", h.listStock)
		r.Put("/{size}", h.setStock)
		r.Post("/{size}/restock", h.restock)
	})
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid product id"})
		return
	}
	sizes, err := h.service.ListStock(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if sizes == nil {
		sizes = []SizeStock{}
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": sizes})
}

func (h *Handler) setStock(w http.ResponseWriter, r *http.Request) {
	productID, size, ok := parsePath(w, r)
	if !ok {
		return
	}
	var body struct {
		Stock int `json:"stock"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "malformed request body"})
		return
	}
	if err := h.service.SetStock(r.Context(), productID, size, body.Stock); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": SizeStock{Size: size, Stock: body.Stock}})
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	productID, size, ok := parsePath(w, r)
	if !ok {
		return
	}
	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "malformed request body"})
		return
	}
	stock, err := h.service.Restock(r.Context(), productID, size, body.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": SizeStock{Size: size, Stock: stock}})
}

func parsePath(w http.ResponseWriter, r *http.Request) (uuid.UUID, Size, bool) {
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid product id"})
		return uuid.Nil, 0, false
	}
	size, err := ParseSize(chi.URLParam(r, "size"))
	if err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return uuid.Nil, 0, false
	}
	return productID, size, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidSize), errors.Is(err, ErrInvalidQuantity):
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
	case errors.Is(err, ErrStockNotFound):
		respond(w, http.StatusNotFound, map[string]any{"success": false, "message": err.Error()})
	default:
		logging.FromContext(r.Context()).Error("inventory request failed", zap.Error(err))
		respond(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "internal server error"})
	}
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
