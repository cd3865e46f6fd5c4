package user

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the user endpoints. authenticate guards /me.
func (h *Handler) RegisterRoutes(router chi.Router, authenticate func(http.Handler) http.Handler) {
	router.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/register", h.registerUser)
		r.With(authenticate).Get("/me", h.me)
	})
}

func (h *Handler) registerUser(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": "malformed request body"})
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.Email, req.Password, req.FirstName, req.LastName)
	switch {
	case errors.Is(err, ErrInvalidInput):
		respond(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return
	case errors.Is(err, ErrEmailTaken):
		respond(w, http.StatusConflict, map[string]any{"success": false, "message": err.Error()})
		return
	case err != nil:
		logging.FromContext(r.Context()).Error("register user failed", zap.Error(err))
		respond(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "internal server error"})
		return
	}

	respond(w, http.StatusCreated, map[string]any{"success": true, "data": user})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, ok := FromContext(r.Context())
	if !ok {
		respond(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "please login to access this resource"})
		return
	}
	respond(w, http.StatusOK, map[string]any{"success": true, "data": u})
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
