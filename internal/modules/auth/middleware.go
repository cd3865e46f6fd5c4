package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/georgemunganga/storefront-backend/internal/modules/user"
	"go.uber.org/zap"
)

// Middleware resolves the caller from a bearer token and enforces roles.
type Middleware struct {
	service Service
	users   user.Repository
}

func NewMiddleware(service Service, users user.Repository) *Middleware {
	return &Middleware{service: service, users: users}
}

// Authenticate rejects requests without a valid token for an existing user
// and stores that user in the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, "please login to access this resource")
			return
		}

		userID, err := m.service.ParseToken(token)
		if errors.Is(err, ErrTokenExpired) {
			unauthorized(w, "token expired")
			return
		}
		if err != nil {
			unauthorized(w, "invalid token")
			return
		}

		u, err := m.users.GetUserByID(r.Context(), userID)
		if errors.Is(err, user.ErrUserNotFound) {
			unauthorized(w, "user no longer exists")
			return
		}
		if err != nil {
			logging.FromContext(r.Context()).Error("load authenticated user", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		ctx := user.ContextWithUser(r.Context(), u)
		ctx = logging.ContextWithLogger(ctx, logging.FromContext(ctx).With(zap.String("user_id", u.ID.String())))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after Authenticate.
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := user.FromContext(r.Context())
		if !ok {
			unauthorized(w, "please login to access this resource")
			return
		}
		if !u.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "message": msg})
}
