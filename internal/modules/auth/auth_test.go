package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/modules/user"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubUsers struct {
	users map[string]*user.User
}

func (s *stubUsers) CreateUser(_ context.Context, u *user.User) error {
	s.users[u.ID.String()] = u
	return nil
}

func (s *stubUsers) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (s *stubUsers) GetUserByID(_ context.Context, id string) (*user.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, user.ErrUserNotFound
}

func newStubUsers(t *testing.T, admin bool) (*stubUsers, *user.User) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &user.User{ID: uuid.New(), Email: "ada@example.com", PasswordHash: string(hash), IsAdmin: admin}
	return &stubUsers{users: map[string]*user.User{u.ID.String(): u}}, u
}

var secret = []byte("test-secret")

func TestLoginIssuesParsableToken(t *testing.T) {
	users, u := newStubUsers(t, false)
	svc := NewService(users, secret, time.Hour)

	token, err := svc.Login(context.Background(), " ADA@example.com", "password123")
	require.NoError(t, err)

	id, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID.String(), id)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	users, _ := newStubUsers(t, false)
	svc := NewService(users, secret, time.Hour)

	_, err := svc.Login(context.Background(), "ada@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenExpired(t *testing.T) {
	users, _ := newStubUsers(t, false)
	s := NewService(users, secret, time.Minute).(*service)
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }

	token, err := s.Login(context.Background(), "ada@example.com", "password123")
	require.NoError(t, err)

	_, err = s.ParseToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseTokenWrongSecret(t *testing.T) {
	users, _ := newStubUsers(t, false)
	token, err := NewService(users, []byte("other"), time.Hour).Login(context.Background(), "ada@example.com", "password123")
	require.NoError(t, err)

	_, err = NewService(users, secret, time.Hour).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func newRouter(users *stubUsers, svc Service) http.Handler {
	mw := NewMiddleware(svc, users)
	r := chi.NewRouter()
	ok := func(w http.ResponseWriter, r *http.Request) {
		u, _ := user.FromContext(r.Context())
		w.Write([]byte(u.ID.String()))
	}
	r.With(mw.Authenticate).Get("/me", ok)
	r.With(mw.Authenticate, mw.RequireAdmin).Get("/admin", ok)
	return r
}

func TestAuthenticateMiddleware(t *testing.T) {
	users, u := newStubUsers(t, false)
	svc := NewService(users, secret, time.Hour)
	token, err := svc.Login(context.Background(), "ada@example.com", "password123")
	require.NoError(t, err)
	router := newRouter(users, svc)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bearer token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, u.ID.String(), rec.Body.String())
	})

	t.Run("cookie token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non admin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("deleted user", func(t *testing.T) {
		delete(users.users, u.ID.String())
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "user no longer exists")
	})
}

func TestAdminPasses(t *testing.T) {
	users, _ := newStubUsers(t, true)
	svc := NewService(users, secret, time.Hour)
	token, err := svc.Login(context.Background(), "ada@example.com", "password123")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	newRouter(users, svc).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginHandler(t *testing.T) {
	users, _ := newStubUsers(t, false)
	r := chi.NewRouter()
	NewHandler(NewService(users, secret, time.Hour)).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"ada@example.com","password":"password123"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Data["token"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"ada@example.com","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
