package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// Service defines the interface for authentication-related business logic.
type Service interface {
	// Login checks the credentials and issues a signed access token.
	Login(ctx context.Context, email, password string) (string, error)
	// ParseToken validates a token and returns the user id it was issued for.
	ParseToken(token string) (string, error)
}
