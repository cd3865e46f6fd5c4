package user

import "context"

// Repository defines data access for users.
type Repository interface {
	CreateUser(ctx context.Context, user *User) error
	// GetUserByEmail returns ErrUserNotFound when no account uses the email.
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// GetUserByID returns ErrUserNotFound when the account does not exist.
	GetUserByID(ctx context.Context, id string) (*User, error)
}
