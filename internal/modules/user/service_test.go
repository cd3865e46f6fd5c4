package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type mockRepo struct {
	createUserFn     func(ctx context.Context, u *User) error
	getUserByEmailFn func(ctx context.Context, email string) (*User, error)
	getUserByIDFn    func(ctx context.Context, id string) (*User, error)
}

func (m *mockRepo) CreateUser(ctx context.Context, u *User) error { return m.createUserFn(ctx, u) }
func (m *mockRepo) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return m.getUserByEmailFn(ctx, email)
}
func (m *mockRepo) GetUserByID(ctx context.Context, id string) (*User, error) {
	return m.getUserByIDFn(ctx, id)
}

func TestRegisterUserHashesPassword(t *testing.T) {
	var stored *User
	repo := &mockRepo{createUserFn: func(_ context.Context, u *User) error {
		stored = u
		return nil
	}}
	svc := NewService(repo)

	u, err := svc.RegisterUser(context.Background(), "  Ada@Example.com ", "password123", "Ada", "Lovelace")
	require.NoError(t, err)

	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, "Ada Lovelace", u.Name())
	assert.False(t, u.IsAdmin)
	require.NotNil(t, stored)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password123")))
}

func TestRegisterUserValidation(t *testing.T) {
	svc := NewService(&mockRepo{})

	cases := map[string][3]string{
		"bad email":      {"not-an-email", "password123", "Ada"},
		"short password": {"ada@example.com", "123", "Ada"},
		"short name":     {"ada@example.com", "password123", "A"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.RegisterUser(context.Background(), c[0], c[1], c[2], "")
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestRegisterUserDuplicateEmail(t *testing.T) {
	repo := &mockRepo{createUserFn: func(context.Context, *User) error { return ErrEmailTaken }}
	svc := NewService(repo)

	_, err := svc.RegisterUser(context.Background(), "ada@example.com", "password123", "Ada", "")
	assert.ErrorIs(t, err, ErrEmailTaken)
}
