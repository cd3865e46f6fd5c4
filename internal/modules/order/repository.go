package order

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines data access for orders.
type Repository interface {
	// CreateOrder persists a new order and its items atomically. A second
	// order with the same owner and idempotency key fails with
	// ErrDuplicateOrder.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrderByID returns the order with items and status history.
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*Order, error)
	GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error)

	// ListOrdersByOwner returns the owner's orders, newest first.
	ListOrdersByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]*Order, error)

	// UpdateOrder re-reads the order under a row lock, lets fn mutate it
	// and persists the result together with new history entries. fn runs
	// inside the transaction carried by its ctx so other repositories can
	// join it. When fn returns errUnchanged nothing is written and the
	// current order is returned.
	UpdateOrder(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, o *Order) error) (*Order, error)

	// ListStalePending returns ids of orders still awaiting payment that
	// were created before the cutoff, oldest first.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error)

	Dashboard(ctx context.Context, recent, top int) (*Dashboard, error)
}
