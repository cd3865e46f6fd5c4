package inventory

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores per-size stock counters.
type Repository interface {
	// GetStock returns ErrStockNotFound when the size has no counter.
	GetStock(ctx context.Context, productID uuid.UUID, size Size) (int, error)
	ListStock(ctx context.Context, productID uuid.UUID) ([]SizeStock, error)
	SetStock(ctx context.Context, productID uuid.UUID, size Size, stock int) error
	Restock(ctx context.Context, productID uuid.UUID, size Size, quantity int) (int, error)
	// Apply decrements every line or none of them. lines are already merged
	// and sorted. A non-empty key that was applied before yields
	// ErrAlreadyApplied and leaves stock untouched.
	Apply(ctx context.Context, key string, lines []Line) error
}
