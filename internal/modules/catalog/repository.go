package catalog

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the interface for product data storage.
type Repository interface {
	// Create stores the product together with its size rows.
	Create(ctx context.Context, p *Product) error
	// GetByID returns ErrProductNotFound for unknown ids.
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
	List(ctx context.Context, filter ListFilter) ([]*Product, error)
	// Update replaces the product fields and upserts the given size rows.
	Update(ctx context.Context, p *Product) error
}
