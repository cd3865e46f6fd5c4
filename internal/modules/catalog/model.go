package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidProduct  = errors.New("invalid product")
)

// Categories accepted by the catalog.
var Categories = []string{"casual", "formal", "sports", "boots"}

// Product is a shoe listed in the storefront. Sizes carries the current
// stock per size as read from the inventory ledger.
type Product struct {
	ID          uuid.UUID             `json:"id"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Brand       string                `json:"brand"`
	Category    string                `json:"category"`
	Price       decimal.Decimal       `json:"price"`
	Images      []string              `json:"images"`
	Color       string                `json:"color"`
	Featured    bool                  `json:"featured"`
	IsActive    bool                  `json:"isActive"`
	Sizes       []inventory.SizeStock `json:"sizes"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// ProductInput is the admin payload for creating or replacing a product.
type ProductInput struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Brand       string                `json:"brand"`
	Category    string                `json:"category"`
	Price       decimal.Decimal       `json:"price"`
	Images      []string              `json:"images"`
	Color       string                `json:"color"`
	Featured    bool                  `json:"featured"`
	IsActive    *bool                 `json:"isActive"`
	Sizes       []inventory.SizeStock `json:"sizes"`
}

// Validate checks the payload before it reaches storage.
func (in *ProductInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Brand = strings.TrimSpace(in.Brand)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))

	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProduct)
	}
	if in.Brand == "" {
		return fmt.Errorf("%w: brand is required", ErrInvalidProduct)
	}
	if !validCategory(in.Category) {
		return fmt.Errorf("%w: category must be one of %s", ErrInvalidProduct, strings.Join(Categories, ", "))
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidProduct)
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return fmt.Errorf("%w: price has more than two decimals", ErrInvalidProduct)
	}
	seen := make(map[inventory.Size]bool, len(in.Sizes))
	for _, s := range in.Sizes {
		if !s.Size.Valid() {
			return fmt.Errorf("%w: size %s is not in the size catalog", ErrInvalidProduct, s.Size)
		}
		if s.Stock < 0 {
			return fmt.Errorf("%w: stock for size %s is negative", ErrInvalidProduct, s.Size)
		}
		if seen[s.Size] {
			return fmt.Errorf("%w: size %s listed twice", ErrInvalidProduct, s.Size)
		}
		seen[s.Size] = true
	}
	return nil
}

func validCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// ListFilter narrows ListProducts.
type ListFilter struct {
	Category   string
	ActiveOnly bool
}
