package inventory

import (
	"context"
	"errors"

	"github.com/georgemunganga/storefront-backend/internal/logging"
	"github.com/georgemunganga/storefront-backend/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is the inventory ledger.
type Service interface {
	// CheckAvailability is advisory; only ReserveAndDecrement is authoritative.
	CheckAvailability(ctx context.Context, productID uuid.UUID, size Size, quantity int) (bool, error)
	// ReserveAndDecrement removes every line from stock or none of them.
	// It joins a transaction carried by ctx. Returns ErrStockNotFound,
	// *InsufficientStockError or ErrAlreadyApplied for a reused key.
	ReserveAndDecrement(ctx context.Context, key string, lines ...Line) error

	ListStock(ctx context.Context, productID uuid.UUID) ([]SizeStock, error)
	SetStock(ctx context.Context, productID uuid.UUID, size Size, stock int) error
	Restock(ctx context.Context, productID uuid.UUID, size Size, quantity int) (int, error)
}

type service struct {
	repo    Repository
	metrics *metrics.Metrics
}

// NewService creates the ledger. m may be nil.
func NewService(repo Repository, m *metrics.Metrics) Service {
	return &service{repo: repo, metrics: m}
}

func (s *service) CheckAvailability(ctx context.Context, productID uuid.UUID, size Size, quantity int) (bool, error) {
	if !size.Valid() {
		return false, ErrInvalidSize
	}
	if quantity <= 0 {
		return false, ErrInvalidQuantity
	}
	stock, err := s.repo.GetStock(ctx, productID, size)
	if errors.Is(err, ErrStockNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stock >= quantity, nil
}

func (s *service) ReserveAndDecrement(ctx context.Context, key string, lines ...Line) error {
	normalized, err := normalize(lines)
	if err != nil {
		return err
	}
	if len(normalized) == 0 {
		return nil
	}

	err = s.repo.Apply(ctx, key, normalized)
	switch {
	case err == nil:
		s.metrics.InventoryDecrement("applied")
	case errors.Is(err, ErrAlreadyApplied):
		s.metrics.InventoryDecrement("replayed")
	case errors.Is(err, ErrInsufficientStock):
		s.metrics.InventoryDecrement("insufficient")
		logging.FromContext(ctx).Warn("stock decrement rejected", zap.String("key", key), zap.Error(err))
	case errors.Is(err, ErrStockNotFound):
		s.metrics.InventoryDecrement("not_found")
	default:
		s.metrics.InventoryDecrement("error")
	}
	return err
}

func (s *service) ListStock(ctx context.Context, productID uuid.UUID) ([]SizeStock, error) {
	return s.repo.ListStock(ctx, productID)
}

func (s *service) SetStock(ctx context.Context, productID uuid.UUID, size Size, stock int) error {
	if !size.Valid() {
		return ErrInvalidSize
	}
	if stock < 0 {
		return ErrInvalidQuantity
	}
	return s.repo.SetStock(ctx, productID, size, stock)
}

func (s *service) Restock(ctx context.Context, productID uuid.UUID, size Size, quantity int) (int, error) {
	if !size.Valid() {
		return 0, ErrInvalidSize
	}
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	return s.repo.Restock(ctx, productID, size, quantity)
}
