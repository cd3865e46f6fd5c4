package inventory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type rowKey struct {
	productID uuid.UUID
	size      Size
}

type stockRow struct {
	mu    sync.Mutex
	stock int
}

// MemoryRepository keeps counters in process. It backs tests here and in
// the order package and is not wired into the server, which uses
// NewPostgresRepository. Each size row has its own lock; batches lock rows
// in (product, size) order.
type MemoryRepository struct {
	mu      sync.Mutex
	rows    map[rowKey]*stockRow
	applied map[string]bool
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: map[rowKey]*stockRow{}, applied: map[string]bool{}}
}

func (r *MemoryRepository) row(productID uuid.UUID, size Size) (*stockRow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[rowKey{productID, size}]
	return row, ok
}

func (r *MemoryRepository) GetStock(_ context.Context, productID uuid.UUID, size Size) (int, error) {
	row, ok := r.row(productID, size)
	if !ok {
		return 0, ErrStockNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	return row.stock, nil
}

func (r *MemoryRepository) ListStock(_ context.Context, productID uuid.UUID) ([]SizeStock, error) {
	var out []SizeStock
	for _, s := range Sizes() {
		if row, ok := r.row(productID, s); ok {
			row.mu.Lock()
			out = append(out, SizeStock{Size: s, Stock: row.stock})
			row.mu.Unlock()
		}
	}
	return out, nil
}

func (r *MemoryRepository) SetStock(_ context.Context, productID uuid.UUID, size Size, stock int) error {
	r.mu.Lock()
	row, ok := r.rows[rowKey{productID, size}]
	if !ok {
		row = &stockRow{}
		r.rows[rowKey{productID, size}] = row
	}
	r.mu.Unlock()

	row.mu.Lock()
	row.stock = stock
	row.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Restock(_ context.Context, productID uuid.UUID, size Size, quantity int) (int, error) {
	row, ok := r.row(productID, size)
	if !ok {
		return 0, ErrStockNotFound
	}
	row.mu.Lock()
	defer row.mu.Unlock()
	row.stock += quantity
	return row.stock, nil
}

func (r *MemoryRepository) Apply(_ context.Context, key string, lines []Line) error {
	if key != "" {
		r.mu.Lock()
		if r.applied[key] {
			r.mu.Unlock()
			return ErrAlreadyApplied
		}
		r.applied[key] = true
		r.mu.Unlock()
	}

	if err := r.decrement(lines); err != nil {
		if key != "" {
			r.mu.Lock()
			delete(r.applied, key)
			r.mu.Unlock()
		}
		return err
	}
	return nil
}

func (r *MemoryRepository) decrement(lines []Line) error {
	rows := make([]*stockRow, len(lines))
	for i, l := range lines {
		row, ok := r.row(l.ProductID, l.Size)
		if !ok {
			return fmt.Errorf("%w: product %s size %s", ErrStockNotFound, l.ProductID, l.Size)
		}
		rows[i] = row
	}

	for _, row := range rows {
		row.mu.Lock()
		defer row.mu.Unlock()
	}
	for i, l := range lines {
		if rows[i].stock < l.Quantity {
			return &InsufficientStockError{ProductID: l.ProductID, Size: l.Size, Requested: l.Quantity, Available: rows[i].stock}
		}
	}
	for i, l := range lines {
		rows[i].stock -= l.Quantity
	}
	return nil
}
