package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/georgemunganga/storefront-backend/internal/database"
	"github.com/google/uuid"
)

type postgresRepository struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepository{db: db} }

func (r *postgresRepository) GetStock(ctx context.Context, productID uuid.UUID, size Size) (int, error) {
	var stock int
	err := database.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT stock FROM product_sizes WHERE product_id=$1 AND size=$2`, productID, size).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrStockNotFound
	}
	return stock, err
}

func (r *postgresRepository) ListStock(ctx context.Context, productID uuid.UUID) ([]SizeStock, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT size, stock FROM product_sizes WHERE product_id=$1 ORDER BY size`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SizeStock
	for rows.Next() {
		var s SizeStock
		if err := rows.Scan(&s.Size, &s.Stock); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *postgresRepository) SetStock(ctx context.Context, productID uuid.UUID, size Size, stock int) error {
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, `
INSERT INTO product_sizes (product_id, size, stock) VALUES ($1,$2,$3)
ON CONFLICT (product_id, size) DO UPDATE SET stock = EXCLUDED.stock, updated_at = NOW()`,
		productID, size, stock)
	if database.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: product %s", ErrStockNotFound, productID)
	}
	return err
}

func (r *postgresRepository) Restock(ctx context.Context, productID uuid.UUID, size Size, quantity int) (int, error) {
	var stock int
	err := database.Conn(ctx, r.db).QueryRowContext(ctx, `
UPDATE product_sizes SET stock = stock + $3, updated_at = NOW()
WHERE product_id=$1 AND size=$2 RETURNING stock`, productID, size, quantity).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrStockNotFound
	}
	return stock, err
}

func (r *postgresRepository) Apply(ctx context.Context, key string, lines []Line) error {
	return database.WithinTx(ctx, r.db, func(ctx context.Context) error {
		q := database.Conn(ctx, r.db)

		if key != "" {
			body, err := json.Marshal(lines)
			if err != nil {
				return err
			}
			res, err := q.ExecContext(ctx, `
INSERT INTO stock_movements (idempotency_key, lines) VALUES ($1,$2)
ON CONFLICT (idempotency_key) DO NOTHING`, key, body)
			if err != nil {
				return fmt.Errorf("record stock movement: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return ErrAlreadyApplied
			}
		}

		for _, l := range lines {
			// conditional update: the row lock it takes serialises concurrent
			// decrements of the same size only
			res, err := q.ExecContext(ctx, `
UPDATE product_sizes SET stock = stock - $3, updated_at = NOW()
WHERE product_id=$1 AND size=$2 AND stock >= $3`, l.ProductID, l.Size, l.Quantity)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				continue
			}

			var available int
			err = q.QueryRowContext(ctx,
				`SELECT stock FROM product_sizes WHERE product_id=$1 AND size=$2`, l.ProductID, l.Size).Scan(&available)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: product %s size %s", ErrStockNotFound, l.ProductID, l.Size)
			}
			if err != nil {
				return err
			}
			return &InsufficientStockError{ProductID: l.ProductID, Size: l.Size, Requested: l.Quantity, Available: available}
		}
		return nil
	})
}
