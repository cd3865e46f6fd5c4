package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/georgemunganga/storefront-backend/internal/database"
	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

const selectProductSQL = `
SELECT id,name,description,brand,category,price,images,color,featured,is_active,created_at,updated_at
FROM products`

func (r *postgresRepo) Create(ctx context.Context, p *Product) error {
	return database.WithinTx(ctx, r.db, func(ctx context.Context) error {
		q := database.Conn(ctx, r.db)
		err := q.QueryRowContext(ctx, `
INSERT INTO products (id,name,description,brand,category,price,images,color,featured,is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING created_at, updated_at`,
			p.ID, p.Name, p.Description, p.Brand, p.Category, p.Price,
			pq.StringArray(p.Images), p.Color, p.Featured, p.IsActive).
			Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		return upsertSizes(ctx, q, p.ID, p.Sizes)
	})
}

func upsertSizes(ctx context.Context, q database.Querier, productID uuid.UUID, sizes []inventory.SizeStock) error {
	for _, s := range sizes {
		_, err := q.ExecContext(ctx, `
INSERT INTO product_sizes (product_id, size, stock) VALUES ($1,$2,$3)
ON CONFLICT (product_id, size) DO UPDATE SET stock = EXCLUDED.stock, updated_at = NOW()`,
			productID, s.Size, s.Stock)
		if err != nil {
			return fmt.Errorf("upsert size %s: %w", s.Size, err)
		}
	}
	return nil
}

func scanProduct(scan func(...any) error) (*Product, error) {
	p := &Product{}
	var images pq.StringArray
	err := scan(&p.ID, &p.Name, &p.Description, &p.Brand, &p.Category, &p.Price,
		&images, &p.Color, &p.Featured, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Images = []string(images)
	return p, nil
}

func (r *postgresRepo) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	q := database.Conn(ctx, r.db)
	p, err := scanProduct(q.QueryRowContext(ctx, selectProductSQL+` WHERE id=$1`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	sizes, err := r.sizes(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	p.Sizes = sizes[id]
	return p, nil
}

func (r *postgresRepo) List(ctx context.Context, filter ListFilter) ([]*Product, error) {
	query := selectProductSQL + ` WHERE 1=1`
	var args []any
	n := 1
	if filter.Category != "" {
		query += fmt.Sprintf(` AND category=$%d`, n)
		args = append(args, filter.Category)
		n++
	}
	if filter.ActiveOnly {
		query += ` AND is_active=true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	var ids []uuid.UUID
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return products, nil
	}

	sizes, err := r.sizes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, p := range products {
		p.Sizes = sizes[p.ID]
	}
	return products, nil
}

func (r *postgresRepo) sizes(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]inventory.SizeStock, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
SELECT product_id, size, stock FROM product_sizes
WHERE product_id = ANY($1::uuid[]) ORDER BY product_id, size`, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]inventory.SizeStock, len(ids))
	for rows.Next() {
		var id uuid.UUID
		var s inventory.SizeStock
		if err := rows.Scan(&id, &s.Size, &s.Stock); err != nil {
			return nil, err
		}
		out[id] = append(out[id], s)
	}
	return out, rows.Err()
}

func (r *postgresRepo) Update(ctx context.Context, p *Product) error {
	return database.WithinTx(ctx, r.db, func(ctx context.Context) error {
		q := database.Conn(ctx, r.db)
		err := q.QueryRowContext(ctx, `
UPDATE products SET name=$2, description=$3, brand=$4, category=$5, price=$6,
       images=$7, color=$8, featured=$9, is_active=$10, updated_at=NOW()
WHERE id=$1
RETURNING created_at, updated_at`,
			p.ID, p.Name, p.Description, p.Brand, p.Category, p.Price,
			pq.StringArray(p.Images), p.Color, p.Featured, p.IsActive).
			Scan(&p.CreatedAt, &p.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		return upsertSizes(ctx, q, p.ID, p.Sizes)
	})
}
