package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/georgemunganga/storefront-backend/internal/modules/inventory"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var productColumns = []string{"id", "name", "description", "brand", "category", "price", "images", "color", "featured", "is_active", "created_at", "updated_at"}

func TestPostgresCreateInsertsSizes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	p := &Product{
		ID: uuid.New(), Name: "Court Classic", Brand: "Stride", Category: "sports",
		Price: decimal.RequireFromString("79.99"), Images: []string{"a.jpg"}, IsActive: true,
		Sizes: []inventory.SizeStock{{Size: 9, Stock: 3}, {Size: 10, Stock: 1}},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO products`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectExec(`INSERT INTO product_sizes`).WithArgs(p.ID, inventory.Size(9), 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO product_sizes`).WithArgs(p.ID, inventory.Size(10), 1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewPostgresRepository(db).Create(context.Background(), p))
	assert.Equal(t, now, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(`SELECT id,name,description`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(productColumns).
			AddRow(id.String(), "Court Classic", "", "Stride", "sports", "79.99", "{a.jpg,b.jpg}", "white", false, true, now, now))
	mock.ExpectQuery(`SELECT product_id, size, stock FROM product_sizes`).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "size", "stock"}).
			AddRow(id.String(), "9.0", 3).
			AddRow(id.String(), "10.5", 0))

	p, err := NewPostgresRepository(db).GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, p.Images)
	assert.True(t, decimal.RequireFromString("79.99").Equal(p.Price))
	assert.Equal(t, []inventory.SizeStock{{Size: 9, Stock: 3}, {Size: 10.5, Stock: 0}}, p.Sizes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id,name,description`).WillReturnRows(sqlmock.NewRows(productColumns))

	_, err = NewPostgresRepository(db).GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrProductNotFound)
}
