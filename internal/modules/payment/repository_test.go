package payment

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txColumns = []string{"id", "idempotency_key", "provider_order_id", "provider_payment_id", "amount", "currency",
	"status", "provider_status", "retry_count", "last_error", "created_at", "updated_at"}

func TestPostgresGetByIdempotencyKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery(`SELECT id, idempotency_key`).
		WithArgs("order_1").
		WillReturnRows(sqlmock.NewRows(txColumns).
			AddRow(id.String(), "order_1", "order_P1", nil, "159.98", "INR", "created", "created", 0, "", now, now))

	tx, err := NewPostgresRepository(db).GetByIdempotencyKey(context.Background(), "order_1")
	require.NoError(t, err)
	assert.Equal(t, id, tx.ID)
	assert.Equal(t, "order_P1", tx.ProviderOrderID)
	assert.Empty(t, tx.ProviderPaymentID)
	assert.True(t, decimal.RequireFromString("159.98").Equal(tx.Amount))
	assert.Equal(t, TxCreated, tx.Status)
}

func TestPostgresGetByIdempotencyKeyMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, idempotency_key`).WillReturnRows(sqlmock.NewRows(txColumns))

	_, err = NewPostgresRepository(db).GetByIdempotencyKey(context.Background(), "order_1")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestPostgresRecordSettlementUnknownOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`UPDATE payment_transactions`).
		WithArgs("order_P9", "pay_1", TxCaptured, "captured").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewPostgresRepository(db).RecordSettlement(context.Background(), "order_P9", "pay_1", TxCaptured, "captured")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
