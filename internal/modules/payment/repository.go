package payment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/georgemunganga/storefront-backend/internal/database"
	"github.com/google/uuid"
)

// Repository defines data access for payment transactions.
type Repository interface {
	// Create fails with a unique violation when the idempotency key exists.
	Create(ctx context.Context, tx *Transaction) error
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Transaction, error)
	AttachProviderOrder(ctx context.Context, id uuid.UUID, providerOrderID, providerStatus string) error
	RecordAttemptError(ctx context.Context, id uuid.UUID, lastError string) error
	RecordSettlement(ctx context.Context, providerOrderID, paymentID string, status TxStatus, providerStatus string) error
}

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Create(ctx context.Context, tx *Transaction) error {
	return database.Conn(ctx, r.db).QueryRowContext(ctx, `
		INSERT INTO payment_transactions (id, idempotency_key, amount, currency, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		tx.ID, tx.IdempotencyKey, tx.Amount, tx.Currency, tx.Status).
		Scan(&tx.CreatedAt, &tx.UpdatedAt)
}

func (r *postgresRepo) GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error) {
	return scan(database.Conn(ctx, r.db).QueryRowContext(ctx, selectSQL+" WHERE idempotency_key=$1", key))
}

func (r *postgresRepo) GetByProviderOrderID(ctx context.Context, providerOrderID string) (*Transaction, error) {
	return scan(database.Conn(ctx, r.db).QueryRowContext(ctx, selectSQL+" WHERE provider_order_id=$1", providerOrderID))
}

func (r *postgresRepo) AttachProviderOrder(ctx context.Context, id uuid.UUID, providerOrderID, providerStatus string) error {
	return expectOne(database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payment_transactions
		SET provider_order_id=$2, provider_status=$3, status=$4, last_error='', updated_at=NOW()
		WHERE id=$1`,
		id, providerOrderID, providerStatus, TxCreated))
}

func (r *postgresRepo) RecordAttemptError(ctx context.Context, id uuid.UUID, lastError string) error {
	return expectOne(database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payment_transactions SET retry_count=retry_count+1, last_error=$2, updated_at=NOW() WHERE id=$1`,
		id, lastError))
}

func (r *postgresRepo) RecordSettlement(ctx context.Context, providerOrderID, paymentID string, status TxStatus, providerStatus string) error {
	return expectOne(database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE payment_transactions
		SET provider_payment_id=$2, status=$3, provider_status=$4, updated_at=NOW()
		WHERE provider_order_id=$1`,
		providerOrderID, paymentID, status, providerStatus))
}

const selectSQL = `
	SELECT id, idempotency_key, provider_order_id, provider_payment_id, amount, currency,
	       status, provider_status, retry_count, last_error, created_at, updated_at
	FROM payment_transactions`

type rowScanner interface{ Scan(dest ...any) error }

func scan(row rowScanner) (*Transaction, error) {
	tx := &Transaction{}
	var providerOrderID, providerPaymentID sql.NullString
	err := row.Scan(&tx.ID, &tx.IdempotencyKey, &providerOrderID, &providerPaymentID,
		&tx.Amount, &tx.Currency, &tx.Status, &tx.ProviderStatus,
		&tx.RetryCount, &tx.LastError, &tx.CreatedAt, &tx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	tx.ProviderOrderID = providerOrderID.String
	tx.ProviderPaymentID = providerPaymentID.String
	return tx, nil
}

func expectOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
