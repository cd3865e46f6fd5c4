package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/georgemunganga/storefront-backend/internal/database"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

// CreateOrder inserts the order and all its items inside a single transaction.
func (r *postgresRepo) CreateOrder(ctx context.Context, o *Order) error {
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return err
	}

	return database.WithinTx(ctx, r.db, func(ctx context.Context) error {
		q := database.Conn(ctx, r.db)
		err := q.QueryRowContext(ctx, `
			INSERT INTO orders
			  (id, order_number, user_id, idempotency_key, shipping_address, total_amount,
			   currency, status, payment_status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING created_at, updated_at, version`,
			o.ID, o.OrderNumber, o.OwnerID, nilIfEmpty(o.IdempotencyKey), address, o.TotalAmount,
			o.Currency, o.Status, o.PaymentResult.Status).
			Scan(&o.CreatedAt, &o.UpdatedAt, &o.Version)
		if database.IsUniqueViolation(err, "orders_user_idempotency_key") {
			return ErrDuplicateOrder
		}
		if database.IsUniqueViolation(err, "orders_order_number_key") {
			return errOrderNumberTaken
		}
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range o.Items {
			_, err = q.ExecContext(ctx, `
				INSERT INTO order_items
				  (id, order_id, position, product_id, product_name, size, quantity, unit_price, line_total)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				uuid.New(), o.ID, i, item.ProductID, item.Name, item.Size,
				item.Quantity, item.Price, item.LineTotal)
			if err != nil {
				return fmt.Errorf("insert order_item: %w", err)
			}
		}
		return nil
	})
}

const selectOrderSQL = `
	SELECT o.id, o.order_number, o.user_id, COALESCE(o.idempotency_key, ''), o.shipping_address,
	       o.total_amount, o.currency, o.status, o.failure_reason, o.provider_order_id,
	       o.provider_payment_id, o.payment_status, o.payment_updated_at, o.version,
	       o.created_at, o.updated_at, o.shipped_at, o.delivered_at,
	       u.first_name, u.last_name, u.email
	FROM orders o JOIN users u ON u.id = o.user_id`

type rowScanner interface{ Scan(dest ...any) error }

func scanOrder(row rowScanner) (*Order, error) {
	o := &Order{}
	var address []byte
	var providerOrderID, providerPaymentID sql.NullString
	var paymentUpdated, shippedAt, deliveredAt sql.NullTime
	var firstName, lastName, email string

	err := row.Scan(&o.ID, &o.OrderNumber, &o.OwnerID, &o.IdempotencyKey, &address,
		&o.TotalAmount, &o.Currency, &o.Status, &o.FailureReason, &providerOrderID,
		&providerPaymentID, &o.PaymentResult.Status, &paymentUpdated, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &shippedAt, &deliveredAt,
		&firstName, &lastName, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	o.PaymentResult.ProviderOrderID = providerOrderID.String
	o.PaymentResult.ProviderPaymentID = providerPaymentID.String
	o.PaymentResult.UpdateTime = timePtr(paymentUpdated)
	o.ShippedAt = timePtr(shippedAt)
	o.DeliveredAt = timePtr(deliveredAt)
	o.Customer = &Customer{Name: strings.TrimSpace(firstName + " " + lastName), Email: email}
	return o, nil
}

// getOne loads a single order with items and history.
func (r *postgresRepo) getOne(ctx context.Context, where string, args ...any) (*Order, error) {
	q := database.Conn(ctx, r.db)
	o, err := scanOrder(q.QueryRowContext(ctx, selectOrderSQL+" "+where, args...))
	if err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, []*Order{o}); err != nil {
		return nil, err
	}
	o.History, err = r.history(ctx, o.ID)
	return o, err
}

func (r *postgresRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOne(ctx, "WHERE o.id=$1", id)
}

func (r *postgresRepo) GetOrderByIdempotencyKey(ctx context.Context, ownerID uuid.UUID, key string) (*Order, error) {
	return r.getOne(ctx, "WHERE o.user_id=$1 AND o.idempotency_key=$2", ownerID, key)
}

func (r *postgresRepo) GetOrderByProviderOrderID(ctx context.Context, providerOrderID string) (*Order, error) {
	return r.getOne(ctx, "WHERE o.provider_order_id=$1", providerOrderID)
}

func (r *postgresRepo) ListOrdersByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Order, error) {
	return r.list(ctx, selectOrderSQL+" WHERE o.user_id=$1 ORDER BY o.created_at DESC", ownerID)
}

func (r *postgresRepo) ListOrders(ctx context.Context, f ListFilter) ([]*Order, error) {
	query := selectOrderSQL + " WHERE 1=1"
	var args []any
	n := 1
	if f.Status != "" {
		query += fmt.Sprintf(" AND o.status=$%d", n)
		args = append(args, f.Status)
		n++
	}
	if f.From != nil {
		query += fmt.Sprintf(" AND o.created_at >= $%d", n)
		args = append(args, *f.From)
		n++
	}
	if f.To != nil {
		query += fmt.Sprintf(" AND o.created_at <= $%d", n)
		args = append(args, *f.To)
		n++
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		query += fmt.Sprintf(` AND (o.id::text ILIKE $%[1]d OR o.order_number ILIKE $%[1]d
			OR (u.first_name || ' ' || u.last_name) ILIKE $%[1]d OR u.email ILIKE $%[1]d)`, n)
		args = append(args, "%"+likeEscaper.Replace(s)+"%")
		n++
	}
	query += " ORDER BY o.created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, f.Limit)
	}
	return r.list(ctx, query, args...)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *postgresRepo) list(ctx context.Context, query string, args ...any) ([]*Order, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *postgresRepo) attachItems(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[uuid.UUID]*Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID.String()
		byID[o.ID] = o
	}

	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT order_id, product_id, product_name, size, quantity, unit_price, line_total
		FROM order_items WHERE order_id = ANY($1::uuid[]) ORDER BY order_id, position`, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var orderID uuid.UUID
		var it Item
		if err := rows.Scan(&orderID, &it.ProductID, &it.Name, &it.Size, &it.Quantity, &it.Price, &it.LineTotal); err != nil {
			return err
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func (r *postgresRepo) history(ctx context.Context, id uuid.UUID) ([]StatusChange, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT from_status, to_status, reason, changed_at
		FROM order_status_history WHERE order_id=$1 ORDER BY changed_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.From, &c.To, &c.Reason, &c.ChangedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *postgresRepo) UpdateOrder(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, o *Order) error) (*Order, error) {
	var out *Order
	err := database.WithinTx(ctx, r.db, func(ctx context.Context) error {
		o, err := r.getOne(ctx, "WHERE o.id=$1 FOR UPDATE OF o", id)
		if err != nil {
			return err
		}
		recorded := len(o.History)

		if err := fn(ctx, o); err != nil {
			if errors.Is(err, errUnchanged) {
				out = o
				return nil
			}
			return err
		}

		q := database.Conn(ctx, r.db)
		err = q.QueryRowContext(ctx, `
			UPDATE orders
			SET status=$3, failure_reason=$4, provider_order_id=$5, provider_payment_id=$6,
			    payment_status=$7, payment_updated_at=$8, shipped_at=$9, delivered_at=$10,
			    version=version+1, updated_at=NOW()
			WHERE id=$1 AND version=$2
			RETURNING version, updated_at`,
			o.ID, o.Version, o.Status, o.FailureReason,
			nilIfEmpty(o.PaymentResult.ProviderOrderID), nilIfEmpty(o.PaymentResult.ProviderPaymentID),
			o.PaymentResult.Status, o.PaymentResult.UpdateTime, o.ShippedAt, o.DeliveredAt).
			Scan(&o.Version, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		for _, c := range o.History[recorded:] {
			_, err := q.ExecContext(ctx, `
				INSERT INTO order_status_history (order_id, from_status, to_status, reason, changed_at)
				VALUES ($1,$2,$3,$4,$5)`, o.ID, c.From, c.To, c.Reason, c.ChangedAt)
			if err != nil {
				return fmt.Errorf("insert status history: %w", err)
			}
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *postgresRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id FROM orders
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at LIMIT $3`, StatusPendingPayment, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *postgresRepo) Dashboard(ctx context.Context, recent, top int) (*Dashboard, error) {
	q := database.Conn(ctx, r.db)
	d := &Dashboard{}

	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount) FILTER (
		           WHERE payment_status=$1 AND status NOT IN ($2, $3)), 0),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE status=$4),
		       COUNT(*) FILTER (WHERE status=$5),
		       COUNT(*) FILTER (WHERE failure_reason=$6)
		FROM orders`,
		PaymentCompleted, StatusCancelled, StatusPaymentFailed,
		StatusPendingPayment, StatusProcessing, ReasonStockExhausted).
		Scan(&d.TotalRevenue, &d.TotalOrders, &d.PendingOrders, &d.ProcessingOrders, &d.ReconciliationOrders)
	if err != nil {
		return nil, fmt.Errorf("order totals: %w", err)
	}

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&d.TotalUsers); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	d.RecentOrders, err = r.ListOrders(ctx, ListFilter{Limit: recent})
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT i.product_id, MAX(i.product_name), COALESCE(MAX(p.brand), ''),
		       SUM(i.quantity), SUM(i.line_total)
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		LEFT JOIN products p ON p.id = i.product_id
		WHERE o.payment_status=$1 AND o.status NOT IN ($2, $3)
		GROUP BY i.product_id
		ORDER BY SUM(i.quantity) DESC
		LIMIT $4`, PaymentCompleted, StatusCancelled, StatusPaymentFailed, top)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	defer rows.Close()

	d.TopProducts = []TopProduct{}
	for rows.Next() {
		var tp TopProduct
		var revenue decimal.NullDecimal
		if err := rows.Scan(&tp.ProductID, &tp.Name, &tp.Brand, &tp.UnitsSold, &revenue); err != nil {
			return nil, err
		}
		tp.Revenue = revenue.Decimal
		d.TopProducts = append(d.TopProducts, tp)
	}
	return d, rows.Err()
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
