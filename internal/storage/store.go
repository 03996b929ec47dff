// Package storage implements the billing store on PostgreSQL. Conditional
// transitions are single UPDATE statements guarded by the current status, the
// dedupe ledger is a primary-key insert with ON CONFLICT DO NOTHING, and the
// loyalty uniqueness guard is a partial unique index.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse db url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &Tx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateOrder(ctx context.Context, o *billing.Order) error {
	if o.FinalAmount != o.TotalAmount-o.DiscountAmount || o.FinalAmount < 0 {
		return fmt.Errorf("inconsistent order amounts")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, vendor_id, user_id, listing_id, status, total_amount, discount_amount, final_amount, currency, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`,
		o.ID, o.VendorID, o.UserID, o.ListingID, o.Status,
		o.TotalAmount, o.DiscountAmount, o.FinalAmount, o.Currency,
		o.ExpiresAt, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for _, item := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, ticket_type_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)`,
			o.ID, item.TicketTypeID, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*billing.Order, error) {
	return getOrder(ctx, s.pool, id, false)
}

func (s *Store) GetPayment(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	return getPayment(ctx, s.pool, id, false)
}

func (s *Store) CreatePayment(ctx context.Context, p *billing.Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, order_id, amount, currency, status, gateway_payment_id, gateway_redirect_url, gateway_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.OrderID, p.Amount, p.Currency, p.Status,
		p.GatewayPaymentID, p.GatewayRedirectURL, p.GatewayStatus, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Store) PendingRefunds(ctx context.Context, limit int) ([]billing.Refund, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, payment_id, amount, reason, status, external_id, created_at
		FROM refunds
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending refunds: %w", err)
	}
	defer rows.Close()

	var result []billing.Refund
	for rows.Next() {
		var r billing.Refund
		if err := rows.Scan(&r.ID, &r.OrderID, &r.PaymentID, &r.Amount, &r.Reason, &r.Status, &r.ExternalID, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// pgxQuerier covers both the pool and transaction handles.
type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getOrder(ctx context.Context, q pgxQuerier, id uuid.UUID, forUpdate bool) (*billing.Order, error) {
	query := `
		SELECT id, vendor_id, user_id, listing_id, status, total_amount, discount_amount, final_amount, currency, expires_at, created_at, updated_at
		FROM orders
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var o billing.Order
	err := q.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.VendorID, &o.UserID, &o.ListingID, &o.Status,
		&o.TotalAmount, &o.DiscountAmount, &o.FinalAmount, &o.Currency,
		&o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT ticket_type_id, quantity, unit_price
		FROM order_items
		WHERE order_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item billing.OrderItem
		if err := rows.Scan(&item.TicketTypeID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func getPayment(ctx context.Context, q pgxQuerier, id uuid.UUID, forUpdate bool) (*billing.Payment, error) {
	query := `
		SELECT id, order_id, amount, currency, status, gateway_payment_id, gateway_redirect_url, gateway_status, created_at, paid_at
		FROM payments
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanPayment(q.QueryRow(ctx, query, id))
}

func scanPayment(row pgx.Row) (*billing.Payment, error) {
	var p billing.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Status,
		&p.GatewayPaymentID, &p.GatewayRedirectURL, &p.GatewayStatus,
		&p.CreatedAt, &p.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}
