package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
)

// Tx implements billing.Tx over one pgx transaction.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) MarkEventProcessed(ctx context.Context, key string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO webhook_events (event_key, processed_at)
		VALUES ($1, NOW())
		ON CONFLICT (event_key) DO NOTHING`, key,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *Tx) GetOrder(ctx context.Context, id uuid.UUID) (*billing.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *Tx) GetPayment(ctx context.Context, id uuid.UUID) (*billing.Payment, error) {
	return getPayment(ctx, t.tx, id, true)
}

func (t *Tx) PaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*billing.Payment, error) {
	return scanPayment(t.tx.QueryRow(ctx, `
		SELECT id, order_id, amount, currency, status, gateway_payment_id, gateway_redirect_url, gateway_status, created_at, paid_at
		FROM payments
		WHERE gateway_payment_id = $1
		FOR UPDATE`, gatewayPaymentID,
	))
}

func (t *Tx) TransitionPayment(ctx context.Context, id uuid.UUID, from []billing.PaymentStatus, to billing.PaymentStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET status = $2,
		    paid_at = CASE WHEN $2 = 'paid' THEN NOW() ELSE paid_at END
		WHERE id = $1 AND status = ANY($3)`,
		id, to, paymentStatuses(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition payment: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *Tx) SetPaymentGatewayStatus(ctx context.Context, id uuid.UUID, gatewayStatus string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE payments
		SET gateway_status = $2
		WHERE id = $1`, id, gatewayStatus,
	)
	if err != nil {
		return fmt.Errorf("set gateway status: %w", err)
	}
	return nil
}

func (t *Tx) TransitionOrder(ctx context.Context, id uuid.UUID, from []billing.OrderStatus, to billing.OrderStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, to, orderStatuses(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition order: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *Tx) InsertTickets(ctx context.Context, tickets []billing.Ticket) error {
	for _, ticket := range tickets {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO tickets (id, order_id, ticket_type_id, qr_code, status)
			VALUES ($1, $2, $3, $4, $5)`,
			ticket.ID, ticket.OrderID, ticket.TicketTypeID, ticket.QRCode, ticket.Status,
		)
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
	}
	return nil
}

func (t *Tx) InsertLoyaltyEntry(ctx context.Context, entry billing.LoyaltyLedgerEntry) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO loyalty_ledger (user_id, points, category, description, order_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, category) WHERE category = 'purchase' DO NOTHING`,
		entry.UserID, entry.Points, entry.Category, entry.Description, entry.OrderID, entry.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert loyalty entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *Tx) InsertRefund(ctx context.Context, r *billing.Refund) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO refunds (id, order_id, payment_id, amount, reason, status, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.OrderID, r.PaymentID, r.Amount, r.Reason, r.Status, r.ExternalID, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (t *Tx) RefundByExternalID(ctx context.Context, externalID string) (*billing.Refund, error) {
	var r billing.Refund
	err := t.tx.QueryRow(ctx, `
		SELECT id, order_id, payment_id, amount, reason, status, external_id, created_at
		FROM refunds
		WHERE external_id = $1
		FOR UPDATE`, externalID,
	).Scan(&r.ID, &r.OrderID, &r.PaymentID, &r.Amount, &r.Reason, &r.Status, &r.ExternalID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrRefundNotFound
		}
		return nil, fmt.Errorf("get refund: %w", err)
	}
	return &r, nil
}

func (t *Tx) TransitionRefund(ctx context.Context, id uuid.UUID, from []billing.RefundStatus, to billing.RefundStatus) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE refunds
		SET status = $2
		WHERE id = $1 AND status = ANY($3)`,
		id, to, refundStatuses(from),
	)
	if err != nil {
		return false, fmt.Errorf("transition refund: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *Tx) SetRefundExternalID(ctx context.Context, id uuid.UUID, externalID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE refunds
		SET external_id = $2
		WHERE id = $1`, id, externalID,
	)
	if err != nil {
		return fmt.Errorf("set refund external id: %w", err)
	}
	return nil
}

func (t *Tx) SumRefunds(ctx context.Context, paymentID uuid.UUID, statuses []billing.RefundStatus) (int64, error) {
	var total int64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM refunds
		WHERE payment_id = $1 AND status = ANY($2)`,
		paymentID, refundStatuses(statuses),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum refunds: %w", err)
	}
	return total, nil
}

func (t *Tx) TransitionOrderTickets(ctx context.Context, orderID uuid.UUID, from, to billing.TicketStatus) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET status = $3
		WHERE order_id = $1 AND status = $2`,
		orderID, from, to,
	)
	if err != nil {
		return 0, fmt.Errorf("transition tickets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *Tx) ExpireOrders(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE orders
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND expires_at < $1
		RETURNING id`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("expire orders: %w", err)
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

func (t *Tx) AppendOutbox(ctx context.Context, eventType string, payload []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO billing_outbox (event_type, payload)
		VALUES ($1, $2)`, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func paymentStatuses(in []billing.PaymentStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func orderStatuses(in []billing.OrderStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func refundStatuses(in []billing.RefundStatus) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
