package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yummspb13/kiddeo22-sub010/internal/metrics"
	"github.com/yummspb13/kiddeo22-sub010/pkg/contracts"
)

// RefundManager validates and dispatches refund requests and reconciles the
// gateway's asynchronous refund outcomes. Pending refunds count against the
// refundable amount, so a burst of concurrent requests cannot overdraw a
// payment even before the gateway answers.
type RefundManager struct {
	store    Store
	gateway  PaymentGateway
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewRefundManager(store Store, gateway PaymentGateway, notifier Notifier, logger *slog.Logger) *RefundManager {
	return &RefundManager{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Create reserves and dispatches a refund against a paid payment.
func (m *RefundManager) Create(ctx context.Context, paymentID uuid.UUID, amount int64, reason string) (*Refund, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	refund := &Refund{
		ID:        uuid.New(),
		PaymentID: paymentID,
		Amount:    amount,
		Reason:    reason,
		Status:    RefundPending,
		CreatedAt: m.now().UTC(),
	}

	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentPaid {
			return ErrPaymentNotPaid
		}

		reserved, err := tx.SumRefunds(ctx, p.ID, []RefundStatus{RefundPending, RefundSucceeded})
		if err != nil {
			return fmt.Errorf("sum refunds: %w", err)
		}
		if reserved+amount > p.Amount {
			return ErrOverRefund
		}

		refund.OrderID = p.OrderID
		if err := tx.InsertRefund(ctx, refund); err != nil {
			return fmt.Errorf("insert refund: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.dispatch(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// dispatch sends a reserved refund to the gateway. On transport failure the
// reservation is released by marking the refund failed.
func (m *RefundManager) dispatch(ctx context.Context, refund *Refund) error {
	p, err := m.store.GetPayment(ctx, refund.PaymentID)
	if err != nil {
		return err
	}

	created, err := m.gateway.CreateRefund(ctx, CreateRefundParams{
		GatewayPaymentID: p.GatewayPaymentID,
		Amount:           refund.Amount,
		Currency:         p.Currency,
		Reason:           refund.Reason,
	})
	if err != nil {
		if markErr := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			_, err := tx.TransitionRefund(ctx, refund.ID, []RefundStatus{RefundPending}, RefundFailed)
			return err
		}); markErr != nil {
			m.logger.Error("mark refund failed", "refund_id", refund.ID, "err", markErr)
		}
		return fmt.Errorf("%w: create refund: %v", ErrGatewayUnavailable, err)
	}

	refund.ExternalID = created.ExternalID
	if err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetRefundExternalID(ctx, refund.ID, created.ExternalID)
	}); err != nil {
		return fmt.Errorf("store refund external id: %w", err)
	}

	metrics.RefundsCreated.Inc()
	return nil
}

// Reconcile applies a refund outcome notification with the same dedupe plus
// conditional-transition discipline as payment events.
func (m *RefundManager) Reconcile(ctx context.Context, ev GatewayEvent) error {
	var (
		updates   []orderUpdate
		duplicate bool
	)

	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, ev.DedupeKey())
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		if !fresh {
			duplicate = true
			return nil
		}

		refund, err := tx.RefundByExternalID(ctx, ev.ObjectID)
		if err != nil {
			if errors.Is(err, ErrRefundNotFound) {
				metrics.IntegrityAlerts.Inc()
				m.logger.Error("refund webhook for unknown refund", "external_id", ev.ObjectID)
				return nil
			}
			return fmt.Errorf("lookup refund: %w", err)
		}

		moved, err := tx.TransitionRefund(ctx, refund.ID, []RefundStatus{RefundPending}, RefundSucceeded)
		if err != nil {
			return fmt.Errorf("transition refund: %w", err)
		}
		if !moved {
			return nil
		}

		p, err := tx.GetPayment(ctx, refund.PaymentID)
		if err != nil {
			return err
		}
		refunded, err := tx.SumRefunds(ctx, p.ID, []RefundStatus{RefundSucceeded})
		if err != nil {
			return fmt.Errorf("sum refunds: %w", err)
		}
		if refunded < p.Amount {
			return nil
		}

		// The payment is refunded in full: the order and its tickets follow.
		orderMoved, err := tx.TransitionOrder(ctx, p.OrderID, []OrderStatus{OrderPaid}, OrderRefunded)
		if err != nil {
			return fmt.Errorf("transition order: %w", err)
		}
		if _, err := tx.TransitionOrderTickets(ctx, p.OrderID, TicketActive, TicketRefunded); err != nil {
			return fmt.Errorf("transition tickets: %w", err)
		}
		if !orderMoved {
			return nil
		}

		order, err := tx.GetOrder(ctx, p.OrderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if err := appendOutbox(ctx, tx, contracts.EventOrderRefunded, contracts.OrderRefundedEvent{
			EventID:    uuid.New().String(),
			OrderID:    order.ID.String(),
			UserID:     order.UserID.String(),
			Amount:     refunded,
			OccurredAt: m.now().UTC(),
		}); err != nil {
			return err
		}

		updates = append(updates, orderUpdate{orderID: order.ID, status: OrderRefunded})
		return nil
	})
	if err != nil {
		return err
	}
	if duplicate {
		metrics.EventsDuplicate.Inc()
		return nil
	}

	metrics.EventsProcessed.Inc()
	if m.notifier != nil {
		for _, u := range updates {
			m.notifier.OrderUpdated(u.orderID, u.status)
		}
	}
	return nil
}
