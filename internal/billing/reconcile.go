package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yummspb13/kiddeo22-sub010/internal/metrics"
	"github.com/yummspb13/kiddeo22-sub010/pkg/contracts"
)

// Reconciler applies gateway webhook events to payment and order state.
// The gateway delivers at least once, concurrently and possibly out of order;
// the engine converts that into exactly-once business effects by running every
// event through a dedupe-ledger insert and conditional transitions inside a
// single storage transaction.
type Reconciler struct {
	store       Store
	refunds     *RefundManager
	notifier    Notifier
	expiryGrace time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

func NewReconciler(store Store, refunds *RefundManager, notifier Notifier, expiryGrace time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		refunds:     refunds,
		notifier:    notifier,
		expiryGrace: expiryGrace,
		logger:      logger,
		now:         time.Now,
	}
}

type orderUpdate struct {
	orderID uuid.UUID
	status  OrderStatus
}

// HandleEvent processes one gateway notification. A nil return means the
// event is settled and the webhook may be acknowledged: applied, skipped as a
// duplicate, or recorded as an integrity violation. Errors mean storage
// failed mid-flight and the gateway should redeliver.
func (r *Reconciler) HandleEvent(ctx context.Context, ev GatewayEvent) error {
	if ev.Kind == EventUnknown {
		r.logger.Warn("unknown gateway event acknowledged", "object_id", ev.ObjectID)
		return nil
	}
	if ev.Kind == EventRefundSucceeded {
		return r.refunds.Reconcile(ctx, ev)
	}

	var (
		updates    []orderUpdate
		autoRefund *Refund
		duplicate  bool
	)

	err := r.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, ev.DedupeKey())
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		if !fresh {
			duplicate = true
			return nil
		}

		p, err := tx.PaymentByGatewayID(ctx, ev.GatewayPaymentID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				// The event is kept in the ledger so the gateway stops
				// retrying, but nothing cascades from it.
				metrics.IntegrityAlerts.Inc()
				r.logger.Error("webhook for unknown payment",
					"gateway_payment_id", ev.GatewayPaymentID, "kind", ev.Kind)
				return nil
			}
			return fmt.Errorf("lookup payment: %w", err)
		}

		if err := tx.SetPaymentGatewayStatus(ctx, p.ID, string(ev.Kind)); err != nil {
			return fmt.Errorf("set gateway status: %w", err)
		}

		switch ev.Kind {
		case EventSucceeded:
			return r.applySucceeded(ctx, tx, p, ev, &updates, &autoRefund)
		case EventCanceled:
			return r.applyCanceled(ctx, tx, p, &updates)
		case EventWaitingCapture:
			_, err := tx.TransitionPayment(ctx, p.ID, []PaymentStatus{PaymentPending}, PaymentProcessing)
			return err
		}
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
	r.publishUpdates(updates)

	if autoRefund != nil {
		// Best effort: the refund row is committed; if dispatch fails here it
		// stays pending without an external id and shows up in the
		// pending-refunds listing.
		if err := r.refunds.dispatch(ctx, autoRefund); err != nil {
			r.logger.Error("auto refund dispatch failed",
				"refund_id", autoRefund.ID, "payment_id", autoRefund.PaymentID, "err", err)
		}
	}
	return nil
}

func (r *Reconciler) applySucceeded(ctx context.Context, tx Tx, p *Payment, ev GatewayEvent, updates *[]orderUpdate, autoRefund **Refund) error {
	if ev.Amount != p.Amount || ev.Currency != p.Currency {
		metrics.IntegrityAlerts.Inc()
		r.logger.Error("webhook amount mismatch",
			"payment_id", p.ID,
			"expected", p.Amount, "got", ev.Amount,
			"expected_currency", p.Currency, "got_currency", ev.Currency)
		return nil
	}

	moved, err := tx.TransitionPayment(ctx, p.ID, []PaymentStatus{PaymentPending, PaymentProcessing}, PaymentPaid)
	if err != nil {
		return fmt.Errorf("transition payment: %w", err)
	}
	if !moved {
		// A concurrent delivery already settled this payment.
		return nil
	}

	order, err := tx.GetOrder(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}

	orderPaid, err := tx.TransitionOrder(ctx, order.ID, []OrderStatus{OrderPending}, OrderPaid)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if !orderPaid && order.Status == OrderExpired && r.now().Before(order.ExpiresAt.Add(r.expiryGrace)) {
		// The sweeper won the race but the customer did pay; within the
		// grace window the payment is honored.
		orderPaid, err = tx.TransitionOrder(ctx, order.ID, []OrderStatus{OrderExpired}, OrderPaid)
		if err != nil {
			return fmt.Errorf("transition expired order: %w", err)
		}
	}
	if !orderPaid {
		// The order can no longer be fulfilled (expired past grace, or
		// otherwise terminal) while the money was captured. Refund in full;
		// no tickets, no loyalty.
		metrics.IntegrityAlerts.Inc()
		r.logger.Error("successful payment for unfulfillable order",
			"order_id", order.ID, "order_status", order.Status, "payment_id", p.ID)

		refund := &Refund{
			ID:        uuid.New(),
			OrderID:   order.ID,
			PaymentID: p.ID,
			Amount:    p.Amount,
			Reason:    "order no longer fulfillable at payment time",
			Status:    RefundPending,
			CreatedAt: r.now().UTC(),
		}
		if err := tx.InsertRefund(ctx, refund); err != nil {
			return fmt.Errorf("insert auto refund: %w", err)
		}
		*autoRefund = refund
		return nil
	}

	tickets := issueTickets(order)
	if err := tx.InsertTickets(ctx, tickets); err != nil {
		return fmt.Errorf("insert tickets: %w", err)
	}
	metrics.TicketsIssued.Add(float64(len(tickets)))

	orderID := order.ID
	if _, err := tx.InsertLoyaltyEntry(ctx, LoyaltyLedgerEntry{
		UserID:      order.UserID,
		Points:      p.Amount / 100,
		Category:    LoyaltyPurchase,
		Description: "points for paid order",
		OrderID:     &orderID,
		CreatedAt:   r.now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert loyalty entry: %w", err)
	}

	now := r.now().UTC()
	if err := appendOutbox(ctx, tx, contracts.EventOrderPaid, contracts.OrderPaidEvent{
		EventID:    uuid.New().String(),
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		VendorID:   order.VendorID.String(),
		Amount:     p.Amount,
		Currency:   p.Currency,
		OccurredAt: now,
	}); err != nil {
		return err
	}
	if err := appendOutbox(ctx, tx, contracts.EventTicketsIssued, contracts.TicketsIssuedEvent{
		EventID:    uuid.New().String(),
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		Count:      len(tickets),
		OccurredAt: now,
	}); err != nil {
		return err
	}

	*updates = append(*updates, orderUpdate{orderID: order.ID, status: OrderPaid})
	return nil
}

func (r *Reconciler) applyCanceled(ctx context.Context, tx Tx, p *Payment, updates *[]orderUpdate) error {
	moved, err := tx.TransitionPayment(ctx, p.ID, []PaymentStatus{PaymentPending, PaymentProcessing}, PaymentCancelled)
	if err != nil {
		return fmt.Errorf("transition payment: %w", err)
	}
	if !moved {
		// Late cancel after the payment settled: business state must not
		// regress. The audit column was already updated above.
		return nil
	}

	orderMoved, err := tx.TransitionOrder(ctx, p.OrderID, []OrderStatus{OrderPending}, OrderCancelled)
	if err != nil {
		return fmt.Errorf("transition order: %w", err)
	}
	if !orderMoved {
		return nil
	}

	order, err := tx.GetOrder(ctx, p.OrderID)
	if err != nil {
		return fmt.Errorf("load order: %w", err)
	}
	if err := appendOutbox(ctx, tx, contracts.EventOrderCanceled, contracts.OrderCanceledEvent{
		EventID:    uuid.New().String(),
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		OccurredAt: r.now().UTC(),
	}); err != nil {
		return err
	}

	*updates = append(*updates, orderUpdate{orderID: order.ID, status: OrderCancelled})
	return nil
}

func (r *Reconciler) publishUpdates(updates []orderUpdate) {
	if r.notifier == nil {
		return
	}
	for _, u := range updates {
		r.notifier.OrderUpdated(u.orderID, u.status)
	}
}

func issueTickets(order *Order) []Ticket {
	var tickets []Ticket
	for _, item := range order.Items {
		for i := 0; i < item.Quantity; i++ {
			tickets = append(tickets, Ticket{
				ID:           uuid.New(),
				OrderID:      order.ID,
				TicketTypeID: item.TicketTypeID,
				QRCode:       uuid.New().String(),
				Status:       TicketActive,
			})
		}
	}
	return tickets
}

func appendOutbox(ctx context.Context, tx Tx, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	if err := tx.AppendOutbox(ctx, eventType, body); err != nil {
		return fmt.Errorf("append outbox: %w", err)
	}
	return nil
}
