package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
	"github.com/yummspb13/kiddeo22-sub010/pkg/contracts"
)

func TestCreateRefund_OverRefundRejected(t *testing.T) {
	e := newEnv(t)
	order := e.seedOrder(t, billing.OrderPaid, time.Now().Add(time.Hour))
	payment := e.seedPayment(t, order, billing.PaymentPaid, "gw-1")

	e.store.SeedRefund(billing.Refund{
		ID:         uuid.New(),
		OrderID:    order.ID,
		PaymentID:  payment.ID,
		Amount:     100000,
		Status:     billing.RefundSucceeded,
		ExternalID: "gw-ref-seeded",
		CreatedAt:  time.Now().UTC(),
	})

	_, err := e.refunds.Create(context.Background(), payment.ID, 60000, "customer request")
	require.ErrorIs(t, err, billing.ErrOverRefund)

	refund, err := e.refunds.Create(context.Background(), payment.ID, 50000, "customer request")
	require.NoError(t, err)
	assert.Equal(t, billing.RefundPending, e.store.Refund(refund.ID).Status)
	assert.NotEmpty(t, e.store.Refund(refund.ID).ExternalID)
}

func TestCreateRefund_PendingRefundsCountAgainstLimit(t *testing.T) {
	e := newEnv(t)
	order := e.seedOrder(t, billing.OrderPaid, time.Now().Add(time.Hour))
	payment := e.seedPayment(t, order, billing.PaymentPaid, "gw-1")

	_, err := e.refunds.Create(context.Background(), payment.ID, 100000, "first")
	require.NoError(t, err)

	// The first refund has not settled, but it already reserves its amount.
	_, err = e.refunds.Create(context.Background(), payment.ID, 60000, "second")
	require.ErrorIs(t, err, billing.ErrOverRefund)
}

func TestCreateRefund_Validation(t *testing.T) {
	e := newEnv(t)
	order := e.seedOrder(t, billing.OrderPending, time.Now().Add(time.Hour))
	payment := e.seedPayment(t, order, billing.PaymentPending, "gw-1")

	_, err := e.refunds.Create(context.Background(), payment.ID, 0, "zero")
	require.ErrorIs(t, err, billing.ErrInvalidAmount)

	_, err = e.refunds.Create(context.Background(), payment.ID, 1000, "not paid")
	require.ErrorIs(t, err, billing.ErrPaymentNotPaid)

	_, err = e.refunds.Create(context.Background(), uuid.New(), 1000, "missing")
	require.ErrorIs(t, err, billing.ErrPaymentNotFound)
}

func TestCreateRefund_GatewayFailureReleasesReservation(t *testing.T) {
	e := newEnv(t)
	order := e.seedOrder(t, billing.OrderPaid, time.Now().Add(time.Hour))
	payment := e.seedPayment(t, order, billing.PaymentPaid, "gw-1")

	e.gateway.CreateRefundErr = errors.New("connection reset")
	_, err := e.refunds.Create(context.Background(), payment.ID, 150000, "full")
	require.ErrorIs(t, err, billing.ErrGatewayUnavailable)

	// The failed attempt no longer reserves the amount.
	e.gateway.CreateRefundErr = nil
	refund, err := e.refunds.Create(context.Background(), payment.ID, 150000, "full retry")
	require.NoError(t, err)
	assert.Equal(t, billing.RefundPending, e.store.Refund(refund.ID).Status)
}

func TestReconcileRefund_FullRefundCascades(t *testing.T) {
	e := newEnv(t)
	order := e.seedOrder(t, billing.OrderPaid, time.Now().Add(time.Hour))
	payment := e.seedPayment(t, order, billing.PaymentPaid, "gw-1")
	e.store.SeedTickets(
		billing.Ticket{ID: uuid.New(), OrderID: order.ID, QRCode: "qr-1", Status: billing.TicketActive},
		billing.Ticket{ID: uuid.New(), OrderID: order.ID, QRCode: "qr-2", Status: billing.TicketActive},
	)

	refund, err := e.refunds.Create(context.Background(), payment.ID, 150000, "event cancelled")
	require.NoError(t, err)

	ev := billing.GatewayEvent{
		Kind:             billing.EventRefundSucceeded,
		ObjectID:         e.store.Refund(refund.ID).ExternalID,
		GatewayPaymentID: "gw-1",
		Amount:           150000,
		Currency:         "RUB",
	}
	require.NoError(t, e.reconciler.HandleEvent(context.Background(), ev))

	assert.Equal(t, billing.RefundSucceeded, e.store.Refund(refund.ID).Status)
	assert.Equal(t, billing.OrderRefunded, e.store.Order(order.ID).Status)
	for _, ticket := range e.store.Tickets(order.ID) {
		assert.Equal(t, billing.TicketRefunded, ticket.Status)
	}
	assert.Contains(t, e.store.OutboxTypes(), contracts.EventOrderRefunded)

	// Redelivery of the refund outcome changes nothing.
	require.NoError(t, e.reconciler.HandleEvent(context.Background(), ev))
	refundedEvents := 0
	for _, typ := range e.store.OutboxTypes() {
		if typ == contracts.EventOrderRefunded {
			refundedEvents++
		}
	}
	assert.Equal(t, 1, refundedEvents)
}

func TestReconcileRefund_PartialRefundKeepsOrderPaid(t *testing.T) {
	e := newEnv(t)
	order := e.seedOrder(t, billing.OrderPaid, time.Now().Add(time.Hour))
	payment := e.seedPayment(t, order, billing.PaymentPaid, "gw-1")
	e.store.SeedTickets(
		billing.Ticket{ID: uuid.New(), OrderID: order.ID, QRCode: "qr-1", Status: billing.TicketActive},
	)

	refund, err := e.refunds.Create(context.Background(), payment.ID, 50000, "one ticket")
	require.NoError(t, err)

	require.NoError(t, e.reconciler.HandleEvent(context.Background(), billing.GatewayEvent{
		Kind:             billing.EventRefundSucceeded,
		ObjectID:         e.store.Refund(refund.ID).ExternalID,
		GatewayPaymentID: "gw-1",
		Amount:           50000,
		Currency:         "RUB",
	}))

	assert.Equal(t, billing.RefundSucceeded, e.store.Refund(refund.ID).Status)
	assert.Equal(t, billing.OrderPaid, e.store.Order(order.ID).Status)
	for _, ticket := range e.store.Tickets(order.ID) {
		assert.Equal(t, billing.TicketActive, ticket.Status)
	}
}

func TestReconcileRefund_UnknownRefundRecorded(t *testing.T) {
	e := newEnv(t)

	err := e.reconciler.HandleEvent(context.Background(), billing.GatewayEvent{
		Kind:     billing.EventRefundSucceeded,
		ObjectID: "gw-ref-mystery",
	})
	require.NoError(t, err)
	assert.True(t, e.store.EventSeen("refund_succeeded:gw-ref-mystery"))
}
