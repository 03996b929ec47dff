package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
	"github.com/yummspb13/kiddeo22-sub010/pkg/contracts"
)

func TestSweep_ExpiresOnlyStalePendingOrders(t *testing.T) {
	e := newEnv(t)
	stale := e.seedOrder(t, billing.OrderPending, time.Now().Add(-time.Hour))
	fresh := e.seedOrder(t, billing.OrderPending, time.Now().Add(time.Hour))
	paid := e.seedOrder(t, billing.OrderPaid, time.Now().Add(-time.Hour))

	count, err := e.sweeper.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, billing.OrderExpired, e.store.Order(stale.ID).Status)
	assert.Equal(t, billing.OrderPending, e.store.Order(fresh.ID).Status)
	assert.Equal(t, billing.OrderPaid, e.store.Order(paid.ID).Status)
	assert.Contains(t, e.store.OutboxTypes(), contracts.EventOrderExpired)

	// A second sweep finds nothing.
	count, err = e.sweeper.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestLateSuccess_WithinGraceIsHonored(t *testing.T) {
	e := newEnv(t)
	// Expired five minutes ago, grace window is fifteen.
	order := e.seedOrder(t, billing.OrderPending, time.Now().Add(-5*time.Minute))
	payment := e.seedPayment(t, order, billing.PaymentPending, "gw-1")

	_, err := e.sweeper.Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, billing.OrderExpired, e.store.Order(order.ID).Status)

	require.NoError(t, e.reconciler.HandleEvent(context.Background(), succeededEvent("gw-1", 150000)))

	assert.Equal(t, billing.PaymentPaid, e.store.Payment(payment.ID).Status)
	assert.Equal(t, billing.OrderPaid, e.store.Order(order.ID).Status)
	assert.Len(t, e.store.Tickets(order.ID), 3)
	assert.Len(t, e.store.LoyaltyEntries(order.ID), 1)
	assert.Empty(t, e.store.Refunds())
}

func TestLateSuccess_PastGraceTriggersAutoRefund(t *testing.T) {
	e := newEnv(t)
	// Expired two hours ago, far past the fifteen-minute grace window.
	order := e.seedOrder(t, billing.OrderPending, time.Now().Add(-2*time.Hour))
	payment := e.seedPayment(t, order, billing.PaymentPending, "gw-1")

	_, err := e.sweeper.Sweep(context.Background(), time.Now())
	require.NoError(t, err)

	require.NoError(t, e.reconciler.HandleEvent(context.Background(), succeededEvent("gw-1", 150000)))

	// The money was captured, so the payment is paid, but the order stays
	// expired and nothing is fulfilled.
	assert.Equal(t, billing.PaymentPaid, e.store.Payment(payment.ID).Status)
	assert.Equal(t, billing.OrderExpired, e.store.Order(order.ID).Status)
	assert.Empty(t, e.store.Tickets(order.ID))
	assert.Empty(t, e.store.LoyaltyEntries(order.ID))

	refunds := e.store.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, payment.ID, refunds[0].PaymentID)
	assert.Equal(t, int64(150000), refunds[0].Amount)
	assert.Equal(t, billing.RefundPending, refunds[0].Status)
	assert.NotEmpty(t, refunds[0].ExternalID)
	require.Len(t, e.gateway.RefundCalls, 1)
	assert.Equal(t, int64(150000), e.gateway.RefundCalls[0].Amount)
}
