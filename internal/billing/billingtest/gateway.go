package billingtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
)

// FakeGateway records outbound gateway calls and can be scripted to fail.
type FakeGateway struct {
	mu sync.Mutex

	CreatePaymentErr error
	CreateRefundErr  error

	PaymentCalls []billing.CreatePaymentParams
	RefundCalls  []billing.CreateRefundParams

	nextID int
}

func (g *FakeGateway) CreatePayment(_ context.Context, params billing.CreatePaymentParams) (*billing.CreatedPayment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CreatePaymentErr != nil {
		return nil, g.CreatePaymentErr
	}
	g.PaymentCalls = append(g.PaymentCalls, params)
	g.nextID++
	return &billing.CreatedPayment{
		GatewayPaymentID: fmt.Sprintf("gw-pay-%d", g.nextID),
		RedirectURL:      fmt.Sprintf("https://gateway.test/confirm/%d", g.nextID),
		Status:           "pending",
	}, nil
}

func (g *FakeGateway) CreateRefund(_ context.Context, params billing.CreateRefundParams) (*billing.CreatedRefund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CreateRefundErr != nil {
		return nil, g.CreateRefundErr
	}
	g.RefundCalls = append(g.RefundCalls, params)
	g.nextID++
	return &billing.CreatedRefund{
		ExternalID: fmt.Sprintf("gw-ref-%d", g.nextID),
		Status:     "pending",
	}, nil
}
