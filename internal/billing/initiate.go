package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Initiator starts payment attempts for pending orders. Retried checkouts
// produce additional payment rows; the reconciliation engine guarantees at
// most one of them ever reaches paid.
type Initiator struct {
	store   Store
	gateway PaymentGateway
	logger  *slog.Logger
	now     func() time.Time
}

func NewInitiator(store Store, gateway PaymentGateway, logger *slog.Logger) *Initiator {
	return &Initiator{
		store:   store,
		gateway: gateway,
		logger:  logger,
		now:     time.Now,
	}
}

type InitiateParams struct {
	OrderID     uuid.UUID
	Amount      int64
	Description string
	ReturnURL   string
	UserID      uuid.UUID
	VendorID    uuid.UUID
}

// Initiate creates a payment object at the gateway and persists the attempt.
// The gateway object is created first: a transport failure surfaces as a
// retryable error with no local row, so a pending payment row always refers
// to a real gateway payment.
func (s *Initiator) Initiate(ctx context.Context, params InitiateParams) (*Payment, error) {
	order, err := s.store.GetOrder(ctx, params.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderPending {
		return nil, ErrOrderNotPending
	}
	if order.ExpiresAt.Before(s.now()) {
		return nil, ErrOrderExpired
	}
	if params.Amount <= 0 || params.Amount != order.FinalAmount {
		return nil, ErrInvalidAmount
	}

	created, err := s.gateway.CreatePayment(ctx, CreatePaymentParams{
		Amount:      params.Amount,
		Currency:    order.Currency,
		Description: params.Description,
		ReturnURL:   params.ReturnURL,
		Metadata: PaymentMetadata{
			OrderID:  order.ID.String(),
			UserID:   params.UserID.String(),
			VendorID: params.VendorID.String(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create payment: %v", ErrGatewayUnavailable, err)
	}

	payment := &Payment{
		ID:                 uuid.New(),
		OrderID:            order.ID,
		Amount:             params.Amount,
		Currency:           order.Currency,
		Status:             PaymentPending,
		GatewayPaymentID:   created.GatewayPaymentID,
		GatewayRedirectURL: created.RedirectURL,
		GatewayStatus:      created.Status,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	s.logger.Info("payment initiated",
		"order_id", order.ID, "payment_id", payment.ID,
		"gateway_payment_id", created.GatewayPaymentID)
	return payment, nil
}
