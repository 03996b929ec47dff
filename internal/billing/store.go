package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the transactional surface the billing services run on. Every state
// transition goes through a conditional update executed inside WithinTx; the
// services never read a status and write it back from memory, because handlers
// for the same payment run concurrently across process instances.
type Store interface {
	// WithinTx runs fn inside one storage transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	CreatePayment(ctx context.Context, p *Payment) error
	PendingRefunds(ctx context.Context, limit int) ([]Refund, error)
}

// Tx is the per-transaction view. All mutating calls report whether a row
// actually changed so callers can distinguish "transitioned" from "a
// concurrent handler got there first".
type Tx interface {
	// MarkEventProcessed records a webhook dedupe key. It reports false when
	// the key was already present, i.e. the event must not be applied again.
	MarkEventProcessed(ctx context.Context, key string) (bool, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	// GetPayment locks the payment row for the rest of the transaction.
	GetPayment(ctx context.Context, id uuid.UUID) (*Payment, error)
	PaymentByGatewayID(ctx context.Context, gatewayPaymentID string) (*Payment, error)

	// TransitionPayment moves the payment to the target status only if its
	// current status is in from. Reports whether the row changed.
	TransitionPayment(ctx context.Context, id uuid.UUID, from []PaymentStatus, to PaymentStatus) (bool, error)
	SetPaymentGatewayStatus(ctx context.Context, id uuid.UUID, gatewayStatus string) error
	TransitionOrder(ctx context.Context, id uuid.UUID, from []OrderStatus, to OrderStatus) (bool, error)

	InsertTickets(ctx context.Context, tickets []Ticket) error
	// InsertLoyaltyEntry reports false when an entry with the same order and
	// category already exists (uniqueness guard, not an error).
	InsertLoyaltyEntry(ctx context.Context, entry LoyaltyLedgerEntry) (bool, error)

	InsertRefund(ctx context.Context, r *Refund) error
	RefundByExternalID(ctx context.Context, externalID string) (*Refund, error)
	TransitionRefund(ctx context.Context, id uuid.UUID, from []RefundStatus, to RefundStatus) (bool, error)
	SetRefundExternalID(ctx context.Context, id uuid.UUID, externalID string) error
	// SumRefunds totals refund amounts for a payment over the given statuses.
	SumRefunds(ctx context.Context, paymentID uuid.UUID, statuses []RefundStatus) (int64, error)

	// TransitionOrderTickets moves every ticket of the order currently in
	// from to the target status and reports how many rows changed.
	TransitionOrderTickets(ctx context.Context, orderID uuid.UUID, from, to TicketStatus) (int, error)

	// ExpireOrders transitions every pending order whose expiry is before now
	// to expired and returns the affected order ids.
	ExpireOrders(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	AppendOutbox(ctx context.Context, eventType string, payload []byte) error
}

// Notifier receives order status changes after they are committed. The
// websocket hub implements it; a nil notifier is allowed.
type Notifier interface {
	OrderUpdated(orderID uuid.UUID, status OrderStatus)
}

// PaymentGateway is the outbound half of the gateway adapter.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, params CreatePaymentParams) (*CreatedPayment, error)
	CreateRefund(ctx context.Context, params CreateRefundParams) (*CreatedRefund, error)
}

type PaymentMetadata struct {
	OrderID  string `json:"orderId"`
	UserID   string `json:"userId"`
	VendorID string `json:"vendorId"`
}

type CreatePaymentParams struct {
	Amount      int64
	Currency    string
	Description string
	ReturnURL   string
	Metadata    PaymentMetadata
}

type CreatedPayment struct {
	GatewayPaymentID string
	RedirectURL      string
	Status           string
}

type CreateRefundParams struct {
	GatewayPaymentID string
	Amount           int64
	Currency         string
	Reason           string
}

type CreatedRefund struct {
	ExternalID string
	Status     string
}
