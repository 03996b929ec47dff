package billing

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
	OrderExpired   OrderStatus = "expired"
)

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentPaid       PaymentStatus = "paid"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentFailed     PaymentStatus = "failed"
)

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundSucceeded RefundStatus = "succeeded"
	RefundFailed    RefundStatus = "failed"
)

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketUsed      TicketStatus = "used"
	TicketCancelled TicketStatus = "cancelled"
	TicketRefunded  TicketStatus = "refunded"
)

// LoyaltyPurchase is the ledger category for points granted on a paid order.
// At most one entry with this category may exist per order.
const LoyaltyPurchase = "purchase"

// Order is one checkout attempt. Amounts are minor currency units.
// finalAmount = totalAmount - discountAmount, never negative.
type Order struct {
	ID             uuid.UUID   `json:"id"`
	VendorID       uuid.UUID   `json:"vendor_id"`
	UserID         uuid.UUID   `json:"user_id"`
	ListingID      uuid.UUID   `json:"listing_id"`
	Status         OrderStatus `json:"status"`
	TotalAmount    int64       `json:"total_amount"`
	DiscountAmount int64       `json:"discount_amount"`
	FinalAmount    int64       `json:"final_amount"`
	Currency       string      `json:"currency"`
	ExpiresAt      time.Time   `json:"expires_at"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Items          []OrderItem `json:"items"`
}

type OrderItem struct {
	TicketTypeID uuid.UUID `json:"ticket_type_id"`
	Quantity     int       `json:"quantity"`
	UnitPrice    int64     `json:"unit_price"`
}

// Payment is one attempt to collect money for an order. An order may hold
// several attempts but at most one ever reaches paid.
type Payment struct {
	ID                 uuid.UUID     `json:"id"`
	OrderID            uuid.UUID     `json:"order_id"`
	Amount             int64         `json:"amount"`
	Currency           string        `json:"currency"`
	Status             PaymentStatus `json:"status"`
	GatewayPaymentID   string        `json:"gateway_payment_id"`
	GatewayRedirectURL string        `json:"gateway_redirect_url"`
	// GatewayStatus records the gateway's last reported status verbatim,
	// even when the business status must not move (late cancel after paid).
	GatewayStatus string     `json:"gateway_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type Refund struct {
	ID         uuid.UUID    `json:"id"`
	OrderID    uuid.UUID    `json:"order_id"`
	PaymentID  uuid.UUID    `json:"payment_id"`
	Amount     int64        `json:"amount"`
	Reason     string       `json:"reason"`
	Status     RefundStatus `json:"status"`
	ExternalID string       `json:"external_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

type Ticket struct {
	ID           uuid.UUID    `json:"id"`
	OrderID      uuid.UUID    `json:"order_id"`
	TicketTypeID uuid.UUID    `json:"ticket_type_id"`
	QRCode       string       `json:"qr_code"`
	Status       TicketStatus `json:"status"`
	UsedAt       *time.Time   `json:"used_at,omitempty"`
}

type LoyaltyLedgerEntry struct {
	UserID      uuid.UUID  `json:"user_id"`
	Points      int64      `json:"points"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	OrderID     *uuid.UUID `json:"order_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// EventKind is the closed set of gateway notification kinds the engine
// understands. Anything else maps to EventUnknown and is acknowledged
// without cascading.
type EventKind string

const (
	EventSucceeded       EventKind = "succeeded"
	EventCanceled        EventKind = "canceled"
	EventWaitingCapture  EventKind = "waiting_capture"
	EventRefundSucceeded EventKind = "refund_succeeded"
	EventUnknown         EventKind = "unknown"
)

// GatewayEvent is one parsed webhook notification. For refund events
// ObjectID is the gateway refund id, otherwise the gateway payment id.
type GatewayEvent struct {
	Kind             EventKind
	ObjectID         string
	GatewayPaymentID string
	Amount           int64
	Currency         string
}

// DedupeKey identifies the event for the processed-events ledger. The gateway
// does not number its notifications, so the key is derived from the kind and
// the object it describes.
func (e GatewayEvent) DedupeKey() string {
	return string(e.Kind) + ":" + e.ObjectID
}
