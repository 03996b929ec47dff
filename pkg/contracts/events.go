// Package contracts defines the event payloads the billing service publishes
// to the broker through its transactional outbox. Downstream consumers
// (notifications, vendor dashboards) decode these shapes.
package contracts

import "time"

const (
	EventOrderPaid     = "billing.order_paid"
	EventOrderCanceled = "billing.order_cancelled"
	EventOrderExpired  = "billing.order_expired"
	EventOrderRefunded = "billing.order_refunded"
	EventTicketsIssued = "billing.tickets_issued"
)

type OrderPaidEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	VendorID   string    `json:"vendor_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	OccurredAt time.Time `json:"occurred_at"`
}

type OrderCanceledEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type OrderExpiredEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type OrderRefundedEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

type TicketsIssuedEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Count      int       `json:"count"`
	OccurredAt time.Time `json:"occurred_at"`
}
