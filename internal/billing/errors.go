package billing

import "errors"

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrRefundNotFound  = errors.New("refund not found")
	ErrOrderNotPending = errors.New("order is not pending")
	ErrOrderExpired    = errors.New("order is expired")
	ErrPaymentNotPaid  = errors.New("payment is not paid")
	ErrOverRefund      = errors.New("refund exceeds remaining payment amount")
	ErrInvalidAmount   = errors.New("amount must be positive")

	// ErrGatewayUnavailable wraps transport-level failures talking to the
	// payment gateway; callers may retry with backoff.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
