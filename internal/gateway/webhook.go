package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
	"github.com/yummspb13/kiddeo22-sub010/internal/money"
)

// notification is the gateway's webhook envelope.
type notification struct {
	Event  string `json:"event"`
	Object struct {
		ID        string                  `json:"id"`
		Status    string                  `json:"status"`
		Paid      bool                    `json:"paid"`
		Amount    amountBody              `json:"amount"`
		PaymentID string                  `json:"payment_id"`
		Metadata  billing.PaymentMetadata `json:"metadata"`
	} `json:"object"`
}

// ParseNotification decodes a webhook body into a typed gateway event.
// Unrecognized event names map to EventUnknown rather than an error, so the
// handler can acknowledge them and move on.
func ParseNotification(body []byte) (billing.GatewayEvent, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return billing.GatewayEvent{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Object.ID == "" {
		return billing.GatewayEvent{}, fmt.Errorf("notification without object id")
	}

	ev := billing.GatewayEvent{
		ObjectID:         n.Object.ID,
		GatewayPaymentID: n.Object.ID,
		Currency:         n.Object.Amount.Currency,
	}

	switch n.Event {
	case "payment.succeeded":
		ev.Kind = billing.EventSucceeded
	case "payment.canceled":
		ev.Kind = billing.EventCanceled
	case "payment.waiting_for_capture":
		ev.Kind = billing.EventWaitingCapture
	case "refund.succeeded":
		ev.Kind = billing.EventRefundSucceeded
		// Refund notifications carry the refund id as the object and point
		// at their payment separately.
		ev.GatewayPaymentID = n.Object.PaymentID
	default:
		ev.Kind = billing.EventUnknown
		return ev, nil
	}

	if n.Object.Amount.Value != "" {
		minor, err := money.ParseMajor(n.Object.Amount.Value)
		if err != nil {
			return billing.GatewayEvent{}, fmt.Errorf("notification amount: %w", err)
		}
		ev.Amount = minor
	}
	return ev, nil
}
