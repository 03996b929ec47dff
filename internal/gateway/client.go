// Package gateway adapts the external payment gateway's wire protocol. It
// carries no business logic: outbound calls translate minor-unit amounts into
// the gateway's decimal strings, inbound notifications are parsed into the
// closed event set the reconciliation engine understands.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
	"github.com/yummspb13/kiddeo22-sub010/internal/money"
)

const maxAttempts = 3

type Client struct {
	baseURL   string
	shopID    string
	secretKey string
	httpc     *http.Client
}

func NewClient(baseURL, shopID, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		shopID:    shopID,
		secretKey: secretKey,
		httpc:     &http.Client{Timeout: timeout},
	}
}

type amountBody struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationBody struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type createPaymentBody struct {
	Amount       amountBody              `json:"amount"`
	Confirmation confirmationBody        `json:"confirmation"`
	Capture      bool                    `json:"capture"`
	Description  string                  `json:"description,omitempty"`
	Metadata     billing.PaymentMetadata `json:"metadata"`
}

type paymentResponse struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	Confirmation confirmationBody `json:"confirmation"`
}

type createRefundBody struct {
	PaymentID   string     `json:"payment_id"`
	Amount      amountBody `json:"amount"`
	Description string     `json:"description,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) CreatePayment(ctx context.Context, params billing.CreatePaymentParams) (*billing.CreatedPayment, error) {
	body := createPaymentBody{
		Amount: amountBody{
			Value:    money.FormatMinor(params.Amount),
			Currency: params.Currency,
		},
		Confirmation: confirmationBody{
			Type:      "redirect",
			ReturnURL: params.ReturnURL,
		},
		Capture:     true,
		Description: params.Description,
		Metadata:    params.Metadata,
	}

	var resp paymentResponse
	if err := c.post(ctx, "/payments", body, &resp); err != nil {
		return nil, err
	}
	return &billing.CreatedPayment{
		GatewayPaymentID: resp.ID,
		RedirectURL:      resp.Confirmation.ConfirmationURL,
		Status:           resp.Status,
	}, nil
}

func (c *Client) CreateRefund(ctx context.Context, params billing.CreateRefundParams) (*billing.CreatedRefund, error) {
	body := createRefundBody{
		PaymentID: params.GatewayPaymentID,
		Amount: amountBody{
			Value:    money.FormatMinor(params.Amount),
			Currency: params.Currency,
		},
		Description: params.Reason,
	}

	var resp refundResponse
	if err := c.post(ctx, "/refunds", body, &resp); err != nil {
		return nil, err
	}
	return &billing.CreatedRefund{ExternalID: resp.ID, Status: resp.Status}, nil
}

// post sends one gateway call with a bounded retry budget. The idempotence
// key is held constant across attempts so a retried request cannot create a
// second gateway object.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	idempotenceKey := uuid.New().String()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.SetBasicAuth(c.shopID, c.secretKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotence-Key", idempotenceKey)

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("gateway responded %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("gateway rejected %s: %d: %s", path, resp.StatusCode, respBody)
		}

		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("gateway %s failed after %d attempts: %w", path, maxAttempts, lastErr)
}

func retryDelay(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 250 * time.Millisecond
}
