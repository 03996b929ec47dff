package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
	"github.com/yummspb13/kiddeo22-sub010/internal/billing/billingtest"
	"github.com/yummspb13/kiddeo22-sub010/internal/httpapi"
)

type testAPI struct {
	store   *billingtest.MemStore
	gateway *billingtest.FakeGateway
	server  *httpapi.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := billingtest.NewMemStore()
	gw := &billingtest.FakeGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	refunds := billing.NewRefundManager(store, gw, nil, logger)
	reconciler := billing.NewReconciler(store, refunds, nil, 15*time.Minute, logger)
	initiator := billing.NewInitiator(store, gw, logger)

	return &testAPI{
		store:   store,
		gateway: gw,
		server:  httpapi.NewServer(store, initiator, reconciler, refunds, logger),
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seedPaidOrder(t *testing.T) (*billing.Order, *billing.Payment) {
	t.Helper()
	now := time.Now().UTC()
	order := &billing.Order{
		ID:          uuid.New(),
		VendorID:    uuid.New(),
		UserID:      uuid.New(),
		ListingID:   uuid.New(),
		Status:      billing.OrderPaid,
		TotalAmount: 150000,
		FinalAmount: 150000,
		Currency:    "RUB",
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
		Items: []billing.OrderItem{
			{TicketTypeID: uuid.New(), Quantity: 1, UnitPrice: 150000},
		},
	}
	require.NoError(t, a.store.CreateOrder(context.Background(), order))

	payment := &billing.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		Amount:           order.FinalAmount,
		Currency:         order.Currency,
		Status:           billing.PaymentPaid,
		GatewayPaymentID: "gw-1",
		CreatedAt:        now,
	}
	require.NoError(t, a.store.CreatePayment(context.Background(), payment))
	return order, payment
}

func webhookBody(gatewayID, value string) []byte {
	return []byte(fmt.Sprintf(`{
		"event": "payment.succeeded",
		"object": {
			"id": %q,
			"status": "succeeded",
			"amount": {"value": %q, "currency": "RUB"}
		}
	}`, gatewayID, value))
}

func TestWebhook_AcceptsAndAcksDuplicates(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now().UTC()
	order := &billing.Order{
		ID:          uuid.New(),
		VendorID:    uuid.New(),
		UserID:      uuid.New(),
		ListingID:   uuid.New(),
		Status:      billing.OrderPending,
		TotalAmount: 150000,
		FinalAmount: 150000,
		Currency:    "RUB",
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       []billing.OrderItem{{TicketTypeID: uuid.New(), Quantity: 1, UnitPrice: 150000}},
	}
	require.NoError(t, api.store.CreateOrder(context.Background(), order))
	require.NoError(t, api.store.CreatePayment(context.Background(), &billing.Payment{
		ID: uuid.New(), OrderID: order.ID, Amount: 150000, Currency: "RUB",
		Status: billing.PaymentPending, GatewayPaymentID: "gw-1", CreatedAt: now,
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/gateway/webhook", bytes.NewReader(webhookBody("gw-1", "1500.00")))
		rec := httptest.NewRecorder()
		api.server.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, billing.OrderPaid, api.store.Order(order.ID).Status)
	assert.Len(t, api.store.Tickets(order.ID), 1)
}

func TestWebhook_MalformedBodyRejected(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/gateway/webhook", bytes.NewReader([]byte(`{not json`)))
	rec := httptest.NewRecorder()
	api.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhook_StorageFailureAnswers500(t *testing.T) {
	api := newTestAPI(t)
	api.store.TxErr = context.DeadlineExceeded

	req := httptest.NewRequest(http.MethodPost, "/gateway/webhook", bytes.NewReader(webhookBody("gw-1", "1500.00")))
	rec := httptest.NewRecorder()
	api.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateOrderAndGetOrder(t *testing.T) {
	api := newTestAPI(t)
	userID := uuid.New()

	rec := api.do(t, http.MethodPost, "/orders", map[string]any{
		"vendor_id":       uuid.New(),
		"listing_id":      uuid.New(),
		"total_amount":    160000,
		"discount_amount": 10000,
		"currency":        "RUB",
		"expires_at":      time.Now().Add(time.Hour).UTC(),
		"items": []map[string]any{
			{"ticket_type_id": uuid.New(), "quantity": 2, "unit_price": 80000},
		},
	}, map[string]string{"X-User-ID": userID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created billing.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(150000), created.FinalAmount)
	assert.Equal(t, billing.OrderPending, created.Status)

	rec = api.do(t, http.MethodGet, "/orders/"+created.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/orders/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateOrder_Validation(t *testing.T) {
	api := newTestAPI(t)
	headers := map[string]string{"X-User-ID": uuid.NewString()}

	rec := api.do(t, http.MethodPost, "/orders", map[string]any{
		"total_amount":    100,
		"discount_amount": 200,
		"items":           []map[string]any{{"quantity": 1}},
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders", map[string]any{
		"total_amount": 100,
		"items":        []map[string]any{},
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders", map[string]any{"total_amount": 100}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitiatePayment_StatusMapping(t *testing.T) {
	api := newTestAPI(t)
	now := time.Now().UTC()
	order := &billing.Order{
		ID:          uuid.New(),
		VendorID:    uuid.New(),
		UserID:      uuid.New(),
		ListingID:   uuid.New(),
		Status:      billing.OrderPending,
		TotalAmount: 150000,
		FinalAmount: 150000,
		Currency:    "RUB",
		ExpiresAt:   now.Add(time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       []billing.OrderItem{{TicketTypeID: uuid.New(), Quantity: 1, UnitPrice: 150000}},
	}
	require.NoError(t, api.store.CreateOrder(context.Background(), order))
	headers := map[string]string{"X-User-ID": order.UserID.String()}

	rec := api.do(t, http.MethodPost, "/orders/"+order.ID.String()+"/payments", map[string]any{
		"amount":     150000,
		"return_url": "https://shop.test/done",
		"vendor_id":  order.VendorID,
	}, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["payment_id"])
	assert.NotEmpty(t, resp["redirect_url"])

	rec = api.do(t, http.MethodPost, "/orders/"+uuid.NewString()+"/payments", map[string]any{
		"amount": 150000,
	}, headers)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/orders/"+order.ID.String()+"/payments", map[string]any{
		"amount": 140000,
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRefund_StatusMapping(t *testing.T) {
	api := newTestAPI(t)
	_, payment := api.seedPaidOrder(t)

	rec := api.do(t, http.MethodPost, "/payments/"+payment.ID.String()+"/refunds", map[string]any{
		"amount": 160000, "reason": "customer request",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(t, http.MethodPost, "/payments/"+payment.ID.String()+"/refunds", map[string]any{
		"amount": 50000, "reason": "customer request",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["refund_id"])
	assert.NotEmpty(t, resp["external_id"])

	rec = api.do(t, http.MethodPost, "/payments/"+uuid.NewString()+"/refunds", map[string]any{
		"amount": 100,
	}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPendingRefunds_Listing(t *testing.T) {
	api := newTestAPI(t)
	_, payment := api.seedPaidOrder(t)

	stuck := billing.Refund{
		ID:        uuid.New(),
		OrderID:   payment.OrderID,
		PaymentID: payment.ID,
		Amount:    50000,
		Status:    billing.RefundPending,
		CreatedAt: time.Now().UTC(),
	}
	api.store.SeedRefund(stuck)

	rec := api.do(t, http.MethodGet, "/refunds/pending", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Refunds []billing.Refund `json:"refunds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Refunds, 1)
	assert.Equal(t, stuck.ID, resp.Refunds[0].ID)
}

func TestCreateRefund_GatewayFailureAnswers502(t *testing.T) {
	api := newTestAPI(t)
	_, payment := api.seedPaidOrder(t)
	api.gateway.CreateRefundErr = fmt.Errorf("dial tcp: timeout")

	rec := api.do(t, http.MethodPost, "/payments/"+payment.ID.String()+"/refunds", map[string]any{
		"amount": 50000,
	}, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	// The attempt is recorded as failed, not left pending.
	refunds := api.store.Refunds()
	require.Len(t, refunds, 1)
	assert.Equal(t, billing.RefundFailed, refunds[0].Status)
}
