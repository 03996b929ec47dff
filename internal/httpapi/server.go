package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
	"github.com/yummspb13/kiddeo22-sub010/internal/gateway"
)

type Server struct {
	store      billing.Store
	initiator  *billing.Initiator
	reconciler *billing.Reconciler
	refunds    *billing.RefundManager
	logger     *slog.Logger
	mux        *http.ServeMux
}

func NewServer(store billing.Store, initiator *billing.Initiator, reconciler *billing.Reconciler, refunds *billing.RefundManager, logger *slog.Logger) *Server {
	s := &Server{
		store:      store,
		initiator:  initiator,
		reconciler: reconciler,
		refunds:    refunds,
		logger:     logger,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /gateway/webhook", s.handleWebhook)
	s.mux.HandleFunc("POST /orders", s.createOrder)
	s.mux.HandleFunc("GET /orders/{orderID}", s.getOrder)
	s.mux.HandleFunc("POST /orders/{orderID}/payments", s.initiatePayment)
	s.mux.HandleFunc("POST /payments/{paymentID}/refunds", s.createRefund)
	s.mux.HandleFunc("GET /refunds/pending", s.pendingRefunds)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleWebhook accepts gateway notifications. Anything short of a storage
// failure answers 200: the event is either applied, already known, or
// recorded as an integrity violation, and a retry would change nothing. A
// 5xx is returned only when redelivery can actually help.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := gateway.ParseNotification(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed notification")
		return
	}

	if err := s.reconciler.HandleEvent(r.Context(), ev); err != nil {
		s.logger.Error("webhook processing failed", "kind", ev.Kind, "object_id", ev.ObjectID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		VendorID       uuid.UUID `json:"vendor_id"`
		ListingID      uuid.UUID `json:"listing_id"`
		TotalAmount    int64     `json:"total_amount"`
		DiscountAmount int64     `json:"discount_amount"`
		Currency       string    `json:"currency"`
		ExpiresAt      time.Time `json:"expires_at"`
		Items          []struct {
			TicketTypeID uuid.UUID `json:"ticket_type_id"`
			Quantity     int       `json:"quantity"`
			UnitPrice    int64     `json:"unit_price"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TotalAmount <= 0 || req.DiscountAmount < 0 || req.DiscountAmount > req.TotalAmount {
		writeError(w, http.StatusBadRequest, "invalid amounts")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "order needs at least one item")
		return
	}

	now := time.Now().UTC()
	order := &billing.Order{
		ID:             uuid.New(),
		VendorID:       req.VendorID,
		UserID:         userID,
		ListingID:      req.ListingID,
		Status:         billing.OrderPending,
		TotalAmount:    req.TotalAmount,
		DiscountAmount: req.DiscountAmount,
		FinalAmount:    req.TotalAmount - req.DiscountAmount,
		Currency:       req.Currency,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "item quantity must be positive")
			return
		}
		order.Items = append(order.Items, billing.OrderItem{
			TicketTypeID: item.TicketTypeID,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
		})
	}

	if err := s.store.CreateOrder(r.Context(), order); err != nil {
		s.logger.Error("create order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	o, err := s.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, billing.ErrOrderNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		s.logger.Error("get order", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(r.PathValue("orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	userID, err := s.userID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Amount      int64     `json:"amount"`
		Description string    `json:"description"`
		ReturnURL   string    `json:"return_url"`
		VendorID    uuid.UUID `json:"vendor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, err := s.initiator.Initiate(r.Context(), billing.InitiateParams{
		OrderID:     orderID,
		Amount:      req.Amount,
		Description: req.Description,
		ReturnURL:   req.ReturnURL,
		UserID:      userID,
		VendorID:    req.VendorID,
	})
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrOrderNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, billing.ErrOrderNotPending), errors.Is(err, billing.ErrOrderExpired):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, billing.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, billing.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "payment gateway unavailable, retry later")
		default:
			s.logger.Error("initiate payment", "order_id", orderID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"payment_id":         payment.ID.String(),
		"gateway_payment_id": payment.GatewayPaymentID,
		"redirect_url":       payment.GatewayRedirectURL,
	})
}

func (s *Server) createRefund(w http.ResponseWriter, r *http.Request) {
	paymentID, err := uuid.Parse(r.PathValue("paymentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment id")
		return
	}

	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	refund, err := s.refunds.Create(r.Context(), paymentID, req.Amount, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrPaymentNotFound):
			writeError(w, http.StatusNotFound, "payment not found")
		case errors.Is(err, billing.ErrPaymentNotPaid):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, billing.ErrOverRefund):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, billing.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, billing.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "payment gateway unavailable, retry later")
		default:
			s.logger.Error("create refund", "payment_id", paymentID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"refund_id":   refund.ID.String(),
		"external_id": refund.ExternalID,
	})
}

func (s *Server) pendingRefunds(w http.ResponseWriter, r *http.Request) {
	refunds, err := s.store.PendingRefunds(r.Context(), 100)
	if err != nil {
		s.logger.Error("list pending refunds", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"refunds": refunds})
}

func (s *Server) userID(r *http.Request) (uuid.UUID, error) {
	value := r.Header.Get("X-User-ID")
	if value == "" {
		return uuid.Nil, errors.New("missing X-User-ID header")
	}
	return uuid.Parse(value)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
