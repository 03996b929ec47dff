// Package billingtest provides an in-memory billing.Store with the same
// conditional-update and transactional semantics as the PostgreSQL
// implementation, plus a scriptable gateway. Service tests run the real
// engine logic against it.
package billingtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yummspb13/kiddeo22-sub010/internal/billing"
)

type OutboxEntry struct {
	EventType string
	Payload   []byte
}

type state struct {
	orders   map[uuid.UUID]*billing.Order
	payments map[uuid.UUID]*billing.Payment
	refunds  map[uuid.UUID]*billing.Refund
	tickets  []billing.Ticket
	loyalty  []billing.LoyaltyLedgerEntry
	events   map[string]bool
	outbox   []OutboxEntry
}

func (s *state) clone() *state {
	c := &state{
		orders:   make(map[uuid.UUID]*billing.Order, len(s.orders)),
		payments: make(map[uuid.UUID]*billing.Payment, len(s.payments)),
		refunds:  make(map[uuid.UUID]*billing.Refund, len(s.refunds)),
		tickets:  append([]billing.Ticket(nil), s.tickets...),
		loyalty:  append([]billing.LoyaltyLedgerEntry(nil), s.loyalty...),
		events:   make(map[string]bool, len(s.events)),
		outbox:   append([]OutboxEntry(nil), s.outbox...),
	}
	for id, o := range s.orders {
		c.orders[id] = copyOrder(o)
	}
	for id, p := range s.payments {
		cp := *p
		c.payments[id] = &cp
	}
	for id, r := range s.refunds {
		cr := *r
		c.refunds[id] = &cr
	}
	for k := range s.events {
		c.events[k] = true
	}
	return c
}

func copyOrder(o *billing.Order) *billing.Order {
	c := *o
	c.Items = append([]billing.OrderItem(nil), o.Items...)
	return &c
}

// MemStore implements billing.Store in memory. WithinTx runs against a copy
// of the state that replaces the original only on success, mirroring
// commit/rollback.
type MemStore struct {
	mu sync.Mutex
	// TxErr, when set, makes every transaction fail before running.
	TxErr error

	st *state
}

func NewMemStore() *MemStore {
	return &MemStore{st: &state{
		orders:   make(map[uuid.UUID]*billing.Order),
		payments: make(map[uuid.UUID]*billing.Payment),
		refunds:  make(map[uuid.UUID]*billing.Refund),
		events:   make(map[string]bool),
	}}
}

func (m *MemStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.TxErr != nil {
		return m.TxErr
	}

	work := m.st.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	m.st = work
	return nil
}

func (m *MemStore) CreateOrder(_ context.Context, o *billing.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.orders[o.ID] = copyOrder(o)
	return nil
}

func (m *MemStore) GetOrder(_ context.Context, id uuid.UUID) (*billing.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.st.orders[id]
	if !ok {
		return nil, billing.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (m *MemStore) GetPayment(_ context.Context, id uuid.UUID) (*billing.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemStore) CreatePayment(_ context.Context, p *billing.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.st.payments[p.ID] = &cp
	return nil
}

func (m *MemStore) PendingRefunds(_ context.Context, limit int) ([]billing.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.Refund
	for _, r := range m.st.refunds {
		if r.Status == billing.RefundPending {
			out = append(out, *r)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Seed helpers and inspection accessors.

func (m *MemStore) SeedRefund(r billing.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.refunds[r.ID] = &r
}

func (m *MemStore) SeedTickets(tickets ...billing.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.tickets = append(m.st.tickets, tickets...)
}

func (m *MemStore) Order(id uuid.UUID) billing.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.st.orders[id]
}

func (m *MemStore) Payment(id uuid.UUID) billing.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.st.payments[id]
}

func (m *MemStore) Payments() []billing.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.Payment
	for _, p := range m.st.payments {
		out = append(out, *p)
	}
	return out
}

func (m *MemStore) Refund(id uuid.UUID) billing.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.st.refunds[id]
}

func (m *MemStore) Refunds() []billing.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.Refund
	for _, r := range m.st.refunds {
		out = append(out, *r)
	}
	return out
}

func (m *MemStore) Tickets(orderID uuid.UUID) []billing.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.Ticket
	for _, t := range m.st.tickets {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out
}

func (m *MemStore) LoyaltyEntries(orderID uuid.UUID) []billing.LoyaltyLedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []billing.LoyaltyLedgerEntry
	for _, e := range m.st.loyalty {
		if e.OrderID != nil && *e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (m *MemStore) OutboxTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.st.outbox {
		out = append(out, e.EventType)
	}
	return out
}

func (m *MemStore) EventSeen(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.events[key]
}

type memTx struct {
	st *state
}

func (t *memTx) MarkEventProcessed(_ context.Context, key string) (bool, error) {
	if t.st.events[key] {
		return false, nil
	}
	t.st.events[key] = true
	return true, nil
}

func (t *memTx) GetOrder(_ context.Context, id uuid.UUID) (*billing.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, billing.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (t *memTx) GetPayment(_ context.Context, id uuid.UUID) (*billing.Payment, error) {
	p, ok := t.st.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (t *memTx) PaymentByGatewayID(_ context.Context, gatewayPaymentID string) (*billing.Payment, error) {
	for _, p := range t.st.payments {
		if p.GatewayPaymentID == gatewayPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, billing.ErrPaymentNotFound
}

func (t *memTx) TransitionPayment(_ context.Context, id uuid.UUID, from []billing.PaymentStatus, to billing.PaymentStatus) (bool, error) {
	p, ok := t.st.payments[id]
	if !ok || !containsPayment(from, p.Status) {
		return false, nil
	}
	p.Status = to
	if to == billing.PaymentPaid {
		now := time.Now().UTC()
		p.PaidAt = &now
	}
	return true, nil
}

func (t *memTx) SetPaymentGatewayStatus(_ context.Context, id uuid.UUID, gatewayStatus string) error {
	if p, ok := t.st.payments[id]; ok {
		p.GatewayStatus = gatewayStatus
	}
	return nil
}

func (t *memTx) TransitionOrder(_ context.Context, id uuid.UUID, from []billing.OrderStatus, to billing.OrderStatus) (bool, error) {
	o, ok := t.st.orders[id]
	if !ok || !containsOrder(from, o.Status) {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (t *memTx) InsertTickets(_ context.Context, tickets []billing.Ticket) error {
	t.st.tickets = append(t.st.tickets, tickets...)
	return nil
}

func (t *memTx) InsertLoyaltyEntry(_ context.Context, entry billing.LoyaltyLedgerEntry) (bool, error) {
	if entry.Category == billing.LoyaltyPurchase && entry.OrderID != nil {
		for _, e := range t.st.loyalty {
			if e.Category == billing.LoyaltyPurchase && e.OrderID != nil && *e.OrderID == *entry.OrderID {
				return false, nil
			}
		}
	}
	t.st.loyalty = append(t.st.loyalty, entry)
	return true, nil
}

func (t *memTx) InsertRefund(_ context.Context, r *billing.Refund) error {
	cr := *r
	t.st.refunds[r.ID] = &cr
	return nil
}

func (t *memTx) RefundByExternalID(_ context.Context, externalID string) (*billing.Refund, error) {
	for _, r := range t.st.refunds {
		if r.ExternalID != "" && r.ExternalID == externalID {
			cr := *r
			return &cr, nil
		}
	}
	return nil, billing.ErrRefundNotFound
}

func (t *memTx) TransitionRefund(_ context.Context, id uuid.UUID, from []billing.RefundStatus, to billing.RefundStatus) (bool, error) {
	r, ok := t.st.refunds[id]
	if !ok || !containsRefund(from, r.Status) {
		return false, nil
	}
	r.Status = to
	return true, nil
}

func (t *memTx) SetRefundExternalID(_ context.Context, id uuid.UUID, externalID string) error {
	if r, ok := t.st.refunds[id]; ok {
		r.ExternalID = externalID
	}
	return nil
}

func (t *memTx) SumRefunds(_ context.Context, paymentID uuid.UUID, statuses []billing.RefundStatus) (int64, error) {
	var total int64
	for _, r := range t.st.refunds {
		if r.PaymentID == paymentID && containsRefund(statuses, r.Status) {
			total += r.Amount
		}
	}
	return total, nil
}

func (t *memTx) TransitionOrderTickets(_ context.Context, orderID uuid.UUID, from, to billing.TicketStatus) (int, error) {
	count := 0
	for i := range t.st.tickets {
		if t.st.tickets[i].OrderID == orderID && t.st.tickets[i].Status == from {
			t.st.tickets[i].Status = to
			count++
		}
	}
	return count, nil
}

func (t *memTx) ExpireOrders(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, o := range t.st.orders {
		if o.Status == billing.OrderPending && o.ExpiresAt.Before(now) {
			o.Status = billing.OrderExpired
			o.UpdatedAt = time.Now().UTC()
			ids = append(ids, o.ID)
		}
	}
	return ids, nil
}

func (t *memTx) AppendOutbox(_ context.Context, eventType string, payload []byte) error {
	t.st.outbox = append(t.st.outbox, OutboxEntry{EventType: eventType, Payload: payload})
	return nil
}

func containsPayment(set []billing.PaymentStatus, s billing.PaymentStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsOrder(set []billing.OrderStatus, s billing.OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsRefund(set []billing.RefundStatus, s billing.RefundStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
