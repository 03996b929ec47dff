package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_processed_total",
			Help: "gateway webhook events applied for the first time",
		},
	)
	EventsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_duplicate_total",
			Help: "gateway webhook events skipped by the dedupe ledger",
		},
	)
	IntegrityAlerts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_integrity_alerts_total",
			Help: "events recorded without cascade: amount mismatch, unknown payment, unhonorable late success",
		},
	)
	TicketsIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_tickets_issued_total",
			Help: "tickets issued after successful payments",
		},
	)
	RefundsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_refunds_created_total",
			Help: "refund requests accepted and dispatched",
		},
	)
	OrdersExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_orders_expired_total",
			Help: "pending orders expired by the sweeper",
		},
	)
)

func Init() {
	prometheus.MustRegister(
		EventsProcessed,
		EventsDuplicate,
		IntegrityAlerts,
		TicketsIssued,
		RefundsCreated,
		OrdersExpired,
	)
}
