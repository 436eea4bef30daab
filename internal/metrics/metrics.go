package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "storefront"

// Metrics набор коллекторов сервиса на собственном реестре
type Metrics struct {
	registry *prometheus.Registry

	Requests           *prometheus.CounterVec
	LatencyMS          *prometheus.HistogramVec
	Checkouts          *prometheus.CounterVec
	PaymentTransitions *prometheus.CounterVec
	Refunded           *prometheus.CounterVec
	EventsPublished    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout attempts by result.",
		}, []string{"result"}),
		PaymentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment status transitions by target status.",
		}, []string{"status"}),
		Refunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunded_amount_total",
			Help:      "Refunded money by currency.",
		}, []string{"currency"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events delivered to the broker.",
		}, []string{"event_type"}),
	}
	m.registry.MustRegister(
		m.Requests, m.LatencyMS, m.Checkouts, m.PaymentTransitions, m.Refunded, m.EventsPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Recorder methods are nil-safe so services can run without metrics.

func (m *Metrics) CheckoutResult(result string) {
	if m == nil {
		return
	}
	m.Checkouts.WithLabelValues(result).Inc()
}

func (m *Metrics) PaymentTransition(status string) {
	if m == nil {
		return
	}
	m.PaymentTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RefundedAmount(currency string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.Refunded.WithLabelValues(currency).Add(amount.InexactFloat64())
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}
