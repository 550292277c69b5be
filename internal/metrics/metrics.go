package metrics

import (
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/notify"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// OrderMetrics counts order engine outcomes.
type OrderMetrics struct {
	placed    prometheus.Counter
	rejected  *prometheus.CounterVec
	cancelled prometheus.Counter
	revenue   prometheus.Counter
}

var _ orders.Observer = (*OrderMetrics)(nil)

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	m := &OrderMetrics{
		placed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_total",
			Help:      "Orders committed.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Order placements rejected, by reason.",
		}, []string{"reason"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Orders cancelled.",
		}),
		revenue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_placed_amount_total",
			Help:      "Sum of placed order totals.",
		}),
	}
	reg.MustRegister(m.placed, m.rejected, m.cancelled, m.revenue)
	return m
}

func (m *OrderMetrics) OrderPlaced(o orders.Order) {
	m.placed.Inc()
	m.revenue.Add(o.Total.InexactFloat64())
}

func (m *OrderMetrics) OrderRejected(reason string) { m.rejected.WithLabelValues(reason).Inc() }

func (m *OrderMetrics) OrderCancelled(orders.Order) { m.cancelled.Inc() }

// NotifyMetrics counts notifier work.
type NotifyMetrics struct {
	events *prometheus.CounterVec
	emails *prometheus.CounterVec
}

var _ notify.Observer = (*NotifyMetrics)(nil)

func NewNotifyMetrics(reg prometheus.Registerer) *NotifyMetrics {
	m := &NotifyMetrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_events_total",
			Help:      "Order events consumed, by type and outcome.",
		}, []string{"event_type", "outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notify_emails_total",
			Help:      "Emails attempted, by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.events, m.emails)
	return m
}

func (m *NotifyMetrics) EventHandled(eventType, outcome string) {
	m.events.WithLabelValues(eventType, outcome).Inc()
}

func (m *NotifyMetrics) EmailAttempted(kind notify.Kind, ok bool) {
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.emails.WithLabelValues(string(kind), result).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
