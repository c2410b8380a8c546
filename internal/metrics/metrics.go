// Package metrics は注文・決済・キー発行のPrometheusメトリクスを提供する。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keyshop"

// Metricsはnilでも呼び出せる（テストでは渡さない）
type Metrics struct {
	ordersCreated    *prometheus.CounterVec
	orderTransitions *prometheus.CounterVec
	keysIssued       prometheus.Counter
	webhookEvents    *prometheus.CounterVec
	keyVerifications *prometheus.CounterVec
	gatewayDuration  *prometheus.HistogramVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created with a charge attached.",
		}, []string{"product_type"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions won by a trigger.",
		}, []string{"to", "trigger"}),
		keysIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_issued_total",
			Help:      "Keys generated for paid orders.",
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by event type and outcome.",
		}, []string{"event", "outcome"}),
		keyVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_verifications_total",
			Help:      "Key verify/activate calls by outcome.",
		}, []string{"outcome"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Payment gateway request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ordersCreated,
			m.orderTransitions,
			m.keysIssued,
			m.webhookEvents,
			m.keyVerifications,
			m.gatewayDuration,
		)
	}
	return m
}

func (m *Metrics) OrderCreated(productType string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(productType).Inc()
}

func (m *Metrics) OrderTransition(to string, trigger string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(to, trigger).Inc()
}

func (m *Metrics) KeysIssued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.keysIssued.Add(float64(n))
}

func (m *Metrics) WebhookEvent(event string, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) KeyVerification(outcome string) {
	if m == nil {
		return
	}
	m.keyVerifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveGateway(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayDuration.WithLabelValues(op, result).Observe(d.Seconds())
}
