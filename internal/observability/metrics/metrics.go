package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "payments"

// WebhookMetrics exposes counters/histograms for payment webhook flows.
type WebhookMetrics struct {
	receivedTotal     *prometheus.CounterVec
	rejectedTotal     *prometheus.CounterVec
	deadLettersTotal  *prometheus.CounterVec
	outboxDelivered   prometheus.Counter
	processingLatency *prometheus.HistogramVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		receivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Total payment webhooks processed, by provider, intent and outcome",
		}, []string{"provider", "intent", "outcome"}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "rejected_total",
			Help:      "Total payment webhooks rejected before reconciliation",
		}, []string{"provider", "reason"}),
		deadLettersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "dead_letters_total",
			Help:      "Total webhooks published to the dead-letter queue",
		}, []string{"provider", "status"}),
		outboxDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Total outbox domain events delivered",
		}),
		processingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "latency_seconds",
			Help:      "Latency of payment webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.receivedTotal, m.rejectedTotal, m.deadLettersTotal, m.outboxDelivered, m.processingLatency)
	return m
}

func (m *WebhookMetrics) ObserveReceived(provider, intent, outcome string) {
	if m == nil {
		return
	}
	m.receivedTotal.WithLabelValues(provider, intent, outcome).Inc()
}

func (m *WebhookMetrics) ObserveRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(provider, reason).Inc()
}

func (m *WebhookMetrics) ObserveDeadLetter(provider string, published bool) {
	if m == nil {
		return
	}
	status := "published"
	if !published {
		status = "failed"
	}
	m.deadLettersTotal.WithLabelValues(provider, status).Inc()
}

func (m *WebhookMetrics) ObserveOutboxDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxDelivered.Add(float64(n))
}

func (m *WebhookMetrics) ObserveLatency(provider string, seconds float64) {
	if m == nil {
		return
	}
	m.processingLatency.WithLabelValues(provider).Observe(seconds)
}
