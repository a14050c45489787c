package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(metric.GetLabel()))
	for _, lp := range metric.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestWebhookMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWebhookMetrics(reg)

	m.ObserveReceived("maya", "payment.succeeded", "applied")
	m.ObserveReceived("maya", "payment.succeeded", "applied")
	m.ObserveReceived("paypal", "unknown", "ignored")
	m.ObserveRejected("paypal", "invalid_signature")
	m.ObserveDeadLetter("maya", true)
	m.ObserveDeadLetter("maya", false)
	m.ObserveOutboxDelivered(3)
	m.ObserveOutboxDelivered(0)
	m.ObserveLatency("maya", 0.05)

	if got := counterValue(t, reg, "payments_webhook_received_total", map[string]string{"provider": "maya", "outcome": "applied"}); got != 2 {
		t.Fatalf("expected 2 applied maya webhooks, got %v", got)
	}
	if got := counterValue(t, reg, "payments_webhook_rejected_total", map[string]string{"reason": "invalid_signature"}); got != 1 {
		t.Fatalf("expected 1 rejection, got %v", got)
	}
	if got := counterValue(t, reg, "payments_webhook_dead_letters_total", map[string]string{"status": "failed"}); got != 1 {
		t.Fatalf("expected 1 failed dead letter, got %v", got)
	}
	if got := counterValue(t, reg, "payments_outbox_delivered_total", nil); got != 3 {
		t.Fatalf("expected 3 delivered, got %v", got)
	}
}

func TestWebhookMetricsDefaultRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	prev := prometheus.DefaultRegisterer
	prometheus.DefaultRegisterer = reg
	defer func() { prometheus.DefaultRegisterer = prev }()

	m := NewWebhookMetrics(nil)
	m.ObserveReceived("paypal", "subscription.activated", "applied")
	if got := counterValue(t, reg, "payments_webhook_received_total", map[string]string{"provider": "paypal"}); got != 1 {
		t.Fatalf("expected metric on default registerer, got %v", got)
	}
}

func TestWebhookMetricsNilSafe(t *testing.T) {
	var m *WebhookMetrics
	m.ObserveReceived("maya", "unknown", "ignored")
	m.ObserveRejected("maya", "untrusted_source")
	m.ObserveDeadLetter("maya", true)
	m.ObserveOutboxDelivered(1)
	m.ObserveLatency("maya", 0.1)
}
