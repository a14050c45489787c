package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

// Severity of an operator alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert describes a webhook that needs operator attention.
type Alert struct {
	Severity       Severity
	Provider       string
	EventType      string
	EventID        string
	IdempotencyKey string
	ResourceID     string
	Reason         string
	OccurredAt     time.Time
}

// Alerter turns webhook failures into operator emails.
type Alerter struct {
	email  EmailSender
	to     string
	logger *logging.Logger
}

// NewAlerter returns an Alerter. With no recipient or sender, alerts are only logged.
func NewAlerter(email EmailSender, to string, logger *logging.Logger) *Alerter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Alerter{email: email, to: strings.TrimSpace(to), logger: logger}
}

// Notify sends the alert. Delivery failures are logged and returned; callers
// are not expected to fail the webhook because of them.
func (a *Alerter) Notify(ctx context.Context, alert Alert) error {
	if a == nil {
		return nil
	}
	if alert.Severity == "" {
		alert.Severity = SeverityWarning
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}

	a.logger.Warn("webhook alert",
		"severity", alert.Severity,
		"provider", alert.Provider,
		"event_type", alert.EventType,
		"event_id", alert.EventID,
		"idempotency_key", alert.IdempotencyKey,
		"reason", alert.Reason,
	)

	if a.email == nil || a.to == "" {
		return nil
	}
	msg := EmailMessage{
		To:      a.to,
		Subject: subjectFor(alert),
		Body:    bodyFor(alert),
	}
	if err := a.email.Send(ctx, msg); err != nil {
		a.logger.Error("notify: alert email failed", "error", err, "event_id", alert.EventID)
		return fmt.Errorf("notify: send alert: %w", err)
	}
	return nil
}

func subjectFor(alert Alert) string {
	return fmt.Sprintf("[%s] %s webhook %s needs attention", strings.ToUpper(string(alert.Severity)), alert.Provider, alert.EventType)
}

func bodyFor(alert Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provider: %s\n", alert.Provider)
	fmt.Fprintf(&b, "Event type: %s\n", alert.EventType)
	if alert.EventID != "" {
		fmt.Fprintf(&b, "Event ID: %s\n", alert.EventID)
	}
	fmt.Fprintf(&b, "Idempotency key: %s\n", alert.IdempotencyKey)
	if alert.ResourceID != "" {
		fmt.Fprintf(&b, "Resource: %s\n", alert.ResourceID)
	}
	fmt.Fprintf(&b, "Occurred at: %s\n", alert.OccurredAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "\nReason:\n%s\n", truncate(alert.Reason, 2000))
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
