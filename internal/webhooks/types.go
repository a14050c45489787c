// Package webhooks holds the provider-agnostic view of inbound payment
// notifications: the normalized event, its intent, and how it correlates back
// to a booking or subscription.
package webhooks

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies the payment gateway that sent a notification.
type Provider string

const (
	ProviderMaya   Provider = "maya"
	ProviderPayPal Provider = "paypal"
)

func (p Provider) String() string { return string(p) }

// Event is a verified, normalized webhook delivery. Handlers build it once from
// the raw body and never mutate it afterwards.
type Event struct {
	Provider               Provider          `json:"provider"`
	EventID                string            `json:"eventId,omitempty"`
	EventType              string            `json:"eventType"`
	ResourceID             string            `json:"resourceId"`
	ExternalSubscriptionID string            `json:"externalSubscriptionId,omitempty"`
	AmountCents            int64             `json:"amountCents"`
	Currency               string            `json:"currency,omitempty"`
	Metadata               map[string]string `json:"metadata,omitempty"`
	Correlation            Correlation       `json:"correlation"`
	PaymentMethod          string            `json:"paymentMethod,omitempty"`
	ReceivedAt             time.Time         `json:"receivedAt"`
	Raw                    json.RawMessage   `json:"raw,omitempty"`
}

// IdempotencyKey returns the identifier used to de-duplicate deliveries.
// PayPal issues a unique event id per notification; Maya does not, so its key
// is derived from the resource and the status it moved to.
func IdempotencyKey(evt Event) string {
	if evt.Provider == ProviderPayPal && strings.TrimSpace(evt.EventID) != "" {
		return strings.TrimSpace(evt.EventID)
	}
	resource := strings.TrimSpace(evt.ResourceID)
	if resource == "" {
		resource = strings.TrimSpace(evt.EventID)
	}
	return resource + ":" + NormalizeEventType(evt.EventType)
}

// NormalizeEventType upper-cases and trims provider event type strings.
func NormalizeEventType(eventType string) string {
	return strings.ToUpper(strings.TrimSpace(eventType))
}

// AmountToCents converts a provider decimal amount ("1500.50", 1500.5) into
// minor units, rounding half away from zero.
func AmountToCents(raw any) (int64, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, nil
		}
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("webhooks: parse amount %q: %w", v, err)
		}
		d = parsed
	case float64:
		d = decimal.NewFromFloat(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return 0, fmt.Errorf("webhooks: parse amount %q: %w", v, err)
		}
		d = parsed
	case int64:
		return v * 100, nil
	case int:
		return int64(v) * 100, nil
	default:
		return 0, fmt.Errorf("webhooks: unsupported amount type %T", raw)
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

// FormatCents renders minor units back to a two-decimal string.
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
