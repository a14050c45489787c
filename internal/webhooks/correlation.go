package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CorrelationKind says which entity a payment belongs to.
type CorrelationKind string

const (
	KindBookingPayment      CorrelationKind = "booking_payment"
	KindSubscriptionPayment CorrelationKind = "subscription_payment"
)

// Correlation links a provider payment back to the record that requested it.
// Payment creation attaches it as structured metadata (or PayPal custom_id).
type Correlation struct {
	Kind      CorrelationKind `json:"kind"`
	BookingID string          `json:"bookingId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	PlanID    string          `json:"planId,omitempty"`
}

var (
	// ErrNoCorrelation means the payload carried nothing that identifies its owner.
	ErrNoCorrelation = errors.New("webhooks: no correlation found")
	// ErrInvalidCorrelation means a correlation was present but incomplete.
	ErrInvalidCorrelation = errors.New("webhooks: invalid correlation")
)

// IsZero reports whether no correlation has been resolved.
func (c Correlation) IsZero() bool {
	return c.Kind == "" && c.BookingID == "" && c.UserID == "" && c.PlanID == ""
}

// Validate checks the fields required by the correlation kind.
func (c Correlation) Validate() error {
	switch c.Kind {
	case KindBookingPayment:
		if strings.TrimSpace(c.BookingID) == "" {
			return fmt.Errorf("%w: booking payment without bookingId", ErrInvalidCorrelation)
		}
	case KindSubscriptionPayment:
		if strings.TrimSpace(c.UserID) == "" || strings.TrimSpace(c.PlanID) == "" {
			return fmt.Errorf("%w: subscription payment requires userId and planId", ErrInvalidCorrelation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCorrelation, c.Kind)
	}
	return nil
}

// EncodeCorrelation renders the structured form attached to payment requests.
func EncodeCorrelation(c Correlation) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("webhooks: encode correlation: %w", err)
	}
	return string(data), nil
}

// ParseCorrelation resolves the owner of a payment. The structured JSON object
// wins, then explicit metadata tags, then the legacy underscore-delimited ids
// still present on payments created before structured correlation existed.
func ParseCorrelation(raw string, metadata map[string]string) (Correlation, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var c Correlation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return Correlation{}, fmt.Errorf("%w: %v", ErrInvalidCorrelation, err)
		}
		c = c.trimmed()
		if err := c.Validate(); err != nil {
			return Correlation{}, err
		}
		return c, nil
	}

	if c, ok := correlationFromMetadata(metadata); ok {
		if err := c.Validate(); err != nil {
			return Correlation{}, err
		}
		return c, nil
	}

	if c, ok := parseLegacyCorrelation(raw); ok {
		return c, nil
	}
	return Correlation{}, ErrNoCorrelation
}

func (c Correlation) trimmed() Correlation {
	c.Kind = CorrelationKind(strings.TrimSpace(string(c.Kind)))
	c.BookingID = strings.TrimSpace(c.BookingID)
	c.UserID = strings.TrimSpace(c.UserID)
	c.PlanID = strings.TrimSpace(c.PlanID)
	return c
}

func correlationFromMetadata(metadata map[string]string) (Correlation, bool) {
	if len(metadata) == 0 {
		return Correlation{}, false
	}
	lookup := func(keys ...string) string {
		for _, key := range keys {
			if v := strings.TrimSpace(metadata[key]); v != "" {
				return v
			}
		}
		return ""
	}
	kind := CorrelationKind(lookup("type", "kind"))
	c := Correlation{
		Kind:      kind,
		BookingID: lookup("bookingId", "booking_id"),
		UserID:    lookup("userId", "user_id"),
		PlanID:    lookup("planId", "plan_id"),
	}
	switch kind {
	case KindBookingPayment, KindSubscriptionPayment:
		return c, true
	case "":
		// Untagged metadata still routes when the ids are unambiguous.
		if c.BookingID != "" && c.PlanID == "" {
			c.Kind = KindBookingPayment
			return c, true
		}
		if c.UserID != "" && c.PlanID != "" && c.BookingID == "" {
			c.Kind = KindSubscriptionPayment
			return c, true
		}
	}
	return Correlation{}, false
}

// parseLegacyCorrelation understands subscription_<userId>_<planId> and
// booking_<bookingId>. Plan ids never contain underscores; user ids may.
func parseLegacyCorrelation(raw string) (Correlation, bool) {
	switch {
	case strings.HasPrefix(raw, "subscription_"):
		rest := strings.TrimPrefix(raw, "subscription_")
		idx := strings.LastIndex(rest, "_")
		if idx <= 0 || idx == len(rest)-1 {
			return Correlation{}, false
		}
		return Correlation{
			Kind:   KindSubscriptionPayment,
			UserID: rest[:idx],
			PlanID: rest[idx+1:],
		}, true
	case strings.HasPrefix(raw, "booking_"):
		id := strings.TrimPrefix(raw, "booking_")
		if id == "" {
			return Correlation{}, false
		}
		return Correlation{Kind: KindBookingPayment, BookingID: id}, true
	}
	return Correlation{}, false
}
