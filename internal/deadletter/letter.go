// Package deadletter parks webhook events whose reconciliation failed with a
// retryable error, and replays them later through the reconciler.
package deadletter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

// Letter is a failed webhook event together with the reason it failed.
type Letter struct {
	ID             string          `json:"id"`
	Provider       string          `json:"provider"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Intent         webhooks.Intent `json:"intent"`
	Reason         string          `json:"reason"`
	Retryable      bool            `json:"retryable"`
	FailedAt       time.Time       `json:"failedAt"`
	Event          webhooks.Event  `json:"event"`
}

// NewLetter builds a letter for evt.
func NewLetter(evt webhooks.Event, intent webhooks.Intent, cause error, retryable bool) Letter {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return Letter{
		ID:             uuid.NewString(),
		Provider:       evt.Provider.String(),
		IdempotencyKey: webhooks.IdempotencyKey(evt),
		Intent:         intent,
		Reason:         reason,
		Retryable:      retryable,
		FailedAt:       time.Now().UTC(),
		Event:          evt,
	}
}

// Encode serializes the letter as a queue message body.
func (l Letter) Encode() (string, error) {
	body, err := json.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("deadletter: marshal letter: %w", err)
	}
	return string(body), nil
}

// Decode parses a queue message body.
func Decode(body string) (Letter, error) {
	var l Letter
	if err := json.Unmarshal([]byte(body), &l); err != nil {
		return Letter{}, fmt.Errorf("deadletter: decode letter: %w", err)
	}
	if l.IdempotencyKey == "" {
		return Letter{}, fmt.Errorf("deadletter: letter %q has no idempotency key", l.ID)
	}
	return l, nil
}
