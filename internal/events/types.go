package events

import "time"

// BookingPaymentUpdatedV1 is emitted after a payment webhook changes a
// booking's payment status.
type BookingPaymentUpdatedV1 struct {
	BookingID      string    `json:"booking_id"`
	ClientID       string    `json:"client_id,omitempty"`
	ProviderID     string    `json:"provider_id,omitempty"`
	PaymentStatus  string    `json:"payment_status"`
	PreviousStatus string    `json:"previous_status"`
	BookingStatus  string    `json:"booking_status,omitempty"`
	Provider       string    `json:"provider"`
	ProviderRef    string    `json:"provider_ref"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (BookingPaymentUpdatedV1) EventType() string { return "booking.payment_updated.v1" }

// SubscriptionUpdatedV1 is emitted for every reconciled subscription event,
// including payments that leave the status unchanged.
type SubscriptionUpdatedV1 struct {
	SubscriptionID         string    `json:"subscription_id"`
	UserID                 string    `json:"user_id"`
	PlanID                 string    `json:"plan_id"`
	Status                 string    `json:"status"`
	PreviousStatus         string    `json:"previous_status"`
	Intent                 string    `json:"intent"`
	Provider               string    `json:"provider"`
	ExternalSubscriptionID string    `json:"external_subscription_id,omitempty"`
	AmountCents            int64     `json:"amount_cents,omitempty"`
	Currency               string    `json:"currency,omitempty"`
	OccurredAt             time.Time `json:"occurred_at"`
}

func (SubscriptionUpdatedV1) EventType() string { return "subscription.updated.v1" }
