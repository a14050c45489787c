package webhooks

import "strings"

// Intent is the internal meaning of a provider event.
type Intent string

const (
	IntentPaymentSucceeded  Intent = "payment.succeeded"
	IntentPaymentFailed     Intent = "payment.failed"
	IntentPaymentCancelled  Intent = "payment.cancelled"
	IntentPaymentExpired    Intent = "payment.expired"
	IntentPaymentAuthorized Intent = "payment.authorized"

	IntentSubscriptionActivated        Intent = "subscription.activated"
	IntentSubscriptionCancelled        Intent = "subscription.cancelled"
	IntentSubscriptionSuspended        Intent = "subscription.suspended"
	IntentSubscriptionPaymentCompleted Intent = "subscription.payment_completed"
	IntentSubscriptionPaymentFailed    Intent = "subscription.payment_failed"
	IntentSubscriptionExpired          Intent = "subscription.expired"

	IntentUnknown Intent = "unknown"
)

func (i Intent) String() string { return string(i) }

// IsPayment reports whether the intent belongs to the one-off payment family.
func (i Intent) IsPayment() bool { return strings.HasPrefix(string(i), "payment.") }

// IsSubscription reports whether the intent belongs to the subscription family.
func (i Intent) IsSubscription() bool { return strings.HasPrefix(string(i), "subscription.") }

// IsKnown is false only for IntentUnknown and values outside the enum.
func (i Intent) IsKnown() bool {
	_, ok := knownIntents[i]
	return ok
}

var knownIntents = map[Intent]struct{}{
	IntentPaymentSucceeded:             {},
	IntentPaymentFailed:                {},
	IntentPaymentCancelled:             {},
	IntentPaymentExpired:               {},
	IntentPaymentAuthorized:            {},
	IntentSubscriptionActivated:        {},
	IntentSubscriptionCancelled:        {},
	IntentSubscriptionSuspended:        {},
	IntentSubscriptionPaymentCompleted: {},
	IntentSubscriptionPaymentFailed:    {},
	IntentSubscriptionExpired:          {},
}

var mayaIntents = map[string]Intent{
	"PAYMENT_SUCCESS":    IntentPaymentSucceeded,
	"CHECKOUT_SUCCESS":   IntentPaymentSucceeded,
	"PAYMENT_FAILED":     IntentPaymentFailed,
	"CHECKOUT_FAILURE":   IntentPaymentFailed,
	"PAYMENT_CANCELLED":  IntentPaymentCancelled,
	"CHECKOUT_DROPOUT":   IntentPaymentCancelled,
	"PAYMENT_EXPIRED":    IntentPaymentExpired,
	"AUTHORIZED":         IntentPaymentAuthorized,
	"PAYMENT_AUTHORIZED": IntentPaymentAuthorized,
}

var paypalIntents = map[string]Intent{
	"PAYMENT.CAPTURE.COMPLETED":          IntentPaymentSucceeded,
	"PAYMENT.CAPTURE.DENIED":             IntentPaymentFailed,
	"PAYMENT.CAPTURE.DECLINED":           IntentPaymentFailed,
	"PAYMENT.AUTHORIZATION.CREATED":      IntentPaymentAuthorized,
	"CHECKOUT.ORDER.APPROVED":            IntentPaymentAuthorized,
	"PAYMENT.AUTHORIZATION.VOIDED":       IntentPaymentCancelled,
	"CHECKOUT.ORDER.VOIDED":              IntentPaymentCancelled,
	"CHECKOUT.PAYMENT-APPROVAL.REVERSED": IntentPaymentExpired,

	"BILLING.SUBSCRIPTION.ACTIVATED":      IntentSubscriptionActivated,
	"BILLING.SUBSCRIPTION.CANCELLED":      IntentSubscriptionCancelled,
	"BILLING.SUBSCRIPTION.SUSPENDED":      IntentSubscriptionSuspended,
	"BILLING.SUBSCRIPTION.EXPIRED":        IntentSubscriptionExpired,
	"PAYMENT.SALE.COMPLETED":              IntentSubscriptionPaymentCompleted,
	"BILLING.SUBSCRIPTION.PAYMENT.FAILED": IntentSubscriptionPaymentFailed,
}

// Classify maps a provider event type onto an Intent. Unrecognized values
// yield IntentUnknown and must never mutate state.
func Classify(provider Provider, eventType string) Intent {
	key := NormalizeEventType(eventType)
	if key == "" {
		return IntentUnknown
	}
	var table map[string]Intent
	switch provider {
	case ProviderMaya:
		table = mayaIntents
	case ProviderPayPal:
		table = paypalIntents
	default:
		return IntentUnknown
	}
	if intent, ok := table[key]; ok {
		return intent
	}
	return IntentUnknown
}
