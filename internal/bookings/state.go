package bookings

import (
	"fmt"

	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

// Transition is the outcome of applying a payment intent to a booking.
type Transition struct {
	From    PaymentStatus
	To      PaymentStatus
	Status  Status
	Changed bool
}

var paymentTargets = map[webhooks.Intent]PaymentStatus{
	webhooks.IntentPaymentAuthorized: PaymentAuthorized,
	webhooks.IntentPaymentSucceeded:  PaymentPaid,
	webhooks.IntentPaymentFailed:     PaymentFailed,
	webhooks.IntentPaymentCancelled:  PaymentCancelled,
	webhooks.IntentPaymentExpired:    PaymentExpired,
}

// NextPaymentState applies intent to the booking's current payment status.
//
//	none       -> authorized | paid | failed | cancelled | expired
//	authorized -> paid | failed | cancelled | expired
//
// Re-applying the current status is a no-op. Reaching paid also moves the
// booking to Upcoming.
func NextPaymentState(b Booking, intent webhooks.Intent) (Transition, error) {
	target, ok := paymentTargets[intent]
	if !ok {
		return Transition{}, fmt.Errorf("%w: intent %s does not apply to bookings", ErrInvalidTransition, intent)
	}
	from := b.PaymentStatus
	if from == "" {
		from = PaymentNone
	}
	tr := Transition{From: from, To: target, Status: b.Status}
	if from == target {
		return tr, nil
	}

	switch from {
	case PaymentNone:
	case PaymentAuthorized:
		if target == PaymentAuthorized {
			return tr, nil
		}
	default:
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	tr.Changed = true
	if target == PaymentPaid {
		tr.Status = StatusUpcoming
	}
	return tr, nil
}
