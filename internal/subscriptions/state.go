package subscriptions

import (
	"fmt"

	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

// Record statuses written to the payment ledger.
const (
	RecordCompleted = "completed"
	RecordFailed    = "failed"
	RecordCancelled = "cancelled"
	RecordExpired   = "expired"
)

// Transition describes what reconciling one intent does to a subscription.
type Transition struct {
	From Status
	To   Status
	// Changed is set when the stored status moves.
	Changed bool
	// Record is set when a payment record must be appended.
	Record       bool
	RecordStatus string
	// ResetToFree reverts the user snapshot to the free plan.
	ResetToFree bool
	// Activate writes the subscribed plan into the user snapshot.
	Activate bool
}

// NextState applies a subscription intent to the current status.
//
//	none|suspended   -> active      (Activated)
//	active|suspended -> cancelled   (Cancelled, snapshot reset to free)
//	active           -> suspended   (Suspended)
//	active|suspended -> expired     (Expired, snapshot reset to free)
//
// PaymentCompleted and PaymentFailed only append a record. Re-applying the
// current status is a no-op.
func NextState(current Status, intent webhooks.Intent) (Transition, error) {
	tr := Transition{From: current, To: current}
	invalid := func() (Transition, error) {
		return Transition{}, fmt.Errorf("%w: %q on %s", ErrInvalidTransition, current, intent)
	}

	switch intent {
	case webhooks.IntentSubscriptionActivated:
		switch current {
		case StatusActive:
			return tr, nil
		case StatusNone, StatusSuspended:
			return move(tr, StatusActive, RecordCompleted, func(t *Transition) { t.Activate = true }), nil
		}
		return invalid()

	case webhooks.IntentSubscriptionCancelled:
		switch current {
		case StatusCancelled:
			return tr, nil
		case StatusActive, StatusSuspended:
			return move(tr, StatusCancelled, RecordCancelled, func(t *Transition) { t.ResetToFree = true }), nil
		case StatusNone:
			return Transition{}, ErrNotFound
		}
		return invalid()

	case webhooks.IntentSubscriptionSuspended:
		switch current {
		case StatusSuspended:
			return tr, nil
		case StatusActive:
			return move(tr, StatusSuspended, RecordFailed, nil), nil
		case StatusNone:
			return Transition{}, ErrNotFound
		}
		return invalid()

	case webhooks.IntentSubscriptionExpired:
		switch current {
		case StatusExpired:
			return tr, nil
		case StatusActive, StatusSuspended:
			return move(tr, StatusExpired, RecordExpired, func(t *Transition) { t.ResetToFree = true }), nil
		case StatusNone:
			return Transition{}, ErrNotFound
		}
		return invalid()

	case webhooks.IntentSubscriptionPaymentCompleted, webhooks.IntentSubscriptionPaymentFailed:
		if current == StatusNone {
			// Sale notifications routinely arrive ahead of ACTIVATED.
			return Transition{}, ErrNotActivated
		}
		tr.Record = true
		tr.RecordStatus = RecordCompleted
		if intent == webhooks.IntentSubscriptionPaymentFailed {
			tr.RecordStatus = RecordFailed
		}
		return tr, nil
	}
	return Transition{}, fmt.Errorf("%w: intent %s does not apply to subscriptions", ErrInvalidTransition, intent)
}

func move(tr Transition, to Status, recordStatus string, extra func(*Transition)) Transition {
	tr.To = to
	tr.Changed = true
	tr.Record = true
	tr.RecordStatus = recordStatus
	if extra != nil {
		extra(&tr)
	}
	return tr
}
