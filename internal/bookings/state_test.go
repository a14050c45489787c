package bookings

import (
	"errors"
	"testing"

	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

func TestNextPaymentState(t *testing.T) {
	cases := []struct {
		name       string
		from       PaymentStatus
		intent     webhooks.Intent
		want       PaymentStatus
		changed    bool
		wantStatus Status
		wantErr    bool
	}{
		{"authorize", PaymentNone, webhooks.IntentPaymentAuthorized, PaymentAuthorized, true, StatusPendingPayment, false},
		{"empty treated as none", "", webhooks.IntentPaymentSucceeded, PaymentPaid, true, StatusUpcoming, false},
		{"capture after auth", PaymentAuthorized, webhooks.IntentPaymentSucceeded, PaymentPaid, true, StatusUpcoming, false},
		{"fail after auth", PaymentAuthorized, webhooks.IntentPaymentFailed, PaymentFailed, true, StatusPendingPayment, false},
		{"cancel", PaymentNone, webhooks.IntentPaymentCancelled, PaymentCancelled, true, StatusPendingPayment, false},
		{"expire", PaymentAuthorized, webhooks.IntentPaymentExpired, PaymentExpired, true, StatusPendingPayment, false},
		{"repeat paid", PaymentPaid, webhooks.IntentPaymentSucceeded, PaymentPaid, false, StatusUpcoming, false},
		{"repeat authorized", PaymentAuthorized, webhooks.IntentPaymentAuthorized, PaymentAuthorized, false, StatusPendingPayment, false},
		{"fail after paid", PaymentPaid, webhooks.IntentPaymentFailed, "", false, "", true},
		{"authorize after cancel", PaymentCancelled, webhooks.IntentPaymentAuthorized, "", false, "", true},
		{"subscription intent", PaymentNone, webhooks.IntentSubscriptionActivated, "", false, "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status := StatusPendingPayment
			if tc.from == PaymentPaid {
				status = StatusUpcoming
			}
			tr, err := NextPaymentState(Booking{ID: "B1", Status: status, PaymentStatus: tc.from}, tc.intent)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected invalid transition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.To != tc.want || tr.Changed != tc.changed || tr.Status != tc.wantStatus {
				t.Fatalf("got %#v", tr)
			}
		})
	}
}
