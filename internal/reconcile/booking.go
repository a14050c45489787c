package reconcile

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/marketplace-payments/internal/bookings"
	"github.com/wolfman30/marketplace-payments/internal/events"
	"github.com/wolfman30/marketplace-payments/internal/ledger"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

func (r *Reconciler) applyBooking(ctx context.Context, tx pgx.Tx, evt webhooks.Event, intent webhooks.Intent, key string, result *Result) error {
	if !intent.IsPayment() {
		return fmt.Errorf("%w: %s on booking", errFamilyMismatch, intent)
	}
	bookingID := evt.Correlation.BookingID
	result.EntityID = bookingID

	booking, err := r.bookings.GetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return err
	}
	tr, err := bookings.NextPaymentState(*booking, intent)
	if err != nil {
		return err
	}
	result.From, result.To = string(tr.From), string(tr.To)
	if !tr.Changed {
		result.Outcome = OutcomeNoop
		return nil
	}

	if err := r.bookings.UpdatePayment(ctx, tx, bookings.PaymentUpdate{
		BookingID:             bookingID,
		Status:                tr.Status,
		PaymentStatus:         tr.To,
		PaymentMethod:         evt.PaymentMethod,
		ExternalTransactionID: evt.ResourceID,
	}); err != nil {
		return err
	}

	amount, currency := evt.AmountCents, evt.Currency
	if amount == 0 {
		amount = booking.AmountCents
	}
	if currency == "" {
		currency = booking.Currency
	}
	if err := r.ledger.AppendTransaction(ctx, tx, &ledger.TransactionRecord{
		BookingID:      bookingID,
		ClientID:       booking.ClientID,
		ProviderID:     booking.ProviderID,
		Provider:       evt.Provider.String(),
		ExternalID:     evt.ResourceID,
		AmountCents:    amount,
		Currency:       currency,
		Status:         transactionStatus(tr.To),
		PaymentMethod:  evt.PaymentMethod,
		IdempotencyKey: key,
	}); err != nil {
		return err
	}

	if _, err := events.AppendDomainEvent(ctx, tx, events.AggregateKey("booking", bookingID), key, events.BookingPaymentUpdatedV1{
		BookingID:      bookingID,
		ClientID:       booking.ClientID,
		ProviderID:     booking.ProviderID,
		PaymentStatus:  string(tr.To),
		PreviousStatus: string(tr.From),
		BookingStatus:  string(tr.Status),
		Provider:       evt.Provider.String(),
		ProviderRef:    evt.ResourceID,
		AmountCents:    amount,
		Currency:       currency,
		OccurredAt:     evt.ReceivedAt,
	}); err != nil {
		return err
	}
	result.Outcome = OutcomeApplied
	return nil
}

// transactionStatus is the ledger status for a booking payment state. A
// captured payment is recorded as completed.
func transactionStatus(s bookings.PaymentStatus) string {
	if s == bookings.PaymentPaid {
		return "completed"
	}
	return string(s)
}
