package bookings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides persistence helpers for bookings. Every method takes the
// executor explicitly so callers can run it inside their transaction.
type Repository struct{}

// NewRepository creates a bookings repository.
func NewRepository() *Repository {
	return &Repository{}
}

const getBookingForUpdate = `
	SELECT id, client_id, provider_id, status, payment_status,
	       payment_method, external_transaction_id, amount_cents, currency, updated_at
	FROM bookings
	WHERE id = $1
	FOR UPDATE
`

// GetForUpdate loads and row-locks a booking for the rest of the transaction.
func (r *Repository) GetForUpdate(ctx context.Context, db DBTX, id string) (*Booking, error) {
	var (
		b             Booking
		status        string
		paymentStatus string
		method        pgtype.Text
		externalID    pgtype.Text
		currency      pgtype.Text
	)
	err := db.QueryRow(ctx, getBookingForUpdate, id).Scan(
		&b.ID, &b.ClientID, &b.ProviderID, &status, &paymentStatus,
		&method, &externalID, &b.AmountCents, &currency, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bookings: load for update: %w", err)
	}
	b.Status = Status(status)
	b.PaymentStatus = PaymentStatus(paymentStatus)
	b.PaymentMethod = method.String
	b.ExternalTransactionID = externalID.String
	b.Currency = currency.String
	return &b, nil
}

const updateBookingPayment = `
	UPDATE bookings
	SET status = $2,
	    payment_status = $3,
	    payment_method = COALESCE($4, payment_method),
	    external_transaction_id = COALESCE($5, external_transaction_id),
	    updated_at = now()
	WHERE id = $1
`

// UpdatePayment writes the new payment state. Empty method or transaction id
// keep the stored values.
func (r *Repository) UpdatePayment(ctx context.Context, db DBTX, upd PaymentUpdate) error {
	ct, err := db.Exec(ctx, updateBookingPayment,
		upd.BookingID,
		string(upd.Status),
		string(upd.PaymentStatus),
		toPGText(upd.PaymentMethod),
		toPGText(upd.ExternalTransactionID),
	)
	if err != nil {
		return fmt.Errorf("bookings: update payment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func toPGText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
