// Package ledger appends the per-event financial records that support and
// finance use to trace a provider payment back to a booking or subscription.
// Records are never updated or deleted.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// Execer is satisfied by *pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TransactionRecord is one booking payment movement.
type TransactionRecord struct {
	ID             uuid.UUID
	BookingID      string
	ClientID       string
	ProviderID     string
	Provider       string
	ExternalID     string
	AmountCents    int64
	Currency       string
	Status         string
	PaymentMethod  string
	IdempotencyKey string
	CreatedAt      time.Time
}

// PaymentRecord is one subscription lifecycle or billing event.
type PaymentRecord struct {
	ID                     uuid.UUID
	SubscriptionID         string
	UserID                 string
	PlanID                 string
	Provider               string
	ExternalID             string
	ExternalSubscriptionID string
	EventType              string
	AmountCents            int64
	Currency               string
	Status                 string
	IdempotencyKey         string
	CreatedAt              time.Time
}

// Ledger writes append-only records through the caller's executor.
type Ledger struct {
	now func() time.Time
}

func New() *Ledger {
	return &Ledger{now: time.Now}
}

const insertTransaction = `
	INSERT INTO transactions (
		id, booking_id, client_id, provider_id, provider, external_id,
		amount_cents, currency, status, payment_method, idempotency_key, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

// AppendTransaction inserts rec, filling ID and CreatedAt when empty.
func (l *Ledger) AppendTransaction(ctx context.Context, db Execer, rec *TransactionRecord) error {
	l.stamp(&rec.ID, &rec.CreatedAt)
	_, err := db.Exec(ctx, insertTransaction,
		rec.ID, rec.BookingID, rec.ClientID, rec.ProviderID, rec.Provider, text(rec.ExternalID),
		rec.AmountCents, text(rec.Currency), rec.Status, text(rec.PaymentMethod), rec.IdempotencyKey, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: append transaction: %w", err)
	}
	return nil
}

const insertPaymentRecord = `
	INSERT INTO payment_records (
		id, subscription_id, user_id, plan_id, provider, external_id, external_subscription_id,
		event_type, amount_cents, currency, status, idempotency_key, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

// AppendPaymentRecord inserts rec, filling ID and CreatedAt when empty.
func (l *Ledger) AppendPaymentRecord(ctx context.Context, db Execer, rec *PaymentRecord) error {
	l.stamp(&rec.ID, &rec.CreatedAt)
	_, err := db.Exec(ctx, insertPaymentRecord,
		rec.ID, rec.SubscriptionID, rec.UserID, rec.PlanID, rec.Provider, text(rec.ExternalID),
		text(rec.ExternalSubscriptionID), rec.EventType, rec.AmountCents, text(rec.Currency),
		rec.Status, rec.IdempotencyKey, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ledger: append payment record: %w", err)
	}
	return nil
}

func (l *Ledger) stamp(id *uuid.UUID, at *time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if at.IsZero() {
		*at = l.now().UTC()
	}
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
