package bookings

import (
	"errors"
	"time"
)

// Status is the lifecycle state shown to clients and providers.
type Status string

const (
	StatusPendingPayment Status = "PendingPayment"
	StatusUpcoming       Status = "Upcoming"
	StatusCompleted      Status = "Completed"
	StatusCancelled      Status = "Cancelled"
)

// PaymentStatus tracks the money side of a booking.
type PaymentStatus string

const (
	PaymentNone       PaymentStatus = "none"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentPaid       PaymentStatus = "paid"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentExpired    PaymentStatus = "expired"
)

// IsTerminal reports whether no further payment webhook may move the booking.
func (p PaymentStatus) IsTerminal() bool {
	switch p {
	case PaymentPaid, PaymentFailed, PaymentCancelled, PaymentExpired:
		return true
	}
	return false
}

var (
	ErrNotFound          = errors.New("bookings: booking not found")
	ErrInvalidTransition = errors.New("bookings: invalid payment transition")
)

// Booking is the subset of the booking record owned by payment reconciliation.
// Bookings are created elsewhere; this package only reads and advances them.
type Booking struct {
	ID                    string
	ClientID              string
	ProviderID            string
	Status                Status
	PaymentStatus         PaymentStatus
	PaymentMethod         string
	ExternalTransactionID string
	AmountCents           int64
	Currency              string
	UpdatedAt             time.Time
}

// PaymentUpdate is written back after a successful transition.
type PaymentUpdate struct {
	BookingID             string
	Status                Status
	PaymentStatus         PaymentStatus
	PaymentMethod         string
	ExternalTransactionID string
}
