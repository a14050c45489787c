package reconcile

import (
	"errors"
	"fmt"

	"github.com/wolfman30/marketplace-payments/internal/bookings"
	"github.com/wolfman30/marketplace-payments/internal/subscriptions"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

// ErrKind separates failures worth retrying from ones that never succeed.
type ErrKind int

const (
	// ErrKindPermanent covers missing entities, invalid transitions and bad
	// correlation. Retrying produces the same answer.
	ErrKindPermanent ErrKind = iota + 1
	// ErrKindRetryable covers database, timeout and ordering failures.
	ErrKindRetryable
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindPermanent:
		return "permanent"
	case ErrKindRetryable:
		return "retryable"
	}
	return "unknown"
}

// Error is returned by Reconcile for every failure.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("reconcile: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether err is a retryable reconciliation failure.
func Retryable(err error) bool {
	var rerr *Error
	return errors.As(err, &rerr) && rerr.Kind == ErrKindRetryable
}

// KindOf returns the failure kind, treating foreign errors as retryable.
func KindOf(err error) ErrKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ErrKindRetryable
}

var permanentCauses = []error{
	bookings.ErrNotFound,
	bookings.ErrInvalidTransition,
	subscriptions.ErrNotFound,
	subscriptions.ErrPlanNotFound,
	subscriptions.ErrUserNotFound,
	subscriptions.ErrInvalidTransition,
	webhooks.ErrNoCorrelation,
	webhooks.ErrInvalidCorrelation,
	errFamilyMismatch,
}

var errFamilyMismatch = errors.New("reconcile: intent does not apply to correlated entity")

// classify wraps err with the kind its cause implies. Anything not known to be
// permanent, including timeouts, is retryable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return err
	}
	for _, cause := range permanentCauses {
		if errors.Is(err, cause) {
			return &Error{Kind: ErrKindPermanent, Op: op, Err: err}
		}
	}
	return &Error{Kind: ErrKindRetryable, Op: op, Err: err}
}
