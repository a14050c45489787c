// Package reconcile applies classified webhook intents to bookings and
// subscriptions. Each event is handled in one database transaction that claims
// the idempotency key, locks and advances the entity, appends the ledger row
// and queues the outbox envelope.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/marketplace-payments/internal/bookings"
	"github.com/wolfman30/marketplace-payments/internal/events"
	"github.com/wolfman30/marketplace-payments/internal/ledger"
	"github.com/wolfman30/marketplace-payments/internal/subscriptions"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

var reconcileTracer = otel.Tracer("marketplace.internal.reconcile")

// Outcome summarizes what a reconciliation did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result describes a completed reconciliation.
type Result struct {
	Outcome        Outcome
	Intent         webhooks.Intent
	Kind           webhooks.CorrelationKind
	EntityID       string
	From           string
	To             string
	IdempotencyKey string
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type claimer interface {
	Claim(ctx context.Context, exec events.Execer, evt events.ProcessedEvent) (bool, error)
}

type bookingStore interface {
	GetForUpdate(ctx context.Context, db bookings.DBTX, id string) (*bookings.Booking, error)
	UpdatePayment(ctx context.Context, db bookings.DBTX, upd bookings.PaymentUpdate) error
}

type subscriptionStore interface {
	GetPlan(ctx context.Context, db subscriptions.DBTX, planID string) (*subscriptions.Plan, error)
	FreePlan(ctx context.Context, db subscriptions.DBTX) (*subscriptions.Plan, error)
	LockUser(ctx context.Context, db subscriptions.DBTX, userID string) error
	GetForUpdate(ctx context.Context, db subscriptions.DBTX, provider, externalID, userID, planID string) (*subscriptions.Subscription, error)
	Insert(ctx context.Context, db subscriptions.DBTX, sub *subscriptions.Subscription) error
	UpdateStatus(ctx context.Context, db subscriptions.DBTX, id string, status subscriptions.Status) error
	WriteSnapshot(ctx context.Context, db subscriptions.DBTX, userID string, snap subscriptions.Snapshot) error
}

type ledgerWriter interface {
	AppendTransaction(ctx context.Context, db ledger.Execer, rec *ledger.TransactionRecord) error
	AppendPaymentRecord(ctx context.Context, db ledger.Execer, rec *ledger.PaymentRecord) error
}

// Deps wires the reconciler's collaborators.
type Deps struct {
	DB            TxBeginner
	Claims        claimer
	Bookings      bookingStore
	Subscriptions subscriptionStore
	Ledger        ledgerWriter
	Logger        *logging.Logger
	// Timeout bounds one attempt, including lock waits.
	Timeout time.Duration
}

// Reconciler applies intents atomically.
type Reconciler struct {
	db       TxBeginner
	claims   claimer
	bookings bookingStore
	subs     subscriptionStore
	ledger   ledgerWriter
	logger   *logging.Logger
	timeout  time.Duration
}

// New constructs a Reconciler.
func New(deps Deps) *Reconciler {
	if deps.DB == nil {
		panic("reconcile: database required")
	}
	if deps.Claims == nil {
		panic("reconcile: processed store required")
	}
	if deps.Bookings == nil {
		deps.Bookings = bookings.NewRepository()
	}
	if deps.Subscriptions == nil {
		deps.Subscriptions = subscriptions.NewRepository("")
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 10 * time.Second
	}
	return &Reconciler{
		db:       deps.DB,
		claims:   deps.Claims,
		bookings: deps.Bookings,
		subs:     deps.Subscriptions,
		ledger:   deps.Ledger,
		logger:   deps.Logger,
		timeout:  deps.Timeout,
	}
}

// Reconcile applies intent to the entity the event correlates to. Unknown
// intents are ignored without touching the database. Failures are returned as
// *Error so callers can route retryable ones to a dead-letter queue.
func (r *Reconciler) Reconcile(ctx context.Context, evt webhooks.Event, intent webhooks.Intent) (result Result, err error) {
	key := webhooks.IdempotencyKey(evt)
	result = Result{Intent: intent, Kind: evt.Correlation.Kind, IdempotencyKey: key}

	ctx, span := reconcileTracer.Start(ctx, "reconcile.apply")
	defer func() {
		span.SetAttributes(attribute.String("reconcile.outcome", string(result.Outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("payments.provider", evt.Provider.String()),
		attribute.String("payments.event_type", evt.EventType),
		attribute.String("payments.intent", intent.String()),
		attribute.String("payments.idempotency_key", key),
	)

	if !intent.IsKnown() {
		result.Outcome = OutcomeIgnored
		return result, nil
	}
	if evt.Correlation.IsZero() {
		return result, classify("correlate", webhooks.ErrNoCorrelation)
	}
	if err := evt.Correlation.Validate(); err != nil {
		return result, classify("correlate", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return result, classify("begin", fmt.Errorf("reconcile: begin tx: %w", err))
	}
	defer tx.Rollback(ctx)

	claimed, err := r.claims.Claim(ctx, tx, events.ProcessedEvent{
		Provider:   evt.Provider.String(),
		Key:        key,
		EventType:  evt.EventType,
		ResourceID: evt.ResourceID,
		Payload:    evt.Raw,
	})
	if err != nil {
		return result, classify("claim", err)
	}
	if !claimed {
		result.Outcome = OutcomeDuplicate
		r.logger.Info("webhook event already reconciled", "provider", evt.Provider, "idempotency_key", key)
		return result, nil
	}

	switch evt.Correlation.Kind {
	case webhooks.KindBookingPayment:
		err = r.applyBooking(ctx, tx, evt, intent, key, &result)
	case webhooks.KindSubscriptionPayment:
		err = r.applySubscription(ctx, tx, evt, intent, key, &result)
	default:
		err = fmt.Errorf("%w: kind %q", webhooks.ErrInvalidCorrelation, evt.Correlation.Kind)
	}
	if err != nil {
		return result, classify("apply", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return result, classify("commit", fmt.Errorf("reconcile: commit: %w", err))
	}
	r.logger.Info("webhook event reconciled",
		"provider", evt.Provider,
		"intent", intent,
		"kind", result.Kind,
		"entity_id", result.EntityID,
		"from", result.From,
		"to", result.To,
		"outcome", result.Outcome,
	)
	return result, nil
}
