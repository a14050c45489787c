package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists subscriptions, plans and the user snapshot.
type Repository struct {
	freePlanID string
}

// NewRepository creates a repository. freePlanID names the plan users fall
// back to when a paid subscription ends.
func NewRepository(freePlanID string) *Repository {
	if freePlanID == "" {
		freePlanID = "free"
	}
	return &Repository{freePlanID: freePlanID}
}

// FreePlanID returns the configured fallback plan.
func (r *Repository) FreePlanID() string { return r.freePlanID }

const getPlan = `
	SELECT id, name, price_cents, currency, period
	FROM plans
	WHERE id = $1
`

func (r *Repository) GetPlan(ctx context.Context, db DBTX, planID string) (*Plan, error) {
	var p Plan
	if err := db.QueryRow(ctx, getPlan, planID).Scan(&p.ID, &p.Name, &p.PriceCents, &p.Currency, &p.Period); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		return nil, fmt.Errorf("subscriptions: load plan: %w", err)
	}
	return &p, nil
}

// FreePlan loads the fallback plan.
func (r *Repository) FreePlan(ctx context.Context, db DBTX) (*Plan, error) {
	return r.GetPlan(ctx, db, r.freePlanID)
}

const subscriptionColumns = `id, user_id, plan_id, status, provider, external_subscription_id, start_date, updated_at`

const getByExternalForUpdate = `
	SELECT ` + subscriptionColumns + `
	FROM subscriptions
	WHERE provider = $1 AND external_subscription_id = $2
	FOR UPDATE
`

const getLatestForUserForUpdate = `
	SELECT ` + subscriptionColumns + `
	FROM subscriptions
	WHERE user_id = $1 AND plan_id = $2
	  AND status IN ('active', 'suspended')
	  AND ($3::text = '' OR external_subscription_id IS NULL)
	ORDER BY start_date DESC
	LIMIT 1
	FOR UPDATE
`

// GetForUpdate locks the subscription matching the provider's id. When the
// provider id is unknown it falls back to the newest live record for user and
// plan that is not bound to another provider subscription. Cancelled and
// expired rows never match the fallback, so a later purchase starts a new
// record. A nil result with a nil error means no subscription exists yet.
func (r *Repository) GetForUpdate(ctx context.Context, db DBTX, provider, externalID, userID, planID string) (*Subscription, error) {
	if externalID != "" {
		sub, err := scanSubscription(db.QueryRow(ctx, getByExternalForUpdate, provider, externalID))
		if err == nil || !errors.Is(err, ErrNotFound) {
			return sub, err
		}
	}
	if userID == "" || planID == "" {
		return nil, nil
	}
	sub, err := scanSubscription(db.QueryRow(ctx, getLatestForUserForUpdate, userID, planID, externalID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return sub, err
}

const lockUser = `
	SELECT id
	FROM users
	WHERE id = $1
	FOR UPDATE
`

// LockUser takes the user row lock that serializes subscription changes for
// one user, including the insert of a first subscription.
func (r *Repository) LockUser(ctx context.Context, db DBTX, userID string) error {
	var id string
	if err := db.QueryRow(ctx, lockUser, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return fmt.Errorf("subscriptions: lock user: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		s          Subscription
		status     string
		externalID pgtype.Text
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &status, &s.Provider, &externalID, &s.StartDate, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("subscriptions: load for update: %w", err)
	}
	s.Status = Status(status)
	s.ExternalSubscriptionID = externalID.String
	return &s, nil
}

const insertSubscription = `
	INSERT INTO subscriptions (id, user_id, plan_id, status, provider, external_subscription_id, start_date, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
`

// Insert creates a subscription record, assigning an id when empty.
func (r *Repository) Insert(ctx context.Context, db DBTX, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.StartDate.IsZero() {
		sub.StartDate = time.Now().UTC()
	}
	sub.UpdatedAt = sub.StartDate
	_, err := db.Exec(ctx, insertSubscription,
		sub.ID, sub.UserID, sub.PlanID, string(sub.Status), sub.Provider,
		pgtype.Text{String: sub.ExternalSubscriptionID, Valid: sub.ExternalSubscriptionID != ""},
		sub.StartDate,
	)
	if err != nil {
		return fmt.Errorf("subscriptions: insert: %w", err)
	}
	return nil
}

const updateSubscriptionStatus = `
	UPDATE subscriptions
	SET status = $2, updated_at = now()
	WHERE id = $1
`

func (r *Repository) UpdateStatus(ctx context.Context, db DBTX, id string, status Status) error {
	ct, err := db.Exec(ctx, updateSubscriptionStatus, id, string(status))
	if err != nil {
		return fmt.Errorf("subscriptions: update status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const updateUserSnapshot = `
	UPDATE users
	SET subscription_id = $2,
	    subscription_plan_id = $3,
	    subscription_status = $4,
	    subscription_price_cents = $5,
	    subscription_currency = $6,
	    subscription_period = $7,
	    subscription_updated_at = now()
	WHERE id = $1
`

// WriteSnapshot replaces the subscription snapshot embedded on the user row.
func (r *Repository) WriteSnapshot(ctx context.Context, db DBTX, userID string, snap Snapshot) error {
	ct, err := db.Exec(ctx, updateUserSnapshot,
		userID,
		pgtype.Text{String: snap.SubscriptionID, Valid: snap.SubscriptionID != ""},
		snap.PlanID,
		string(snap.Status),
		snap.PriceCents,
		snap.Currency,
		snap.Period,
	)
	if err != nil {
		return fmt.Errorf("subscriptions: write user snapshot: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}
