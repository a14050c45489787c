package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/marketplace-payments/internal/events"
	"github.com/wolfman30/marketplace-payments/internal/ledger"
	"github.com/wolfman30/marketplace-payments/internal/subscriptions"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
)

// subscriptionIntent maps one-off payment intents onto the subscription family
// for checkouts tagged as subscription purchases (Maya). The bool is false when
// the payment outcome has no effect on the subscription.
func subscriptionIntent(intent webhooks.Intent) (webhooks.Intent, bool) {
	if intent.IsSubscription() {
		return intent, true
	}
	switch intent {
	case webhooks.IntentPaymentSucceeded:
		return webhooks.IntentSubscriptionActivated, true
	case webhooks.IntentPaymentFailed:
		return webhooks.IntentSubscriptionPaymentFailed, true
	}
	return intent, false
}

func (r *Reconciler) applySubscription(ctx context.Context, tx pgx.Tx, evt webhooks.Event, intent webhooks.Intent, key string, result *Result) error {
	corr := evt.Correlation
	subIntent, ok := subscriptionIntent(intent)
	if !ok {
		result.Outcome = OutcomeNoop
		return nil
	}

	// Changes for one user serialize on the user row so two first purchases
	// cannot both insert a subscription.
	if corr.UserID != "" {
		if err := r.subs.LockUser(ctx, tx, corr.UserID); err != nil {
			return err
		}
	}

	externalID := evt.ExternalSubscriptionID
	sub, err := r.subs.GetForUpdate(ctx, tx, evt.Provider.String(), externalID, corr.UserID, corr.PlanID)
	if err != nil {
		return err
	}
	current := subscriptions.StatusNone
	if sub != nil {
		current = sub.Status
		result.EntityID = sub.ID
	}
	if current == subscriptions.StatusActive && !intent.IsSubscription() && subIntent == webhooks.IntentSubscriptionActivated {
		// A paid checkout against a live subscription is a renewal.
		subIntent = webhooks.IntentSubscriptionPaymentCompleted
	}

	tr, err := subscriptions.NextState(current, subIntent)
	if err != nil {
		return err
	}
	result.From, result.To = string(tr.From), string(tr.To)
	if !tr.Changed && !tr.Record {
		result.Outcome = OutcomeNoop
		return nil
	}

	userID, planID := corr.UserID, corr.PlanID
	if sub != nil {
		if sub.UserID != corr.UserID {
			r.logger.Warn("subscription correlation user mismatch", "subscription_id", sub.ID, "stored_user", sub.UserID, "correlated_user", corr.UserID)
		}
		userID, planID = sub.UserID, sub.PlanID
	}

	switch {
	case tr.Activate:
		plan, err := r.subs.GetPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		if sub == nil {
			sub = &subscriptions.Subscription{
				UserID:                 corr.UserID,
				PlanID:                 plan.ID,
				Status:                 subscriptions.StatusActive,
				Provider:               evt.Provider.String(),
				ExternalSubscriptionID: externalID,
				StartDate:              startDate(evt.ReceivedAt),
			}
			if err := r.subs.Insert(ctx, tx, sub); err != nil {
				return err
			}
			userID, planID = sub.UserID, sub.PlanID
		} else if err := r.subs.UpdateStatus(ctx, tx, sub.ID, subscriptions.StatusActive); err != nil {
			return err
		}
		result.EntityID = sub.ID
		if err := r.subs.WriteSnapshot(ctx, tx, userID, subscriptions.SnapshotFor(sub.ID, *plan, subscriptions.StatusActive)); err != nil {
			return err
		}

	case tr.Changed:
		if err := r.subs.UpdateStatus(ctx, tx, sub.ID, tr.To); err != nil {
			return err
		}
		snap, err := r.snapshotAfter(ctx, tx, sub, tr)
		if err != nil {
			return err
		}
		if err := r.subs.WriteSnapshot(ctx, tx, userID, snap); err != nil {
			return err
		}
	}

	if tr.Record {
		if err := r.ledger.AppendPaymentRecord(ctx, tx, &ledger.PaymentRecord{
			SubscriptionID:         sub.ID,
			UserID:                 userID,
			PlanID:                 planID,
			Provider:               evt.Provider.String(),
			ExternalID:             evt.ResourceID,
			ExternalSubscriptionID: firstNonEmpty(externalID, sub.ExternalSubscriptionID),
			EventType:              evt.EventType,
			AmountCents:            evt.AmountCents,
			Currency:               evt.Currency,
			Status:                 tr.RecordStatus,
			IdempotencyKey:         key,
		}); err != nil {
			return err
		}
	}

	if _, err := events.AppendDomainEvent(ctx, tx, events.AggregateKey("subscription", sub.ID), key, events.SubscriptionUpdatedV1{
		SubscriptionID:         sub.ID,
		UserID:                 userID,
		PlanID:                 planID,
		Status:                 string(tr.To),
		PreviousStatus:         string(tr.From),
		Intent:                 subIntent.String(),
		Provider:               evt.Provider.String(),
		ExternalSubscriptionID: firstNonEmpty(externalID, sub.ExternalSubscriptionID),
		AmountCents:            evt.AmountCents,
		Currency:               evt.Currency,
		OccurredAt:             evt.ReceivedAt,
	}); err != nil {
		return err
	}
	result.Outcome = OutcomeApplied
	return nil
}

// snapshotAfter computes the user snapshot once a live subscription changes
// status. Cancelled and expired subscriptions drop the user to the free plan.
func (r *Reconciler) snapshotAfter(ctx context.Context, tx pgx.Tx, sub *subscriptions.Subscription, tr subscriptions.Transition) (subscriptions.Snapshot, error) {
	if tr.ResetToFree {
		free, err := r.subs.FreePlan(ctx, tx)
		if err != nil {
			return subscriptions.Snapshot{}, fmt.Errorf("reconcile: load free plan: %w", err)
		}
		return subscriptions.SnapshotFor("", *free, subscriptions.StatusActive), nil
	}
	plan, err := r.subs.GetPlan(ctx, tx, sub.PlanID)
	if err != nil {
		return subscriptions.Snapshot{}, err
	}
	return subscriptions.SnapshotFor(sub.ID, *plan, tr.To), nil
}

func startDate(received time.Time) time.Time {
	if received.IsZero() {
		return time.Now().UTC()
	}
	return received.UTC()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
