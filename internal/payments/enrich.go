package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/marketplace-payments/internal/reconcile"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

type reconciler interface {
	Reconcile(ctx context.Context, evt webhooks.Event, intent webhooks.Intent) (reconcile.Result, error)
}

type subscriptionFetcher interface {
	GetSubscription(ctx context.Context, id string) (*PayPalSubscription, error)
}

// EnrichingReconciler resolves missing PayPal subscription correlation from
// the subscriptions API before delegating to the reconciler. Sale events only
// carry the billing agreement id, so their custom_id has to be fetched.
type EnrichingReconciler struct {
	next   reconciler
	paypal subscriptionFetcher
	logger *logging.Logger
}

func NewEnrichingReconciler(next reconciler, paypal *PayPalClient, logger *logging.Logger) *EnrichingReconciler {
	var fetcher subscriptionFetcher
	if paypal.Configured() {
		fetcher = paypal
	}
	return newEnrichingReconciler(next, fetcher, logger)
}

func newEnrichingReconciler(next reconciler, fetcher subscriptionFetcher, logger *logging.Logger) *EnrichingReconciler {
	if next == nil {
		panic("payments: reconciler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EnrichingReconciler{next: next, paypal: fetcher, logger: logger}
}

func (e *EnrichingReconciler) Reconcile(ctx context.Context, evt webhooks.Event, intent webhooks.Intent) (reconcile.Result, error) {
	if e.needsEnrichment(evt, intent) {
		enriched, err := e.enrich(ctx, evt)
		if err != nil {
			result := reconcile.Result{Intent: intent, IdempotencyKey: webhooks.IdempotencyKey(evt)}
			return result, err
		}
		evt = enriched
	}
	return e.next.Reconcile(ctx, evt, intent)
}

func (e *EnrichingReconciler) needsEnrichment(evt webhooks.Event, intent webhooks.Intent) bool {
	return e.paypal != nil &&
		evt.Provider == webhooks.ProviderPayPal &&
		evt.Correlation.IsZero() &&
		evt.ExternalSubscriptionID != "" &&
		intent.IsSubscription()
}

func (e *EnrichingReconciler) enrich(ctx context.Context, evt webhooks.Event) (webhooks.Event, error) {
	sub, err := e.paypal.GetSubscription(ctx, evt.ExternalSubscriptionID)
	if err != nil {
		return evt, &reconcile.Error{Kind: reconcile.ErrKindRetryable, Op: "enrich", Err: err}
	}
	corr, err := webhooks.ParseCorrelation(sub.CustomID, nil)
	if err != nil {
		kind := reconcile.ErrKindPermanent
		if !errors.Is(err, webhooks.ErrNoCorrelation) && !errors.Is(err, webhooks.ErrInvalidCorrelation) {
			kind = reconcile.ErrKindRetryable
		}
		return evt, &reconcile.Error{Kind: kind, Op: "enrich", Err: fmt.Errorf("subscription %s custom_id: %w", sub.ID, err)}
	}

	e.logger.Info("paypal subscription correlation enriched",
		"subscription_id", evt.ExternalSubscriptionID,
		"user_id", corr.UserID,
		"plan_id", corr.PlanID,
	)
	evt.Correlation = corr
	if sub.PlanID != "" {
		metadata := make(map[string]string, len(evt.Metadata)+1)
		for k, v := range evt.Metadata {
			metadata[k] = v
		}
		metadata["paypal_plan_id"] = sub.PlanID
		evt.Metadata = metadata
	}
	return evt, nil
}
