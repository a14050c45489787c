package payments

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/marketplace-payments/internal/audit"
	"github.com/wolfman30/marketplace-payments/internal/deadletter"
	"github.com/wolfman30/marketplace-payments/internal/notify"
	"github.com/wolfman30/marketplace-payments/internal/observability/metrics"
	"github.com/wolfman30/marketplace-payments/internal/reconcile"
	"github.com/wolfman30/marketplace-payments/internal/webhooks"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

const maxWebhookBodyBytes = 1 << 20

type processedChecker interface {
	AlreadyProcessed(ctx context.Context, provider, key string) (bool, error)
}

type deadLetterPublisher interface {
	Publish(ctx context.Context, letter deadletter.Letter) error
}

type auditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

type alerter interface {
	Notify(ctx context.Context, alert notify.Alert) error
}

// ParseFunc turns a verified body into a normalized event.
type ParseFunc func(body []byte, receivedAt time.Time) (webhooks.Event, error)

// WebhookDeps are the collaborators shared by both provider handlers.
type WebhookDeps struct {
	Processed   processedChecker
	Reconciler  reconciler
	DeadLetters deadLetterPublisher
	Audit       auditRecorder
	Alerts      alerter
	Metrics     *metrics.WebhookMetrics
	Logger      *logging.Logger
	// SkipVerify bypasses signature checks. Only honored outside production;
	// config validation enforces that.
	SkipVerify bool
}

// WebhookHandler runs the verify -> parse -> classify -> reconcile pipeline
// for one provider.
type WebhookHandler struct {
	provider    webhooks.Provider
	verifier    Verifier
	parse       ParseFunc
	processed   processedChecker
	reconciler  reconciler
	deadLetters deadLetterPublisher
	audit       auditRecorder
	alerts      alerter
	metrics     *metrics.WebhookMetrics
	skipVerify  bool
	logger      *logging.Logger
	now         func() time.Time
}

// NewMayaWebhookHandler builds the Maya endpoint. A nil verifier means Maya is
// not configured and requests get 503.
func NewMayaWebhookHandler(verifier *MayaVerifier, deps WebhookDeps) *WebhookHandler {
	var v Verifier
	if verifier != nil {
		v = verifier
	}
	return NewWebhookHandler(webhooks.ProviderMaya, v, ParseMayaEvent, deps)
}

// NewPayPalWebhookHandler builds the PayPal endpoint. A nil verifier means
// PayPal is not configured and requests get 503.
func NewPayPalWebhookHandler(verifier *PayPalVerifier, deps WebhookDeps) *WebhookHandler {
	var v Verifier
	if verifier != nil {
		v = verifier
	}
	return NewWebhookHandler(webhooks.ProviderPayPal, v, ParsePayPalEvent, deps)
}

func NewWebhookHandler(provider webhooks.Provider, verifier Verifier, parse ParseFunc, deps WebhookDeps) *WebhookHandler {
	if parse == nil {
		panic("payments: parse func cannot be nil")
	}
	if deps.Reconciler == nil {
		panic("payments: reconciler cannot be nil")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	return &WebhookHandler{
		provider:    provider,
		verifier:    verifier,
		parse:       parse,
		processed:   deps.Processed,
		reconciler:  deps.Reconciler,
		deadLetters: deps.DeadLetters,
		audit:       deps.Audit,
		alerts:      deps.Alerts,
		metrics:     deps.Metrics,
		skipVerify:  deps.SkipVerify,
		logger:      deps.Logger.With("provider", provider.String()),
		now:         time.Now,
	}
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	ctx, span := paymentsTracer.Start(r.Context(), "payments.webhook."+h.provider.String())
	defer span.End()
	r = r.WithContext(ctx)
	defer func() {
		h.metrics.ObserveLatency(h.provider.String(), time.Since(start).Seconds())
	}()

	if h.verifier == nil && !h.skipVerify {
		h.logger.Error("webhook received but provider is not configured")
		h.metrics.ObserveRejected(h.provider.String(), "not_configured")
		writeWebhookJSON(w, http.StatusServiceUnavailable, webhookResponse{Error: "provider not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.metrics.ObserveRejected(h.provider.String(), "unreadable_body")
		writeWebhookJSON(w, http.StatusBadRequest, webhookResponse{Error: "invalid body"})
		return
	}

	if h.skipVerify {
		h.logger.Warn("webhook signature verification skipped", "remote_ip", clientIP(r))
	} else if err := h.verifier.Verify(r, body); err != nil {
		h.rejectSignature(r, err)
		writeWebhookJSON(w, VerificationStatus(err), webhookResponse{Error: verificationReason(err)})
		return
	}

	evt, err := h.parse(body, h.now())
	if err != nil {
		h.logger.Warn("failed to parse webhook payload", "error", err)
		h.metrics.ObserveRejected(h.provider.String(), "malformed_payload")
		writeWebhookJSON(w, http.StatusBadRequest, webhookResponse{Error: "malformed payload"})
		return
	}
	intent := webhooks.Classify(evt.Provider, evt.EventType)
	key := webhooks.IdempotencyKey(evt)
	span.SetAttributes(
		attribute.String("payments.event_type", evt.EventType),
		attribute.String("payments.intent", intent.String()),
		attribute.String("payments.idempotency_key", key),
	)
	logger := h.logger.With("event_type", evt.EventType, "idempotency_key", key)

	if !intent.IsKnown() {
		logger.Info("ignoring unrecognized webhook event")
		h.record(ctx, r, evt, key, audit.EventUnknownWebhook, "unrecognized event type")
		h.metrics.ObserveReceived(h.provider.String(), intent.String(), string(reconcile.OutcomeIgnored))
		writeWebhookJSON(w, http.StatusOK, webhookResponse{Success: true, Outcome: string(reconcile.OutcomeIgnored)})
		return
	}

	if h.processed != nil {
		done, err := h.processed.AlreadyProcessed(ctx, h.provider.String(), key)
		if err != nil {
			logger.Warn("processed pre-check failed", "error", err)
		} else if done {
			logger.Info("duplicate webhook delivery")
			h.metrics.ObserveReceived(h.provider.String(), intent.String(), string(reconcile.OutcomeDuplicate))
			writeWebhookJSON(w, http.StatusOK, webhookResponse{Success: true, Outcome: string(reconcile.OutcomeDuplicate)})
			return
		}
	}

	result, err := h.reconciler.Reconcile(ctx, evt, intent)
	if err != nil {
		h.handleFailure(ctx, w, r, logger, evt, intent, key, err)
		return
	}

	logger.Info("webhook reconciled",
		"outcome", result.Outcome,
		"entity_id", result.EntityID,
		"from", result.From,
		"to", result.To,
	)
	h.metrics.ObserveReceived(h.provider.String(), intent.String(), string(result.Outcome))
	writeWebhookJSON(w, http.StatusOK, webhookResponse{Success: true, Outcome: string(result.Outcome)})
}

// handleFailure routes reconciliation errors. Permanent failures are audited
// and acknowledged. Retryable ones are parked on the dead-letter queue; if that
// fails too the provider gets a 500 and redelivers.
func (h *WebhookHandler) handleFailure(ctx context.Context, w http.ResponseWriter, r *http.Request, logger *logging.Logger, evt webhooks.Event, intent webhooks.Intent, key string, cause error) {
	provider := h.provider.String()
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	span.SetAttributes(attribute.Bool("payments.retryable", reconcile.Retryable(cause)))

	if !reconcile.Retryable(cause) {
		logger.Error("webhook reconciliation failed permanently", "error", cause)
		h.record(ctx, r, evt, key, audit.EventReconcileFailed, cause.Error())
		h.alert(ctx, notify.SeverityWarning, evt, key, cause.Error())
		h.metrics.ObserveReceived(provider, intent.String(), "failed")
		writeWebhookJSON(w, http.StatusOK, webhookResponse{Success: false, Outcome: "failed", Error: "unprocessable event"})
		return
	}

	logger.Warn("webhook reconciliation failed, dead-lettering", "error", cause)
	if h.deadLetters == nil {
		h.metrics.ObserveDeadLetter(provider, false)
		h.metrics.ObserveReceived(provider, intent.String(), "error")
		writeWebhookJSON(w, http.StatusInternalServerError, webhookResponse{Error: "internal error"})
		return
	}
	letter := deadletter.NewLetter(evt, intent, cause, true)
	if err := h.deadLetters.Publish(context.WithoutCancel(ctx), letter); err != nil {
		logger.Error("dead-letter publish failed", "error", err)
		h.metrics.ObserveDeadLetter(provider, false)
		h.metrics.ObserveReceived(provider, intent.String(), "error")
		h.alert(ctx, notify.SeverityCritical, evt, key, "dead-letter publish failed: "+err.Error())
		writeWebhookJSON(w, http.StatusInternalServerError, webhookResponse{Error: "internal error"})
		return
	}
	h.metrics.ObserveDeadLetter(provider, true)
	h.metrics.ObserveReceived(provider, intent.String(), "dead_lettered")
	h.alert(ctx, notify.SeverityWarning, evt, key, "dead-lettered for replay: "+cause.Error())
	writeWebhookJSON(w, http.StatusOK, webhookResponse{Success: true, Outcome: "dead_lettered"})
}

func (h *WebhookHandler) rejectSignature(r *http.Request, err error) {
	reason := verificationReason(err)
	h.logger.Warn("webhook signature rejected", "error", err, "reason", reason, "remote_ip", clientIP(r))
	h.metrics.ObserveRejected(h.provider.String(), reason)
}

func (h *WebhookHandler) record(ctx context.Context, r *http.Request, evt webhooks.Event, key string, eventType audit.EventType, reason string) {
	if h.audit == nil {
		return
	}
	entry := audit.Entry{
		EventType:      eventType,
		Provider:       h.provider.String(),
		ProviderEvent:  evt.EventType,
		IdempotencyKey: key,
		ResourceID:     evt.ResourceID,
		Reason:         reason,
		RemoteIP:       clientIP(r),
		Payload:        evt.Raw,
	}
	if err := h.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		h.logger.Error("failed to write webhook audit entry", "error", err, "idempotency_key", key)
	}
}

func (h *WebhookHandler) alert(ctx context.Context, severity notify.Severity, evt webhooks.Event, key, reason string) {
	if h.alerts == nil {
		return
	}
	_ = h.alerts.Notify(context.WithoutCancel(ctx), notify.Alert{
		Severity:       severity,
		Provider:       h.provider.String(),
		EventType:      evt.EventType,
		EventID:        evt.EventID,
		IdempotencyKey: key,
		ResourceID:     evt.ResourceID,
		Reason:         reason,
	})
}

func writeWebhookJSON(w http.ResponseWriter, status int, resp webhookResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
