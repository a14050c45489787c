package bootstrap

import (
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/marketplace-payments/internal/config"
	"github.com/wolfman30/marketplace-payments/internal/events"
	"github.com/wolfman30/marketplace-payments/internal/notify"
	"github.com/wolfman30/marketplace-payments/internal/payments"
	"github.com/wolfman30/marketplace-payments/internal/reconcile"
	"github.com/wolfman30/marketplace-payments/internal/subscriptions"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

// BuildMayaVerifier returns nil when no Maya secret is configured. Source
// address enforcement is only switched on in production.
func BuildMayaVerifier(cfg *appconfig.Config, logger *logging.Logger) *payments.MayaVerifier {
	if cfg == nil || strings.TrimSpace(cfg.MayaWebhookSecret) == "" {
		return nil
	}
	return payments.NewMayaVerifier(payments.MayaVerifierConfig{
		Secret:        cfg.MayaWebhookSecret,
		AllowedIPs:    cfg.MayaAllowedIPs,
		EnforceSource: cfg.IsProduction(),
	}, logger)
}

// BuildPayPalVerifier returns nil when no PayPal webhook id is configured.
func BuildPayPalVerifier(cfg *appconfig.Config, cache payments.CertCache, logger *logging.Logger) *payments.PayPalVerifier {
	if cfg == nil || strings.TrimSpace(cfg.PayPalWebhookID) == "" {
		return nil
	}
	return payments.NewPayPalVerifier(payments.PayPalVerifierConfig{
		WebhookID:  cfg.PayPalWebhookID,
		CertTTL:    cfg.PayPalCertCacheTTL,
		HTTPClient: &http.Client{Timeout: cfg.PayPalHTTPTimeout},
		Cache:      cache,
	}, logger)
}

// BuildPayPalClient returns nil without REST credentials.
func BuildPayPalClient(cfg *appconfig.Config) *payments.PayPalClient {
	if cfg == nil || cfg.PayPalClientID == "" || cfg.PayPalClientSecret == "" {
		return nil
	}
	return payments.NewPayPalClient(payments.PayPalClientConfig{
		BaseURL:      cfg.PayPalBaseURL,
		ClientID:     cfg.PayPalClientID,
		ClientSecret: cfg.PayPalClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.PayPalHTTPTimeout},
	})
}

// BuildReconciler wires the transactional reconciler behind PayPal
// subscription enrichment.
func BuildReconciler(pool *pgxpool.Pool, processed *events.ProcessedStore, cfg *appconfig.Config, logger *logging.Logger) *payments.EnrichingReconciler {
	core := reconcile.New(reconcile.Deps{
		DB:            pool,
		Claims:        processed,
		Subscriptions: subscriptions.NewRepository(cfg.FreePlanID),
		Logger:        logger,
		Timeout:       cfg.WebhookProcessTimeout,
	})
	return payments.NewEnrichingReconciler(core, BuildPayPalClient(cfg), logger)
}

// BuildAlerter chooses the operator email transport: SendGrid when an API
// key is set, SES when a sender address is set, otherwise log-only.
func BuildAlerter(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.Alerter {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewAlerter(nil, "", logger)
	}

	var sender notify.EmailSender
	switch {
	case cfg.SendGridAPIKey != "":
		sender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.AlertEmailFrom,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("alert email via sendgrid")
	case cfg.AlertEmailFrom != "" && awsCfg != nil:
		sender = notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
			FromEmail: cfg.AlertEmailFrom,
			FromName:  cfg.SendGridFromName,
		}, logger)
		logger.Info("alert email via ses")
	default:
		sender = notify.NewStubEmailSender(logger)
		logger.Warn("no alert email transport configured; alerts are logged only")
	}
	return notify.NewAlerter(sender, cfg.AlertEmailTo, logger)
}
