package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/marketplace-payments/internal/api/router"
	appbootstrap "github.com/wolfman30/marketplace-payments/internal/app/bootstrap"
	"github.com/wolfman30/marketplace-payments/internal/audit"
	appconfig "github.com/wolfman30/marketplace-payments/internal/config"
	"github.com/wolfman30/marketplace-payments/internal/deadletter"
	"github.com/wolfman30/marketplace-payments/internal/events"
	"github.com/wolfman30/marketplace-payments/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/marketplace-payments/internal/http/middleware"
	"github.com/wolfman30/marketplace-payments/internal/observability/metrics"
	"github.com/wolfman30/marketplace-payments/internal/payments"
	"github.com/wolfman30/marketplace-payments/internal/queue"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Default().Warn("failed to load .env", "error", err)
	}

	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting payments webhook API",
		"env", cfg.Env,
		"port", cfg.Port,
	)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.SkipWebhookVerification() {
		logger.Warn("webhook signature verification is DISABLED")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	metricsHandler, webhookMetrics := setupMetrics()

	redisClient := appbootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	certCache := appbootstrap.BuildCertCache(redisClient)

	var awsCfg *aws.Config
	if loaded, err := appbootstrap.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("aws config unavailable; dead letters and outbox delivery disabled", "error", err)
	} else {
		awsCfg = &loaded
	}

	processed := events.NewProcessedStore(pool)
	reconciler := appbootstrap.BuildReconciler(pool, processed, cfg, logger)
	auditStore := audit.NewStore(sqlDB)
	alerter := appbootstrap.BuildAlerter(cfg, awsCfg, logger)

	deps := payments.WebhookDeps{
		Processed:  processed,
		Reconciler: reconciler,
		Audit:      auditStore,
		Alerts:     alerter,
		Metrics:    webhookMetrics,
		Logger:     logger,
		SkipVerify: cfg.SkipWebhookVerification(),
	}
	if awsCfg != nil {
		if dlq := appbootstrap.BuildSQSQueue(*awsCfg, cfg.DeadLetterQueueURL, logger); dlq != nil {
			deps.DeadLetters = deadletter.NewPublisher(dlq, logger)
		} else {
			logger.Warn("DEAD_LETTER_QUEUE_URL not set; retryable failures will be returned as 500")
		}
		startOutboxDelivery(ctx, cfg, pool, appbootstrap.BuildSQSQueue(*awsCfg, cfg.PaymentEventsQueueURL, logger), webhookMetrics, logger)
	}

	limiter := httpmiddleware.NewRateLimiter(cfg.WebhookRateLimitRPS, cfg.WebhookRateLimitBurst)
	defer limiter.Stop()

	r := router.New(&router.Config{
		Logger:         logger,
		MayaWebhook:    payments.NewMayaWebhookHandler(appbootstrap.BuildMayaVerifier(cfg, logger), deps),
		PayPalWebhook:  payments.NewPayPalWebhookHandler(appbootstrap.BuildPayPalVerifier(cfg, certCache, logger), deps),
		AdminAudit:     handlers.NewAdminAuditHandler(auditStore, logger),
		AdminJWTSecret: cfg.AdminJWTSecret,
		MetricsHandler: metricsHandler,
		RateLimiter:    limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// setupMetrics registers the webhook metrics on a private registry together
// with the Go runtime and process collectors.
func setupMetrics() (http.Handler, *metrics.WebhookMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewWebhookMetrics(reg)
}

func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if url == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres ping failed", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// startOutboxDelivery ships committed domain events to the payment events
// queue until ctx is canceled.
func startOutboxDelivery(ctx context.Context, cfg *appconfig.Config, pool *pgxpool.Pool, q queue.Queue, m *metrics.WebhookMetrics, logger *logging.Logger) *events.Deliverer {
	if q == nil {
		logger.Warn("PAYMENT_EVENTS_QUEUE_URL not set; outbox events stay pending")
		return nil
	}
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), queue.NewOutboxPublisher(q), logger).
		WithInterval(cfg.OutboxPollInterval).
		OnDelivered(m.ObserveOutboxDelivered)
	go deliverer.Start(ctx)
	return deliverer
}
