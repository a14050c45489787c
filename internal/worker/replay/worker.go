// Package replayworker drains the webhook dead-letter queue and re-runs
// reconciliation for letters that failed with a retryable error.
package replayworker

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	appbootstrap "github.com/wolfman30/marketplace-payments/internal/app/bootstrap"
	"github.com/wolfman30/marketplace-payments/internal/audit"
	appconfig "github.com/wolfman30/marketplace-payments/internal/config"
	"github.com/wolfman30/marketplace-payments/internal/deadletter"
	"github.com/wolfman30/marketplace-payments/internal/events"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

// Run starts the replay workers and blocks until ctx is canceled and the
// in-flight letters have finished.
func Run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg == nil {
		return fmt.Errorf("replay worker requires config")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("replay worker requires DATABASE_URL")
	}
	if cfg.DeadLetterQueueURL == "" {
		return fmt.Errorf("replay worker requires DEAD_LETTER_QUEUE_URL")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("worker failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()
	auditStore := audit.NewStore(sqlDB)

	awsConfig, err := appbootstrap.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	queue := appbootstrap.BuildSQSQueue(awsConfig, cfg.DeadLetterQueueURL, logger)

	reconciler := appbootstrap.BuildReconciler(pool, events.NewProcessedStore(pool), cfg, logger)
	alerter := appbootstrap.BuildAlerter(cfg, &awsConfig, logger)

	replayer := deadletter.NewReplayer(queue, reconciler, logger,
		deadletter.WithWorkerCount(cfg.ReplayWorkerCount),
		deadletter.WithMaxAttempts(cfg.ReplayMaxAttempts),
		deadletter.WithAuditRecorder(auditStore),
		deadletter.WithAlerter(alerter),
	)

	logger.Info("replay worker started",
		"workers", cfg.ReplayWorkerCount,
		"max_attempts", cfg.ReplayMaxAttempts,
	)
	replayer.Start(ctx)
	<-ctx.Done()
	replayer.Wait()
	logger.Info("replay worker stopped")
	return nil
}
