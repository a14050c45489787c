package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	appconfig "github.com/wolfman30/marketplace-payments/internal/config"
	replayworker "github.com/wolfman30/marketplace-payments/internal/worker/replay"
	"github.com/wolfman30/marketplace-payments/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := replayworker.Run(ctx, cfg, logger); err != nil {
		logger.Error("replay worker failed", "error", err)
		os.Exit(1)
	}
}
