package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("MAYA_ALLOWED_IPS", "")
	t.Setenv("WEBHOOK_UNSAFE_SKIP_VERIFY", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.WebhookUnsafeSkipVerify {
		t.Fatalf("expected unsafe verify to be off by default")
	}
	if cfg.WebhookProcessTimeout != 10*time.Second {
		t.Fatalf("expected default process timeout, got %s", cfg.WebhookProcessTimeout)
	}
	if len(cfg.MayaAllowedIPs) != len(defaultMayaAllowedIPs) {
		t.Fatalf("expected default maya allow-list, got %v", cfg.MayaAllowedIPs)
	}
	if cfg.FreePlanID != "free" {
		t.Fatalf("expected free plan default, got %s", cfg.FreePlanID)
	}
	t.Setenv("REPLAY_MAX_ATTEMPTS", "")
	t.Setenv("REPLAY_WORKER_COUNT", "")
	if cfg := Load(); cfg.ReplayMaxAttempts != 8 || cfg.ReplayWorkerCount != 2 {
		t.Fatalf("unexpected replay defaults: attempts=%d workers=%d", cfg.ReplayMaxAttempts, cfg.ReplayWorkerCount)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "Production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("MAYA_ALLOWED_IPS", " 10.0.0.1, ,10.0.0.2 ")
	t.Setenv("PAYPAL_CERT_CACHE_TTL", "1h")
	t.Setenv("WEBHOOK_RATE_LIMIT_RPS", "2.5")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production env, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if len(cfg.MayaAllowedIPs) != 2 || cfg.MayaAllowedIPs[1] != "10.0.0.2" {
		t.Fatalf("expected trimmed allow-list, got %v", cfg.MayaAllowedIPs)
	}
	if cfg.PayPalCertCacheTTL != time.Hour {
		t.Fatalf("expected cert ttl override, got %s", cfg.PayPalCertCacheTTL)
	}
	if cfg.WebhookRateLimitRPS != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.WebhookRateLimitRPS)
	}
}

func TestUnsafeVerifyGatedByEnvironment(t *testing.T) {
	dev := &Config{Env: "development", WebhookUnsafeSkipVerify: true}
	if !dev.SkipWebhookVerification() {
		t.Fatalf("expected bypass to be honoured outside production")
	}
	if err := dev.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	prod := &Config{Env: "production", WebhookUnsafeSkipVerify: true}
	if prod.SkipWebhookVerification() {
		t.Fatalf("bypass must never be honoured in production")
	}
	if err := prod.Validate(); !errors.Is(err, ErrUnsafeVerifyInProduction) {
		t.Fatalf("expected production validation error, got %v", err)
	}
}
