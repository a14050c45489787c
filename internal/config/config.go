package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Maya publishes the addresses its webhook notifications originate from.
var defaultMayaAllowedIPs = []string{
	"13.229.160.234",
	"3.1.199.75",
	"18.138.50.235",
	"3.1.207.200",
}

// ErrUnsafeVerifyInProduction is returned by Validate when signature checks
// are disabled in a production deployment.
var ErrUnsafeVerifyInProduction = errors.New("config: WEBHOOK_UNSAFE_SKIP_VERIFY cannot be enabled in production")

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Maya (PayMaya) webhook configuration
	MayaWebhookSecret string
	MayaAllowedIPs    []string

	// PayPal webhook + REST configuration
	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalWebhookID    string
	PayPalCertCacheTTL time.Duration
	PayPalHTTPTimeout  time.Duration

	// WebhookUnsafeSkipVerify disables signature verification. Only honoured
	// outside production; see Validate.
	WebhookUnsafeSkipVerify bool
	WebhookProcessTimeout   time.Duration
	WebhookRateLimitRPS     float64
	WebhookRateLimitBurst   int
	FreePlanID              string

	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	DeadLetterQueueURL    string
	PaymentEventsQueueURL string
	OutboxPollInterval    time.Duration
	ReplayWorkerCount     int
	ReplayMaxAttempts     int

	AlertEmailTo     string
	AlertEmailFrom   string
	SendGridAPIKey   string
	SendGridFromName string
	AdminJWTSecret   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           strings.ToLower(getEnv("ENV", "development")),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		MayaWebhookSecret: getEnv("MAYA_WEBHOOK_SECRET", ""),
		MayaAllowedIPs:    getEnvAsList("MAYA_ALLOWED_IPS", defaultMayaAllowedIPs),

		PayPalBaseURL:      getEnv("PAYPAL_BASE_URL", "https://api-m.sandbox.paypal.com"),
		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalWebhookID:    getEnv("PAYPAL_WEBHOOK_ID", ""),
		PayPalCertCacheTTL: getEnvAsDuration("PAYPAL_CERT_CACHE_TTL", 24*time.Hour),
		PayPalHTTPTimeout:  getEnvAsDuration("PAYPAL_HTTP_TIMEOUT", 10*time.Second),

		WebhookUnsafeSkipVerify: getEnvAsBool("WEBHOOK_UNSAFE_SKIP_VERIFY", false),
		WebhookProcessTimeout:   getEnvAsDuration("WEBHOOK_PROCESS_TIMEOUT", 10*time.Second),
		WebhookRateLimitRPS:     getEnvAsFloat("WEBHOOK_RATE_LIMIT_RPS", 20),
		WebhookRateLimitBurst:   getEnvAsInt("WEBHOOK_RATE_LIMIT_BURST", 40),
		FreePlanID:              getEnv("FREE_PLAN_ID", "free"),

		AWSRegion:             getEnv("AWS_REGION", "ap-southeast-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		DeadLetterQueueURL:    getEnv("DEAD_LETTER_QUEUE_URL", ""),
		PaymentEventsQueueURL: getEnv("PAYMENT_EVENTS_QUEUE_URL", ""),
		OutboxPollInterval:    getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		ReplayWorkerCount:     getEnvAsInt("REPLAY_WORKER_COUNT", 2),
		ReplayMaxAttempts:     getEnvAsInt("REPLAY_MAX_ATTEMPTS", 8),

		AlertEmailTo:     getEnv("ALERT_EMAIL_TO", ""),
		AlertEmailFrom:   getEnv("ALERT_EMAIL_FROM", ""),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName: getEnv("SENDGRID_FROM_NAME", "Payments Alerts"),
		AdminJWTSecret:   getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// IsProduction reports whether the deployment runs in production mode.
func (c *Config) IsProduction() bool {
	return c != nil && (c.Env == "production" || c.Env == "prod")
}

// SkipWebhookVerification reports whether signature checks may be bypassed.
// It is never true in production.
func (c *Config) SkipWebhookVerification() bool {
	return c != nil && c.WebhookUnsafeSkipVerify && !c.IsProduction()
}

// Validate rejects configurations that must never reach a running server.
func (c *Config) Validate() error {
	if c.WebhookUnsafeSkipVerify && c.IsProduction() {
		return ErrUnsafeVerifyInProduction
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
