package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (for Stripe redirect URLs)
	BaseURL string

	// Price per 15-minute block for paid sessions, in minor currency units.
	// Subscription prices live on the Stripe dashboard prices referenced by
	// the price IDs below.
	PerBlockCents int64

	// Stripe Billing Configuration
	// Required in production. In development, billing handlers function as
	// stubs if these are empty.
	StripeSecretKey     string // Stripe API secret key (sk_test_... or sk_live_...)
	StripeWebhookSecret string // Stripe webhook signing secret (whsec_...)

	// Recurring price IDs created in the Stripe dashboard
	StripeRetainerPriceID string
	StripeChatPriceID     string

	// Transaction retry budget for booking conflicts
	BookingRetryAttempts uint64
	BookingRetryBase     time.Duration

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		PerBlockCents: getEnvInt64("PRICE_PER_BLOCK_CENTS", 2500),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		StripeRetainerPriceID: getEnv("STRIPE_RETAINER_PRICE_ID", ""),
		StripeChatPriceID:     getEnv("STRIPE_CHAT_PRICE_ID", ""),

		BookingRetryAttempts: uint64(getEnvInt("BOOKING_RETRY_ATTEMPTS", 3)),
		BookingRetryBase:     getEnvDuration("BOOKING_RETRY_BASE", 25*time.Millisecond),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.PerBlockCents <= 0 {
		return nil, fmt.Errorf("PRICE_PER_BLOCK_CENTS must be positive, got: %d", cfg.PerBlockCents)
	}

	// Webhook secret is required as soon as the API key is set; a server that
	// accepts unverified webhooks is worse than one with billing disabled.
	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
