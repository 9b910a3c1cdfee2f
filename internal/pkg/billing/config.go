package billing

import (
	"errors"
	"time"

	"github.com/reelhouse/reelhouse/internal/pkg/env"
)

// Config holds billing engine settings.
type Config struct {
	GracePeriod         time.Duration
	CheckoutTTL         time.Duration
	SweepBatchSize      int
	SweepBudget         time.Duration
	EventMaxAttempts    int
	CheckoutSuccessURL  string
	CheckoutCancelURL   string
	StripeAPIKey        string
	StripeWebhookSecret string
}

// DefaultConfig returns the settings used when no environment overrides exist.
func DefaultConfig() Config {
	return Config{
		GracePeriod:      7 * 24 * time.Hour,
		CheckoutTTL:      30 * time.Minute,
		SweepBatchSize:   100,
		SweepBudget:      60 * time.Second,
		EventMaxAttempts: 3,
	}
}

// LoadConfig loads billing configuration from environment variables
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	cfg.GracePeriod = time.Duration(env.GetEnvInt("BILLING_GRACE_PERIOD_DAYS", 7)) * 24 * time.Hour
	cfg.CheckoutTTL = time.Duration(env.GetEnvInt("BILLING_CHECKOUT_TTL_MINUTES", 30)) * time.Minute
	cfg.SweepBatchSize = env.GetEnvInt("BILLING_SWEEP_BATCH_SIZE", cfg.SweepBatchSize)
	cfg.SweepBudget = time.Duration(env.GetEnvInt("BILLING_SWEEP_BUDGET_SECONDS", 60)) * time.Second
	cfg.EventMaxAttempts = env.GetEnvInt("BILLING_EVENT_MAX_ATTEMPTS", cfg.EventMaxAttempts)
	cfg.CheckoutSuccessURL = env.GetEnv("BILLING_CHECKOUT_SUCCESS_URL", "")
	cfg.CheckoutCancelURL = env.GetEnv("BILLING_CHECKOUT_CANCEL_URL", "")
	cfg.StripeAPIKey = env.GetEnv("STRIPE_API_KEY", "")
	cfg.StripeWebhookSecret = env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	if cfg.GracePeriod < 0 {
		return cfg, errors.New("BILLING_GRACE_PERIOD_DAYS must not be negative")
	}
	if cfg.CheckoutTTL <= 0 {
		return cfg, errors.New("BILLING_CHECKOUT_TTL_MINUTES must be positive")
	}
	if cfg.SweepBatchSize <= 0 {
		return cfg, errors.New("BILLING_SWEEP_BATCH_SIZE must be positive")
	}
	if cfg.EventMaxAttempts <= 0 {
		cfg.EventMaxAttempts = 1
	}
	if cfg.StripeAPIKey != "" && cfg.StripeWebhookSecret == "" {
		return cfg, errors.New("STRIPE_WEBHOOK_SECRET is required when STRIPE_API_KEY is set")
	}
	return cfg, nil
}
