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

	// Bearer tokens issued by the auth backend are HS256 JWTs signed with this secret.
	JWTSecret string

	// Backend ledger API (upload counts, historical quota)
	LedgerBaseURL string

	// Quota engine
	LookupTimeout             time.Duration // per external call
	QuotaCacheTTL             time.Duration
	AccountingFailClosed      bool // treat a failed accounting query as a full quota instead of zero usage
	GracePeriodDays           int
	RefreshRatePerMinute      int // forced refreshes allowed per user per minute
	APIRatePerMinute          int // requests per client IP per minute across /api
	ShutdownTimeout           time.Duration
	StripeSecretKey           string
	StripeWebhookSecret       string
	StripePremiumMonthlyPrice string
	StripePremiumYearlyPrice  string
	StripeUnlimitedMonthPrice string
	StripeUnlimitedYearPrice  string

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

		JWTSecret:     os.Getenv("JWT_SECRET"),
		LedgerBaseURL: os.Getenv("LEDGER_BASE_URL"),

		LookupTimeout:        getEnvDuration("LOOKUP_TIMEOUT", 10*time.Second),
		QuotaCacheTTL:        getEnvDuration("QUOTA_CACHE_TTL", 2*time.Minute),
		AccountingFailClosed: getEnvBool("QUOTA_ACCOUNTING_FAIL_CLOSED", false),
		GracePeriodDays:      getEnvInt("GRACE_PERIOD_DAYS", 7),
		RefreshRatePerMinute: getEnvInt("REFRESH_RATE_PER_MINUTE", 6),
		APIRatePerMinute:     getEnvInt("API_RATE_PER_MINUTE", 120),
		ShutdownTimeout:      getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Stripe (optional; without a key the entitlement provider reports "not ready")
		StripeSecretKey:           getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:       getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripePremiumMonthlyPrice: getEnv("STRIPE_PREMIUM_MONTHLY_PRICE_ID", ""),
		StripePremiumYearlyPrice:  getEnv("STRIPE_PREMIUM_YEARLY_PRICE_ID", ""),
		StripeUnlimitedMonthPrice: getEnv("STRIPE_UNLIMITED_MONTHLY_PRICE_ID", ""),
		StripeUnlimitedYearPrice:  getEnv("STRIPE_UNLIMITED_YEARLY_PRICE_ID", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.LedgerBaseURL == "" {
		return nil, fmt.Errorf("LEDGER_BASE_URL is required")
	}

	if cfg.LookupTimeout <= 0 {
		return nil, fmt.Errorf("LOOKUP_TIMEOUT must be positive, got: %s", cfg.LookupTimeout)
	}
	if cfg.QuotaCacheTTL <= 0 {
		return nil, fmt.Errorf("QUOTA_CACHE_TTL must be positive, got: %s", cfg.QuotaCacheTTL)
	}
	if cfg.GracePeriodDays < 0 {
		return nil, fmt.Errorf("GRACE_PERIOD_DAYS cannot be negative, got: %d", cfg.GracePeriodDays)
	}
	if cfg.RefreshRatePerMinute < 1 {
		cfg.RefreshRatePerMinute = 1
	}
	if cfg.APIRatePerMinute < 1 {
		cfg.APIRatePerMinute = 1
	}

	if cfg.StripeSecretKey != "" && cfg.StripeWebhookSecret == "" && cfg.Env != "development" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}

	return cfg, nil
}

// BillingEnabled reports whether a Stripe key was configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
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

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
