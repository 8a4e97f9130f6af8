package server

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application server.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	BaseURL     string

	SessionSecret string

	StripeAPIKey        string
	StripeWebhookSecret string
	StandardPriceID     string
	PremiumPriceID      string

	PostmarkToken string
	EmailFrom     string

	AnalysisEngineURL string

	ShopifyClientID     string
	ShopifyClientSecret string

	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("HANNO_PORT", 8080)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("HANNO_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("HANNO_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		BaseURL:             strings.TrimSpace(os.Getenv("HANNO_BASE_URL")),
		SessionSecret:       strings.TrimSpace(os.Getenv("HANNO_SESSION_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StandardPriceID:     strings.TrimSpace(os.Getenv("STRIPE_STANDARD_PRICE_ID")),
		PremiumPriceID:      strings.TrimSpace(os.Getenv("STRIPE_PREMIUM_PRICE_ID")),
		PostmarkToken:       strings.TrimSpace(os.Getenv("POSTMARK_SERVER_TOKEN")),
		EmailFrom:           envOrDefault("HANNO_EMAIL_FROM", "noreply@han-no.app"),
		AnalysisEngineURL:   envOrDefault("HANNO_ANALYSIS_ENGINE_URL", "http://localhost:8000"),
		ShopifyClientID:     strings.TrimSpace(os.Getenv("SHOPIFY_CLIENT_ID")),
		ShopifyClientSecret: strings.TrimSpace(os.Getenv("SHOPIFY_CLIENT_SECRET")),
		LogLevel:            envOrDefault("HANNO_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("HANNO_LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate server config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "HANNO_BASE_URL")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "HANNO_SESSION_SECRET")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("HANNO_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if len(c.SessionSecret) < 32 {
		return fmt.Errorf("HANNO_SESSION_SECRET must be at least 32 characters")
	}

	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("HANNO_BASE_URL must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("HANNO_BASE_URL must use http or https scheme")
	}
	if parsed.Host == "" {
		return fmt.Errorf("HANNO_BASE_URL must include a host")
	}
	return nil
}

// SecureCookies reports whether the public URL is HTTPS, which decides the
// Secure attribute on session cookies.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
		}
		return n, nil
	}
	return fallback, nil
}
