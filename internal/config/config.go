// Package config provides centralized configuration for the lightpad server.
// It loads configuration from CLI flags and environment variables (optionally
// seeded from a .env file), validates required fields, and provides defaults.
//
// CLI flags control which providers are mocked (--no-llm, --no-stripe, --test).
// Environment variables provide secrets and service configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jacobjmc/lightpad/internal/obs"
	"github.com/jacobjmc/lightpad/internal/ratelimit"
)

// Flags are the command-line switches, parsed by kong in cmd/server.
type Flags struct {
	Test     bool   `help:"Shorthand for --no-llm --no-stripe with in-memory vectors."`
	NoLLM    bool   `name:"no-llm" help:"Use deterministic fake model and embedding providers."`
	NoStripe bool   `name:"no-stripe" help:"Use mock billing instead of Stripe."`
	Addr     string `help:"Listen address (overrides LISTEN_ADDR)."`
	EnvFile  string `name:"env-file" default:".env" help:"Optional dotenv file loaded before reading the environment."`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	IndexMemory   = "memory"
	IndexPGVector = "pgvector"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr string
	BaseURL    string

	// Logging
	LogLevel  slog.Level
	LogFormat obs.Format

	// Mock switches (CLI only)
	NoLLM    bool
	NoStripe bool

	// Relational store
	DatabaseDriver string
	DatabasePath   string // SQLite file, ":memory:" allowed
	DatabaseKey    string // 64 hex characters, SQLCipher raw key
	DatabaseURL    string // Postgres DSN

	// Vector index
	VectorIndex      string
	VectorDimensions int
	VectorURL        string // defaults to DatabaseURL

	// Model providers
	EmbeddingProvider string
	EmbeddingModel    string
	PrimaryProvider   string
	PrimaryModel      string
	CleanupModel      string
	CompletionModel   string
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	GoogleAPIKey      string

	// Usage gate
	MaxFreeCounts        int
	SubscriptionGrace    time.Duration
	BypassEmails         []string
	ChatDailyLimit       int
	CompletionDailyLimit int

	// Auth
	AuthJWTSecret    string
	AuthJWTIssuer    string
	AuthOIDCIssuer   string
	AuthOIDCAudience string

	// Rate limiting
	RateLimitConfig    ratelimit.Config
	RateLimitRedisAddr string
	RateLimitRedisPass string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load reads the optional env file, then the environment, and validates.
func Load(flags Flags) (*Config, error) {
	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", flags.EnvFile, err)
		}
	}
	if flags.Test {
		flags.NoLLM = true
		flags.NoStripe = true
	}

	cfg := &Config{
		NoLLM:    flags.NoLLM,
		NoStripe: flags.NoStripe,
	}

	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if flags.Addr != "" {
		cfg.ListenAddr = flags.Addr
	}
	cfg.BaseURL = getEnvOrDefault("BASE_URL", "http://localhost"+cfg.ListenAddr)

	var levelErr error
	cfg.LogLevel, levelErr = obs.ParseLevel(getEnvOrDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = obs.Format(getEnvOrDefault("LOG_FORMAT", string(obs.FormatJSON)))

	cfg.DatabaseDriver = getEnvOrDefault("DATABASE_DRIVER", DriverSQLite)
	cfg.DatabasePath = getEnvOrDefault("DATABASE_PATH", "lightpad.db")
	cfg.DatabaseKey = getEnvOrDefault("DATABASE_KEY", "")
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", "")

	cfg.VectorIndex = getEnvOrDefault("VECTOR_INDEX", IndexMemory)
	if flags.Test {
		cfg.VectorIndex = IndexMemory
	}
	cfg.VectorURL = getEnvOrDefault("VECTOR_DATABASE_URL", cfg.DatabaseURL)

	cfg.EmbeddingProvider = getEnvOrDefault("EMBEDDING_PROVIDER", ProviderOpenAI)
	defaultEmbeddingModel, defaultDims := "text-embedding-ada-002", 1536
	if cfg.EmbeddingProvider == ProviderGoogle {
		defaultEmbeddingModel, defaultDims = "text-embedding-004", 768
	}
	cfg.EmbeddingModel = getEnvOrDefault("EMBEDDING_MODEL", defaultEmbeddingModel)
	cfg.VectorDimensions = parseIntOrDefault("VECTOR_DIMENSIONS", defaultDims)

	cfg.PrimaryProvider = getEnvOrDefault("PRIMARY_PROVIDER", ProviderAnthropic)
	defaultPrimary := "claude-3-haiku-20240307"
	if cfg.PrimaryProvider == ProviderOpenAI {
		defaultPrimary = "gpt-4o-mini"
	}
	cfg.PrimaryModel = getEnvOrDefault("PRIMARY_MODEL", defaultPrimary)
	cfg.CleanupModel = getEnvOrDefault("CLEANUP_MODEL", "gpt-4o-mini")
	cfg.CompletionModel = getEnvOrDefault("COMPLETION_MODEL", "gpt-4o-mini")
	cfg.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", "")
	cfg.AnthropicAPIKey = getEnvOrDefault("ANTHROPIC_API_KEY", "")
	cfg.GoogleAPIKey = getEnvOrDefault("GOOGLE_API_KEY", "")

	cfg.MaxFreeCounts = parseIntOrDefault("MAX_FREE_COUNTS", 5)
	cfg.SubscriptionGrace = parseDurationOrDefault("SUBSCRIPTION_GRACE", 24*time.Hour)
	cfg.BypassEmails = splitList(os.Getenv("SUBSCRIPTION_BYPASS_EMAILS"))
	cfg.ChatDailyLimit = parseIntOrDefault("CHAT_DAILY_LIMIT", 40)
	cfg.CompletionDailyLimit = parseIntOrDefault("COMPLETION_DAILY_LIMIT", 20)

	cfg.AuthJWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", "")
	cfg.AuthJWTIssuer = getEnvOrDefault("AUTH_JWT_ISSUER", "")
	cfg.AuthOIDCIssuer = getEnvOrDefault("AUTH_OIDC_ISSUER", "")
	cfg.AuthOIDCAudience = getEnvOrDefault("AUTH_OIDC_AUDIENCE", "")

	cfg.RateLimitConfig = ratelimit.Config{
		FreeRPS:         parseFloat64OrDefault("RATE_LIMIT_FREE_RPS", ratelimit.DefaultConfig.FreeRPS),
		FreeBurst:       parseIntOrDefault("RATE_LIMIT_FREE_BURST", ratelimit.DefaultConfig.FreeBurst),
		PaidRPS:         parseFloat64OrDefault("RATE_LIMIT_PAID_RPS", ratelimit.DefaultConfig.PaidRPS),
		PaidBurst:       parseIntOrDefault("RATE_LIMIT_PAID_BURST", ratelimit.DefaultConfig.PaidBurst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}
	cfg.RateLimitRedisAddr = getEnvOrDefault("RATELIMIT_REDIS_ADDR", "")
	cfg.RateLimitRedisPass = getEnvOrDefault("RATELIMIT_REDIS_PASSWORD", "")

	cfg.StripeSecretKey = getEnvOrDefault("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getEnvOrDefault("STRIPE_WEBHOOK_SECRET", "")
	cfg.StripePriceID = getEnvOrDefault("STRIPE_PRICE_ID", "")

	err := cfg.Validate()
	if levelErr != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			verr = &ValidationError{}
		}
		verr.Errors = append(verr.Errors, "LOG_LEVEL must be debug, info, warn or error")
		err = verr
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// When a provider is not mocked its credentials are required.
func (c *Config) Validate() error {
	var errs []string

	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabaseKey == "" {
			errs = append(errs, "DATABASE_KEY is required for sqlite (generate with: openssl rand -hex 32)")
		} else if len(c.DatabaseKey) != 64 || !isHex(c.DatabaseKey) {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (32 bytes)")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when DATABASE_DRIVER=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER must be %q or %q", DriverSQLite, DriverPostgres))
	}

	switch c.VectorIndex {
	case IndexMemory:
	case IndexPGVector:
		if c.VectorURL == "" {
			errs = append(errs, "VECTOR_DATABASE_URL or DATABASE_URL is required when VECTOR_INDEX=pgvector")
		}
	default:
		errs = append(errs, fmt.Sprintf("VECTOR_INDEX must be %q or %q", IndexMemory, IndexPGVector))
	}
	if c.VectorDimensions <= 0 {
		errs = append(errs, "VECTOR_DIMENSIONS must be positive")
	}

	if !c.NoLLM {
		switch c.EmbeddingProvider {
		case ProviderOpenAI:
		case ProviderGoogle:
			if c.GoogleAPIKey == "" {
				errs = append(errs, "GOOGLE_API_KEY is required for EMBEDDING_PROVIDER=google (or use --no-llm)")
			}
		default:
			errs = append(errs, fmt.Sprintf("EMBEDDING_PROVIDER must be %q or %q", ProviderOpenAI, ProviderGoogle))
		}
		switch c.PrimaryProvider {
		case ProviderOpenAI:
		case ProviderAnthropic:
			if c.AnthropicAPIKey == "" {
				errs = append(errs, "ANTHROPIC_API_KEY is required for PRIMARY_PROVIDER=anthropic (or use --no-llm)")
			}
		default:
			errs = append(errs, fmt.Sprintf("PRIMARY_PROVIDER must be %q or %q", ProviderAnthropic, ProviderOpenAI))
		}
		// The cleanup and completion passes always use OpenAI.
		if c.OpenAIAPIKey == "" {
			errs = append(errs, "OPENAI_API_KEY is required (set env var or use --no-llm)")
		}
	}

	if !c.NoStripe {
		if c.StripeSecretKey == "" {
			errs = append(errs, "STRIPE_SECRET_KEY is required (set env var or use --no-stripe)")
		}
		if c.StripeWebhookSecret == "" {
			errs = append(errs, "STRIPE_WEBHOOK_SECRET is required (set env var or use --no-stripe)")
		}
		if c.StripePriceID == "" {
			errs = append(errs, "STRIPE_PRICE_ID is required (set env var or use --no-stripe)")
		}
	}

	if c.AuthJWTSecret == "" && c.AuthOIDCIssuer == "" {
		errs = append(errs, "AUTH_JWT_SECRET or AUTH_OIDC_ISSUER is required")
	}
	if c.AuthOIDCIssuer != "" && c.AuthOIDCAudience == "" {
		errs = append(errs, "AUTH_OIDC_AUDIENCE is required with AUTH_OIDC_ISSUER")
	}

	switch c.LogFormat {
	case "", obs.FormatJSON, obs.FormatText:
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be %q or %q", obs.FormatJSON, obs.FormatText))
	}

	if c.MaxFreeCounts < 0 {
		errs = append(errs, "MAX_FREE_COUNTS must not be negative")
	}
	if c.ChatDailyLimit <= 0 || c.CompletionDailyLimit <= 0 {
		errs = append(errs, "CHAT_DAILY_LIMIT and COMPLETION_DAILY_LIMIT must be positive")
	}
	if c.RateLimitConfig.FreeRPS <= 0 {
		errs = append(errs, "RATE_LIMIT_FREE_RPS must be positive")
	}
	if c.RateLimitConfig.FreeBurst <= 0 {
		errs = append(errs, "RATE_LIMIT_FREE_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// IPRateLimitEnabled reports whether the per-IP route windows are active.
// Both the Redis address and password must be set; otherwise the check is
// skipped.
func (c *Config) IPRateLimitEnabled() bool {
	return c.RateLimitRedisAddr != "" && c.RateLimitRedisPass != ""
}

// PrintStartupSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintStartupSummary() {
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "lightpad server starting...")
	if c.NoLLM {
		fmt.Fprintln(os.Stderr, "  Models:   Fake (--no-llm)")
	} else {
		fmt.Fprintf(os.Stderr, "  Models:   %s/%s, embeddings %s/%s\n", c.PrimaryProvider, c.PrimaryModel, c.EmbeddingProvider, c.EmbeddingModel)
	}
	if c.NoStripe {
		fmt.Fprintln(os.Stderr, "  Billing:  Mock (--no-stripe)")
	} else {
		fmt.Fprintln(os.Stderr, "  Billing:  Stripe (real)")
	}
	fmt.Fprintf(os.Stderr, "  Store:    %s\n", c.DatabaseDriver)
	fmt.Fprintf(os.Stderr, "  Vectors:  %s (%d dims)\n", c.VectorIndex, c.VectorDimensions)
	if c.IPRateLimitEnabled() {
		fmt.Fprintf(os.Stderr, "  IP limit: chat %d/day, completion %d/day\n", c.ChatDailyLimit, c.CompletionDailyLimit)
	} else {
		fmt.Fprintln(os.Stderr, "  IP limit: off")
	}
	fmt.Fprintf(os.Stderr, "  Listen:   %s\n", c.ListenAddr)
	fmt.Fprintln(os.Stderr, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}
