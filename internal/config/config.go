// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Proxies whose X-Forwarded-For is honored. Empty trusts none, so the
	// client IP is always the socket peer.
	TrustedProxies []string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Auth
	BatchSecret    string // Bearer credential for /v1/internal routes
	AuthUserHeader string // Header carrying the authenticated caller id

	// Confidence cache
	RedisAddr          string // optional
	ConfidenceCacheTTL time.Duration

	// Job announcements
	NATSURL   string // optional
	NATSToken string

	// Tracing
	OTLPEndpoint string // optional

	// Batch jobs
	RiskRecomputeInterval    time.Duration // 0 disables the in-process timer
	RiskRecomputeWorkers     int
	ConsistencyCheckInterval time.Duration // 0 disables the in-process timer

	// Scoring
	PassMultiplier         float64
	MetricChangeThresholds map[string]float64
}

const (
	DefaultPort                   = "8080"
	DefaultEnv                    = "development"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultAuthUserHeader         = "X-User-ID"
	DefaultConfidenceCacheTTL     = 5 * time.Minute
	DefaultRiskRecomputeInterval  = 24 * time.Hour
	DefaultRiskRecomputeWorkers   = 4
	DefaultPassMultiplier         = 1.05
	DefaultMetricChangeThresholds = "weight_kg=3,body_fat_pct=3,resting_hr=25"

	maxPassMultiplier = 1.25
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	thresholds, err := ParseThresholds(getEnv("METRIC_CHANGE_THRESHOLDS", DefaultMetricChangeThresholds))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                getEnv("LOG_FORMAT", DefaultLogFormat),
		TrustedProxies:           getEnvList("TRUSTED_PROXIES"),
		DatabaseURL:              os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		BatchSecret:              os.Getenv("BATCH_SECRET"),
		AuthUserHeader:           getEnv("AUTH_USER_HEADER", DefaultAuthUserHeader),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		ConfidenceCacheTTL:       getEnvDuration("CONFIDENCE_CACHE_TTL", DefaultConfidenceCacheTTL),
		NATSURL:                  os.Getenv("NATS_URL"),
		NATSToken:                os.Getenv("NATS_TOKEN"),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RiskRecomputeInterval:    getEnvDuration("RISK_RECOMPUTE_INTERVAL", DefaultRiskRecomputeInterval),
		RiskRecomputeWorkers:     getEnvInt("RISK_RECOMPUTE_WORKERS", DefaultRiskRecomputeWorkers),
		ConsistencyCheckInterval: getEnvDuration("CONSISTENCY_CHECK_INTERVAL", 0),
		PassMultiplier:           getEnvFloat("PASS_MULTIPLIER", DefaultPassMultiplier),
		MetricChangeThresholds:   thresholds,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.BatchSecret == "" && !c.IsDevelopment() {
		return fmt.Errorf("BATCH_SECRET is required outside development")
	}
	if c.BatchSecret != "" && len(c.BatchSecret) < 16 {
		return fmt.Errorf("BATCH_SECRET must be at least 16 characters")
	}
	if c.RiskRecomputeWorkers < 1 {
		return fmt.Errorf("RISK_RECOMPUTE_WORKERS must be >= 1")
	}
	if c.RiskRecomputeInterval < 0 || c.ConsistencyCheckInterval < 0 {
		return fmt.Errorf("job intervals must not be negative")
	}
	if c.PassMultiplier < 1 || c.PassMultiplier > maxPassMultiplier {
		return fmt.Errorf("PASS_MULTIPLIER must be within [1, %g]", maxPassMultiplier)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseThresholds parses "metric=delta,metric=delta" into a map.
func ParseThresholds(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, val, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("METRIC_CHANGE_THRESHOLDS: malformed entry %q", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("METRIC_CHANGE_THRESHOLDS: %s must be a positive number", name)
		}
		out[name] = f
	}
	return out, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
