// Package config handles application configuration.
// Server settings come from environment variables; the set of connected
// apps, sync schedules, and feature toggles comes from a YAML file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Admin authentication (bearer secret for /sync and job endpoints)
	AdminAPIKey string

	// Deployment environment; "production" rejects direct secrets in the
	// app config file.
	Environment string

	// CORS
	CORSOrigins []string

	// Rate limits (requests per minute, fixed window)
	WebhookRateLimit int
	SyncRateLimit    int

	// Request admission
	MaxBodyBytes int64

	// Worker
	WorkerPollInterval time.Duration
	WorkerWallClock    time.Duration // soft per-invocation budget
	WorkerConcurrency  int

	// Sync execution: when true, /sync runs connectors inline and
	// responds with the aggregated result instead of enqueueing a job.
	InlineSync bool

	// Outbound job notifications (optional)
	NotifyURL    string
	NotifySecret string

	// App config file
	AppConfigPath string

	// Idle shutdown for scale-to-zero deployments; zero disables it.
	IdleTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:supasaasy.db?_journal=WAL&_timeout=5000"),
		AdminAPIKey: getEnv("ADMIN_API_KEY", ""),
		Environment: getEnv("SUPASAASY_ENV", "development"),
		CORSOrigins: getEnvSlice("CORS_ORIGINS", nil),

		WebhookRateLimit: getEnvInt("WEBHOOK_RATE_LIMIT", 100),
		SyncRateLimit:    getEnvInt("SYNC_RATE_LIMIT", 10),
		MaxBodyBytes:     int64(getEnvInt("MAX_BODY_BYTES", 1<<20)),

		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerWallClock:    getEnvDuration("WORKER_WALL_CLOCK", 5*time.Minute),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 1),

		InlineSync: getEnvBool("INLINE_SYNC", false),

		NotifyURL:    getEnv("NOTIFY_URL", ""),
		NotifySecret: getEnv("NOTIFY_SECRET", ""),

		AppConfigPath: getEnv("SUPASAASY_CONFIG", "supasaasy.yaml"),

		IdleTimeout: getEnvDuration("IDLE_TIMEOUT", 0),
	}

	return cfg, nil
}

// IsProduction returns true when direct secrets must be rejected.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
