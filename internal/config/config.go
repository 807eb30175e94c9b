package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
// Dwell timers are deliberately NOT here: they are fixed constants of the
// workflow (see service.DefaultTimers), not runtime knobs.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// External services
	BridgeURL     string // native host bridge (payment terminal, printer, serial)
	ValidationURL string // local QR validation service
	AvatarURL     string // conversational avatar agent; empty disables the concierge
	AvatarKey     string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience (idempotent calls only; payment capture is never retried)
	MaxRetries     int
	InitialBackoff time.Duration

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Deployment
	ScanGated  bool   // true: a valid QR scan is required before service selection
	WebviewURL string // kiosk UI origin allowed by CORS

	// Maintenance API
	MaintenanceJWTSecret string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BridgeURL:     getEnv("BRIDGE_URL", "http://localhost:4520"),
		ValidationURL: getEnv("VALIDATION_URL", "http://localhost:3000"),
		AvatarURL:     getEnv("AVATAR_AGENT_URL", ""),
		AvatarKey:     getEnv("AVATAR_AGENT_KEY", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		ScanGated:  getEnv("SCAN_GATED", "false") == "true",
		WebviewURL: getEnv("WEBVIEW_URL", "http://localhost:1420"),

		// No default: an unset secret keeps the maintenance API disabled.
		MaintenanceJWTSecret: getEnv("MAINTENANCE_JWT_SECRET", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
