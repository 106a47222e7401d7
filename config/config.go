package config

import (
	"os"
	"strconv"
	"time"

	"club-system/internal/gateway/hyp"
	"club-system/internal/receipts"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// PublicBaseURL is where the gateway redirects members back to after
	// the hosted payment page.
	PublicBaseURL string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// Payment gateway configuration
	Gateway hyp.Config

	// Receipts (documents API) configuration
	Receipts receipts.Config

	// Session configuration
	PollInterval     time.Duration
	PollTimeout      time.Duration
	SessionTTL       time.Duration
	SessionRetention time.Duration

	// OperatorKeyHash is the bcrypt hash of the front-desk operator key
	// required for manual payment entry.
	OperatorKeyHash string

	// Rate limiting for session creation
	SessionRateLimit  int
	SessionRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:          getEnv("PORT", "8090"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8090"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// Gateway
		Gateway: hyp.Config{
			BaseURL:    getEnv("GATEWAY_BASE_URL", ""),
			TerminalID: getEnv("GATEWAY_TERMINAL_ID", ""),
			APIKey:     getEnv("GATEWAY_API_KEY", ""),
			SecretKey:  getEnv("GATEWAY_SECRET_KEY", ""),
		},

		// Receipts
		Receipts: receipts.Config{
			BaseURL: getEnv("RECEIPTS_BASE_URL", ""),
			APIKey:  getEnv("RECEIPTS_API_KEY", ""),
		},

		// Sessions
		PollInterval:     getEnvAsDuration("POLL_INTERVAL", "3s"),
		PollTimeout:      getEnvAsDuration("POLL_TIMEOUT", "2m"),
		SessionTTL:       getEnvAsDuration("SESSION_TTL", "30m"),
		SessionRetention: getEnvAsDuration("SESSION_RETENTION", "10m"),

		// Manual payments
		OperatorKeyHash: getEnv("OPERATOR_KEY_HASH", ""),

		// Rate limiting
		SessionRateLimit:  getEnvAsInt("SESSION_RATE_LIMIT", 10),
		SessionRateWindow: getEnvAsDuration("SESSION_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, fall back to the default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
