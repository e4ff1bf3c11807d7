package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port string
	Mode string

	// Database configuration
	DatabaseURL string
	SQLitePath  string
	LogSQL      bool

	// Redis configuration
	RedisURL string

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Logging
	LogLevel  string
	LogFormat string

	// Receipt submission throttling
	ReceiptRateLimit         int
	ReceiptRateWindowSeconds int

	// Premium change webhook (optional)
	PremiumWebhookURL    string
	PremiumWebhookSecret string
}

var AppConfig *Config

// Load reads .env (if present) and the process environment into AppConfig.
func Load() (*Config, error) {
	// A missing .env file is fine, the environment still applies.
	_ = godotenv.Load()

	AppConfig = &Config{
		Port:                     getEnv("PORT", "8080"),
		Mode:                     getEnv("GIN_MODE", "debug"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		SQLitePath:               getEnv("SQLITE_PATH", "entitlement-api.db"),
		LogSQL:                   getEnvBool("DB_LOG_SQL", false),
		RedisURL:                 getEnv("REDIS_URL", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		JWTIssuer:                getEnv("JWT_ISSUER", ""),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "console"),
		ReceiptRateLimit:         getEnvInt("RECEIPT_RATE_LIMIT", 30),
		ReceiptRateWindowSeconds: getEnvInt("RECEIPT_RATE_WINDOW_SECONDS", 60),
		PremiumWebhookURL:        getEnv("PREMIUM_WEBHOOK_URL", ""),
		PremiumWebhookSecret:     getEnv("PREMIUM_WEBHOOK_SECRET", ""),
	}

	return AppConfig, nil
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
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}
