package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
// Values are kept as strings and parsed at the point of use so a bad value
// can fall back to a sane default with a warning instead of failing startup.
type Config struct {
	Port        string
	LogLevel    string
	Environment string

	DataPath              string
	EnableJSONPersistence string

	EncryptionKey string

	LowStockThreshold string
	LowStockAlertTTL  string
	AlertCacheCleanup string

	WebhookTimeout     string
	WebhookMaxAttempts string
	WebhookBackoffBase string

	AttemptsFilePath string
	MaxAttemptsInLog string
	AttemptRetention string

	ExpirySweepInterval string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() *Config {
	// Load .env file if it exists; does not override existing env variables
	err := godotenv.Load()
	if err != nil {
		slog.Warn("Could not load .env file, continuing with system environment variables only", "error", err)
	} else {
		slog.Info("Successfully loaded .env file")
	}

	config := &Config{
		Port:        getEnvWithDefault("PORT", "8080"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),

		DataPath:              getEnvWithDefault("DATA_PATH", "data/marketplace_data.json"),
		EnableJSONPersistence: getEnvWithDefault("ENABLE_JSON_PERSISTENCE", "true"),

		// Demo key; production deployments must set their own
		EncryptionKey: getEnvWithDefault("INVENTORY_ENCRYPTION_KEY", "000102030405060708090a0b0c0d0e0f"),

		LowStockThreshold: getEnvWithDefault("LOW_STOCK_THRESHOLD", "10"),
		LowStockAlertTTL:  getEnvWithDefault("LOW_STOCK_ALERT_TTL", "15m"),
		AlertCacheCleanup: getEnvWithDefault("ALERT_CACHE_CLEANUP_INTERVAL", "1m"),

		WebhookTimeout:     getEnvWithDefault("WEBHOOK_TIMEOUT", "10s"),
		WebhookMaxAttempts: getEnvWithDefault("WEBHOOK_MAX_ATTEMPTS", "3"),
		WebhookBackoffBase: getEnvWithDefault("WEBHOOK_BACKOFF_BASE", "2s"),

		AttemptsFilePath: getEnvWithDefault("ATTEMPTS_FILE_PATH", "./data/delivery_attempts.json"),
		MaxAttemptsInLog: getEnvWithDefault("MAX_ATTEMPTS_IN_LOG", "10000"),
		AttemptRetention: getEnvWithDefault("ATTEMPT_RETENTION", "720h"),

		ExpirySweepInterval: getEnvWithDefault("EXPIRY_SWEEP_INTERVAL", "1h"),
	}

	SetupLogging(config.LogLevel)

	slog.Info("Configuration loaded",
		"port", config.Port,
		"environment", config.Environment,
		"logLevel", config.LogLevel,
		"dataPath", config.DataPath,
		"enableJSONPersistence", config.EnableJSONPersistence,
		"lowStockThreshold", config.LowStockThreshold,
		"webhookTimeout", config.WebhookTimeout,
		"webhookMaxAttempts", config.WebhookMaxAttempts,
		"webhookBackoffBase", config.WebhookBackoffBase,
		"attemptsFilePath", config.AttemptsFilePath,
		"attemptRetention", config.AttemptRetention)

	return config
}

// SetupLogging configures the default slog logger for the given level
func SetupLogging(level string) {
	var slogLevel slog.Level

	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(handler))
}

// getEnvWithDefault gets an environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
