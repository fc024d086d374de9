package app

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Issuer         string        // Issuer claim of access tokens (default: rollcall)
	SigningKeyFile string        // Optional: PEM file of the Ed25519 signing key, created when missing
	TokenTTL       time.Duration // Lifetime of tokens minted by mint-token (default: 12h)
	DatabaseFile   string        // Path to SQLite database file (default: ./rollcall.db)

	QRTTL     time.Duration // Lifetime of an attendance QR token (default: 5m)
	LateAfter time.Duration // Check-ins this long after the session started are late (default: 15m)
	QRSize    int           // Rendered QR edge in pixels (default: 320)

	Env                   string        // Environment (dev, staging, prod) (default: dev)
	LogLevel              string        // Log level (debug, info, warn, error) (default: info)
	LogFormat             string        // Log format (json, text) (default: json)
	Port                  int           // HTTP server port (default: 8080)
	ShutdownGracePeriod   time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval  time.Duration // Housekeeping interval (default: 1h)
	HousekeepingRetention time.Duration // How long expired QR tokens are kept (default: 24h)
}

// LoadConfig reads the environment, after loading .env from the working
// directory when one exists. Variables already set win over the file.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return Config{
		Issuer:         getEnvOrDefault("ROLLCALL_ISSUER", "rollcall"),
		SigningKeyFile: os.Getenv("ROLLCALL_SIGNING_KEY_FILE"),
		TokenTTL:       getEnvDurationOrDefault("ROLLCALL_TOKEN_TTL", 12*time.Hour),
		DatabaseFile:   getEnvOrDefault("ROLLCALL_DATABASE_FILE", "rollcall.db"),

		QRTTL:     getEnvDurationOrDefault("ROLLCALL_QR_TTL", 5*time.Minute),
		LateAfter: getEnvDurationOrDefault("ROLLCALL_LATE_AFTER", 15*time.Minute),
		QRSize:    getEnvIntOrDefault("ROLLCALL_QR_SIZE", 320),

		Env:                   getEnvOrDefault("ENV", "dev"),
		LogLevel:              getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:             getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                  getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:   getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval:  getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
		HousekeepingRetention: getEnvDurationOrDefault("HOUSEKEEPING_RETENTION", 24*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
