// Package cli implements the rollcall command line client: issuing and
// revoking QR codes, checking in from decoded QR text and watching a
// session's live events.
package cli

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/slogx"
)

type Config struct {
	URL       string        // Attendance server base URL (default: http://localhost:8080)
	Token     string        // Access token sent as Bearer and as ?token= on WebSockets
	StudentID string        // Optional: student to check in, defaults to the token subject
	Channel   string        // Realtime channel for watch (attendance, notifications) (default: attendance)
	Timeout   time.Duration // HTTP request timeout (default: 10s)

	Env       string
	LogLevel  string // (default: warn)
	LogFormat string // (default: text)
}

// LoadConfig reads the environment, after loading .env when one exists.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return Config{
		URL:       getEnvOrDefault("ROLLCALL_URL", "http://localhost:8080"),
		Token:     os.Getenv("ROLLCALL_TOKEN"),
		StudentID: os.Getenv("ROLLCALL_STUDENT_ID"),
		Channel:   getEnvOrDefault("ROLLCALL_CHANNEL", "attendance"),
		Timeout:   getEnvDurationOrDefault("ROLLCALL_TIMEOUT", 10*time.Second),
		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}
}

// Logger writes to stderr so command output on stdout stays parseable.
func (c Config) Logger() *slog.Logger {
	return slogx.New(slogx.Config{
		Service: "rollcall-cli",
		Env:     c.Env,
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		Output:  os.Stderr,
	})
}

// Client builds the REST client for c.
func (c Config) Client(logger *slog.Logger) *attendsdk.Client {
	opts := []attendsdk.Option{attendsdk.WithLogger(logger)}
	if c.Token != "" {
		opts = append(opts, attendsdk.WithToken(attendsdk.StaticToken(c.Token)))
	}
	client := attendsdk.NewClient(c.URL, opts...)
	if c.Timeout > 0 {
		client.HTTPClient.Timeout = c.Timeout
	}
	return client
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
