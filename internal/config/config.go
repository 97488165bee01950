package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

// DefaultMaxUploadSize is the ceiling for folder and chat attachments (50MB).
const DefaultMaxUploadSize int64 = 50 * 1024 * 1024

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup when one exists.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// CORSOrigins lists the allowed browser origins
	CORSOrigins []string

	// LogLevel is debug, info, warn or error
	LogLevel string

	// Development switches logging to the console writer
	Development bool

	// APIBaseURL is where clients reach the REST API
	APIBaseURL string

	// WebSocketURL is where clients open the realtime socket
	WebSocketURL string

	// RedisURL enables the cross-instance event bridge when set
	RedisURL string

	// MaxUploadSize caps multipart uploads, in bytes
	MaxUploadSize int64

	// UploadDir is where uploaded attachments are written
	UploadDir string

	// MessageRetention is how long messages are kept; zero keeps them forever
	MessageRetention time.Duration

	// RetentionInterval is how often the retention worker runs
	RetentionInterval time.Duration

	// SocketRateLimit is the sustained inbound frames per second per socket
	SocketRateLimit float64

	// SocketRateBurst is the inbound frame burst per socket
	SocketRateBurst int

	// TypingTimeout clears a remote typing indicator after this much silence
	TypingTimeout time.Duration
}

// Warnings collects non-fatal configuration notes produced by Load, so the
// caller can log them once a logger exists.
type Warnings []string

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment variables.
// Falls back to sensible defaults if values are not set.
func Load() (*Config, Warnings, error) {
	var warnings Warnings

	// A missing .env file is normal in production
	if err := godotenv.Load(); err != nil {
		warnings = append(warnings, "no .env file found, using environment variables")
	}

	cfg := &Config{
		ServerPort:        getEnv("PORT", "8080"),
		CORSOrigins:       getListEnv("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Development:       getEnv("ENV", "") == "development",
		APIBaseURL:        strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8080"), "/"),
		WebSocketURL:      getEnv("WS_URL", "ws://localhost:8080/ws"),
		RedisURL:          getEnv("REDIS_URL", ""),
		MaxUploadSize:     getSizeEnv("MAX_UPLOAD_SIZE", DefaultMaxUploadSize),
		UploadDir:         getEnv("UPLOAD_DIR", "./data/uploads"),
		MessageRetention:  getDurationEnv("MESSAGE_RETENTION", 0),
		RetentionInterval: getDurationEnv("RETENTION_INTERVAL", time.Minute),
		SocketRateLimit:   getFloatEnv("WS_RATE_LIMIT", 20),
		SocketRateBurst:   getIntEnv("WS_RATE_BURST", 40),
		TypingTimeout:     getDurationEnv("TYPING_TIMEOUT", 1500*time.Millisecond),
	}

	if cfg.RedisURL == "" {
		warnings = append(warnings, "REDIS_URL is not set, realtime events stay on this instance")
	}

	if err := cfg.Validate(); err != nil {
		return nil, warnings, err
	}

	return cfg, warnings, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.ServerPort == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive, got %d", c.MaxUploadSize)
	}
	if c.MessageRetention < 0 {
		return fmt.Errorf("MESSAGE_RETENTION must not be negative")
	}
	if c.MessageRetention > 0 && c.RetentionInterval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be positive when MESSAGE_RETENTION is set")
	}
	if c.SocketRateLimit <= 0 || c.SocketRateBurst <= 0 {
		return fmt.Errorf("WS_RATE_LIMIT and WS_RATE_BURST must be positive")
	}
	if c.TypingTimeout <= 0 {
		return fmt.Errorf("TYPING_TIMEOUT must be positive")
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getListEnv splits a comma-separated variable and trims each entry
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getSizeEnv reads a byte size such as "1048576", "50MB" or "64 MiB"
func getSizeEnv(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if size, err := humanize.ParseBytes(value); err == nil && size <= math.MaxInt64 {
			return int64(size)
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
