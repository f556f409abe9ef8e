// Package config provides configuration for the dashboard, the CLI and the
// development backend.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the dashboard configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Pentest backend settings
	APIURL         string
	APITimeout     time.Duration
	RateLimitRPS   float64 // 0 disables client-side rate limiting
	RateLimitBurst int

	// Aggregation settings
	RecentLimit  int
	PollInterval time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Submission policy (empty uses the built-in policy)
	PolicyFile string

	// Passed through to the page template only
	WalletProjectID string

	// Development backend
	DevBackendPort int
	DatabaseURL    string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables. Values from a .env
// file in the working directory are used only for keys the environment
// does not already set.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment without reading
// any .env file.
func FromEnv() *Config {
	return &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		APIURL:          getEnv("PENTEST_API_URL", "http://127.0.0.1:5000"),
		APITimeout:      time.Duration(getEnvInt("API_TIMEOUT_MS", 10000)) * time.Millisecond,
		RateLimitRPS:    getEnvFloat("API_RATE_LIMIT_RPS", 0),
		RateLimitBurst:  getEnvInt("API_RATE_LIMIT_BURST", 5),
		RecentLimit:     getEnvInt("RECENT_LIMIT", 4),
		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_MS", 3000)) * time.Millisecond,
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		PolicyFile:      getEnv("SUBMISSION_POLICY_FILE", ""),
		WalletProjectID: getEnv("WALLET_PROJECT_ID", ""),
		DevBackendPort:  getEnvInt("DEVBACKEND_PORT", 5000),
		DatabaseURL:     getEnv("DATABASE_URL", "file:devbackend.db?cache=shared&mode=rwc"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil && f >= 0 {
			return f
		}
	}
	return defaultVal
}
