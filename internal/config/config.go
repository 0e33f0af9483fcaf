// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the service reads from the environment.
type Config struct {
	// Addr is the listen address for the HTTP server.
	Addr string

	// SecretKey signs access tokens. Required outside of tests.
	SecretKey string

	// TokenTTL bounds access token lifetime.
	TokenTTL time.Duration

	// DataDir is the root directory for uploaded dataset files,
	// one subdirectory per session.
	DataDir string

	// DBPath is the SQLite database file for sessions and messages.
	DBPath string

	// AnthropicAPIKey authenticates LLM requests.
	AnthropicAPIKey string

	// Model is the LLM model identifier.
	Model string

	// MaxUploadBytes caps accepted upload size.
	MaxUploadBytes int64

	// MaxIterations bounds tool-use iterations per turn.
	MaxIterations int

	// MaxTurnDuration bounds total turn wall clock.
	MaxTurnDuration time.Duration

	// MaxResultRows caps rows returned by one sql_query call.
	MaxResultRows int

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, with an optional .env file.
// Only the signing secret is validated here; everything else has a safe
// development default.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:            envString("TABULANT_ADDR", ":8080"),
		SecretKey:       os.Getenv("TABULANT_SECRET_KEY"),
		TokenTTL:        envDuration("TABULANT_TOKEN_TTL", 30*24*time.Hour),
		DataDir:         envString("TABULANT_DATA_DIR", "data"),
		DBPath:          envString("TABULANT_DB_PATH", "tabulant.db"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		Model:           envString("TABULANT_MODEL", "claude-sonnet-4-5-20250929"),
		MaxUploadBytes:  envInt64("TABULANT_MAX_UPLOAD_BYTES", 1<<30),
		MaxIterations:   envInt("TABULANT_MAX_ITERATIONS", 15),
		MaxTurnDuration: envDuration("TABULANT_MAX_TURN_DURATION", 10*time.Minute),
		MaxResultRows:   envInt("TABULANT_MAX_RESULT_ROWS", 50),
		LogLevel:        envString("TABULANT_LOG_LEVEL", "info"),
		LogFormat:       envString("TABULANT_LOG_FORMAT", "json"),
	}

	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("TABULANT_SECRET_KEY is required")
	}
	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
