package server

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the server configuration, sourced from environment variables.
type Config struct {
	Port           string
	NodeBaseURL    string
	NodeAPIKey     string
	CORSOrigin     string
	MaxTokens      int
	TimeoutSeconds int
}

// Environment defaults.
const (
	defaultPort        = "8080"
	defaultNodeBaseURL = "http://localhost:52415/v1"
	defaultMaxTokens   = 512
	defaultTimeoutSecs = 300
)

// LoadConfigFromEnv builds the server configuration from the environment.
func LoadConfigFromEnv() (Config, error) {
	config := Config{
		Port:           envOrDefault("PORT", defaultPort),
		NodeBaseURL:    envOrDefault("NODE_BASE_URL", defaultNodeBaseURL),
		NodeAPIKey:     os.Getenv("NODE_API_KEY"),
		CORSOrigin:     os.Getenv("CORS_ORIGIN"),
		MaxTokens:      defaultMaxTokens,
		TimeoutSeconds: defaultTimeoutSecs,
	}

	if raw := os.Getenv("MAX_TOKENS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_TOKENS %q", raw)
		}
		config.MaxTokens = n
	}

	if raw := os.Getenv("BENCHMARK_TIMEOUT_SECONDS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid BENCHMARK_TIMEOUT_SECONDS %q", raw)
		}
		config.TimeoutSeconds = n
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
