// Package config provides configuration for the run service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the run service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Generator settings
	GeneratorProvider string
	GeneratorBaseURL  string
	GeneratorAPIKey   string
	GeneratorModel    string
	GeneratorTimeout  time.Duration

	// Streaming
	BusBuffer         int
	KeepAliveInterval time.Duration

	// Lifecycle
	ShutdownTimeout time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:       getEnv("DATABASE_URL", "file:planrun.db?cache=shared&mode=rwc"),
		GeneratorProvider: getEnv("GENERATOR_PROVIDER", "mock"),
		GeneratorBaseURL:  getEnv("GENERATOR_BASE_URL", "https://api.openai.com"),
		GeneratorAPIKey:   getEnv("GENERATOR_API_KEY", ""),
		GeneratorModel:    getEnv("GENERATOR_MODEL", ""),
		GeneratorTimeout:  time.Duration(getEnvInt("GENERATOR_TIMEOUT_MS", 120000)) * time.Millisecond,
		BusBuffer:         getEnvInt("BUS_BUFFER", 128),
		KeepAliveInterval: time.Duration(getEnvInt("KEEPALIVE_INTERVAL_MS", 30000)) * time.Millisecond,
		ShutdownTimeout:   time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_MS", 15000)) * time.Millisecond,
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
