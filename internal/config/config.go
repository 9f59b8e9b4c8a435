package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat gateway.
type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	NatsURL     string

	// External notification service (fire-and-forget POSTs)
	NotifyURL string

	// Secret for signing upload URLs
	SignSecret string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "chatsync.db"),
		RedisURL:    os.Getenv("REDIS_URL"),
		NatsURL:     os.Getenv("NATS_URL"),
		NotifyURL:   os.Getenv("NOTIFY_URL"),
		SignSecret:  getEnv("SIGN_SECRET", "dev-secret"),
	}

	// In production, require the backing services
	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.NatsURL == "" {
			panic("NATS_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
