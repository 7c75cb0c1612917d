package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Room store
	StoreBackend string
	DatabaseURL  string
	RedisURL     string
	SQLitePath   string
	StoreTimeout time.Duration // per store call, 0 disables
	MessageTTL   time.Duration // Redis only, 0 keeps rooms forever

	// Delivery
	NATSURL      string
	PollInterval time.Duration // server-side WebSocket sessions

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		StoreBackend:     strings.ToLower(os.Getenv("STORE_BACKEND")),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/chatroom.db"),
		NATSURL:          os.Getenv("NATS_URL"),
		StoreTimeout:     getDuration("STORE_TIMEOUT", 5*time.Second),
		MessageTTL:       getDuration("MESSAGE_TTL", 0),
		PollInterval:     getDuration("POLL_INTERVAL", 2*time.Second),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	if cfg.StoreBackend == "" {
		cfg.StoreBackend = inferBackend(cfg)
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required for the postgres backend")
		}
	default:
		panic(fmt.Sprintf("unknown STORE_BACKEND %q", cfg.StoreBackend))
	}

	// In production, rooms must outlive the process
	if cfg.Env == "production" && cfg.StoreBackend == BackendMemory {
		panic("a durable STORE_BACKEND is required in production")
	}

	return cfg
}

// inferBackend picks the store from the configured URLs: Postgres first,
// then Redis, falling back to memory.
func inferBackend(cfg *Config) string {
	switch {
	case cfg.DatabaseURL != "":
		return BackendPostgres
	case cfg.RedisURL != "":
		return BackendRedis
	default:
		return BackendMemory
	}
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

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("%s: invalid duration %q", key, value))
	}
	return d
}
