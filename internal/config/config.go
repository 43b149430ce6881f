// Package config loads process settings from the environment (optionally a
// .env file) and the fee and limit policy from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sheikh-saqib/merchant-ledger/internal/money"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Port             string
	Env              string
	LogLevel         string
	Store            string
	DatabaseURL      string
	KafkaBrokers     []string
	KafkaTopicPrefix string
	RedisAddr        string
	PolicyPath       string
	DefaultCurrency  string

	// DotenvLoaded reports whether a .env file was found.
	DotenvLoaded bool
}

// Load reads .env file if present and returns the Config built from the
// environment.
func Load() (*Config, error) {
	// .env is optional; in production the variables come from the system
	loaded := godotenv.Load() == nil

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Store:            strings.ToLower(getEnv("STORE", StoreMemory)),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicPrefix: getEnv("KAFKA_TOPIC", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		PolicyPath:       getEnv("FEE_SCHEDULE_PATH", ""),
		DefaultCurrency:  getEnv("DEFAULT_CURRENCY", "BRL"),
		DotenvLoaded:     loaded,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: DATABASE_URL is required when STORE=postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown STORE %q", ErrInvalidConfig, c.Store)
	}

	if err := money.ValidateCurrency(c.DefaultCurrency); err != nil {
		return fmt.Errorf("%w: DEFAULT_CURRENCY: %w", ErrInvalidConfig, err)
	}

	return nil
}

// IsProduction selects the production logger.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func splitList(s string) []string {
	var out []string

	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
