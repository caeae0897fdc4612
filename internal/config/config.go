// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/serroba/smart-collab/internal/rooms"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds the server settings.
type Config struct {
	Addr          string
	DBDriver      string
	DBDSN         string
	RedisAddr     string // Empty for an in-process broker
	TokenTTL      time.Duration
	TokenCapacity int
	Logging       logging.Options
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		// Variables already set in the environment win.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	return FromLookup(os.LookupEnv)
}

// FromLookup builds a config from a variable lookup function.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}

		return fallback
	}

	cfg := Config{
		Addr:      get("ADDR", ":8080"),
		DBDriver:  get("DB_DRIVER", DriverMemory),
		DBDSN:     get("DB_DSN", ""),
		RedisAddr: get("REDIS_ADDR", ""),
		Logging: logging.Options{
			Level:  get("LOG_LEVEL", "info"),
			Format: get("LOG_FORMAT", "text"),
		},
	}

	ttl, err := time.ParseDuration(get("TOKEN_TTL", rooms.DefaultTokenTTL.String()))
	if err != nil || ttl <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_TTL %q", get("TOKEN_TTL", ""))
	}

	cfg.TokenTTL = ttl

	capacity, err := strconv.Atoi(get("TOKEN_CAPACITY", strconv.Itoa(rooms.DefaultTokenCapacity)))
	if err != nil || capacity <= 0 {
		return Config{}, fmt.Errorf("invalid TOKEN_CAPACITY %q", get("TOKEN_CAPACITY", ""))
	}

	cfg.TokenCapacity = capacity

	switch cfg.DBDriver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if cfg.DBDSN == "" {
			return Config{}, fmt.Errorf("DB_DSN is required for driver %s", cfg.DBDriver)
		}
	default:
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	return cfg, nil
}
