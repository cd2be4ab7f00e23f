// Package config reads runtime settings from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Skryldev/authdb/db"
)

// Config holds every setting the binaries need.
type Config struct {
	Driver       string
	DSN          string
	// Timeout bounds each statement and each transaction.
	Timeout      time.Duration
	SlowQuery    time.Duration
	LogLevel     slog.Level
	LogQueryArgs bool
	// ResetOnStart drops and recreates the schema at startup. Testing only.
	ResetOnStart bool
}

// Defaults returns the configuration used when no variable is set.
func Defaults() Config {
	return Config{
		Driver:    "sqlite3",
		DSN:       db.DefaultPath,
		Timeout:   5 * time.Second,
		SlowQuery: 200 * time.Millisecond,
		LogLevel:  slog.LevelInfo,
	}
}

// Load reads .env (if present) and then the process environment. Variables
// already set in the environment win over .env entries.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Defaults()
	var err error

	if v := os.Getenv("AUTHDB_DRIVER"); v != "" {
		cfg.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DSN = v
	}
	if cfg.Timeout, err = durationEnv("AUTHDB_TIMEOUT", cfg.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.SlowQuery, err = durationEnv("AUTHDB_SLOW_QUERY", cfg.SlowQuery); err != nil {
		return Config{}, err
	}
	if cfg.LogQueryArgs, err = boolEnv("LOG_QUERY_ARGS", cfg.LogQueryArgs); err != nil {
		return Config{}, err
	}
	if cfg.ResetOnStart, err = boolEnv("AUTHDB_RESET_ON_START", cfg.ResetOnStart); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if cfg.LogLevel, err = parseLevel(v); err != nil {
			return Config{}, err
		}
	}

	if _, err := db.LookupDriver(cfg.Driver); err != nil {
		return Config{}, fmt.Errorf("config: AUTHDB_DRIVER: %w", err)
	}
	return cfg, nil
}

// DBConfig renders the store configuration. The sqlite store is a single
// file, so it gets a single connection.
func (c Config) DBConfig(hooks ...db.Hook) db.Config {
	out := db.Config{
		DSN:            c.DSN,
		DriverName:     c.Driver,
		DefaultTimeout: c.Timeout,
		Hooks:          hooks,
	}
	if c.Driver == "sqlite3" {
		out.MaxOpenConns = 1
	}
	return out
}

// LogHook returns the statement logging hook for logger.
func (c Config) LogHook(logger *slog.Logger) db.Hook {
	return db.NewLogHook(db.LogHookConfig{
		Logger:             logger,
		SlowQueryThreshold: c.SlowQuery,
		LogArgs:            c.LogQueryArgs,
	})
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s: %w", key, err)
	}
	return b, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("config: LOG_LEVEL: unknown level %q", s)
}
