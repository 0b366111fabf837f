// Package config holds the ledger service configuration: built-in defaults,
// an optional TOML file, a .env file, and environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	LogLevel string         `toml:"log_level"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Auth     AuthConfig     `toml:"auth"`
	Ledger   LedgerConfig   `toml:"ledger"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	RequestTimeout  Duration `toml:"request_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL           string `toml:"url"`
	MaxConns      int    `toml:"max_conns"`
	MinConns      int    `toml:"min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig configures the market read cache. An empty URL disables it.
type RedisConfig struct {
	URL string   `toml:"url"`
	TTL Duration `toml:"ttl"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string   `toml:"jwt_secret"`
	TokenTTL  Duration `toml:"token_ttl"`
}

// LedgerConfig holds the trading rules.
type LedgerConfig struct {
	// StartingBalance is credited to every new user, in cents.
	StartingBalance   int64    `toml:"starting_balance"`
	MaxSharesPerTrade int64    `toml:"max_shares_per_trade"`
	LockTimeout       Duration `toml:"lock_timeout"`
}

// Duration wraps time.Duration so TOML strings like "5s" decode.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for local development.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration{10 * time.Second},
			WriteTimeout:    Duration{10 * time.Second},
			RequestTimeout:  Duration{30 * time.Second},
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Database: DatabaseConfig{
			MaxConns:      20,
			MinConns:      2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			TTL: Duration{30 * time.Second},
		},
		Auth: AuthConfig{
			TokenTTL: Duration{24 * time.Hour},
		},
		Ledger: LedgerConfig{
			StartingBalance:   1_000_000,
			MaxSharesPerTrade: 10_000,
			LockTimeout:       Duration{5 * time.Second},
		},
	}
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	return validLogLevels[strings.ToLower(c.LogLevel)]
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if _, ok := validLogLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required (set JWT_SECRET)")
	}
	if c.Ledger.StartingBalance < 0 {
		errs = append(errs, "ledger.starting_balance must not be negative")
	}
	if c.Ledger.MaxSharesPerTrade <= 0 {
		errs = append(errs, "ledger.max_shares_per_trade must be positive")
	}
	if c.Ledger.LockTimeout.Duration <= 0 {
		errs = append(errs, "ledger.lock_timeout must be positive")
	}
	if c.Database.URL != "" && c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, "database.min_conns exceeds database.max_conns")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
