package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the configuration: defaults, then the TOML file at path (if
// path is non-empty), then a .env file in the working directory (ignored if
// missing), then environment overrides. A set variable that does not parse
// is an error; every such variable is reported at once. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envOverrides collects parse failures while applying overrides.
type envOverrides struct {
	errs []string
}

func (e *envOverrides) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Sprintf("%s=%q: %v", key, v, err))
}

func applyEnvOverrides(cfg *Config) error {
	var e envOverrides

	e.setStr(&cfg.LogLevel, "LOG_LEVEL")

	e.setInt(&cfg.Server.Port, "PORT")

	e.setStr(&cfg.Database.URL, "DATABASE_URL")
	e.setInt(&cfg.Database.MaxConns, "DATABASE_MAX_CONNS")
	e.setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	e.setStr(&cfg.Redis.URL, "REDIS_URL")
	e.setDuration(&cfg.Redis.TTL, "REDIS_TTL")

	e.setStr(&cfg.Auth.JWTSecret, "JWT_SECRET")
	e.setDuration(&cfg.Auth.TokenTTL, "JWT_TTL")

	e.setInt64(&cfg.Ledger.StartingBalance, "LEDGER_STARTING_BALANCE")
	e.setInt64(&cfg.Ledger.MaxSharesPerTrade, "LEDGER_MAX_SHARES_PER_TRADE")
	e.setDuration(&cfg.Ledger.LockTimeout, "LEDGER_LOCK_TIMEOUT")

	if len(e.errs) > 0 {
		return fmt.Errorf("config: invalid environment: %s", strings.Join(e.errs, "; "))
	}
	return nil
}

// Each setter only touches dst when the variable is set and parses.

func (e *envOverrides) setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envOverrides) setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envOverrides) setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envOverrides) setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		dst.Duration = d
	}
}
