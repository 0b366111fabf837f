package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults_ValidOnceSecretSet(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("defaults without a secret should fail on jwt_secret, got %v", err)
	}
	cfg.Auth.JWTSecret = "dev"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.toml")
	content := `
log_level = "debug"

[server]
port = 9090

[ledger]
starting_balance = 5000
lock_timeout = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LEDGER_MAX_SHARES_PER_TRADE", "250")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("expected log_level from file, got %q", cfg.LogLevel)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env PORT should override file, got %d", cfg.Server.Port)
	}
	if cfg.Ledger.StartingBalance != 5000 {
		t.Errorf("expected starting balance 5000, got %d", cfg.Ledger.StartingBalance)
	}
	if cfg.Ledger.LockTimeout.Duration != 250*time.Millisecond {
		t.Errorf("expected lock timeout 250ms, got %s", cfg.Ledger.LockTimeout)
	}
	if cfg.Ledger.MaxSharesPerTrade != 250 {
		t.Errorf("expected max shares 250, got %d", cfg.Ledger.MaxSharesPerTrade)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("expected secret from env, got %q", cfg.Auth.JWTSecret)
	}
	// Untouched sections keep their defaults.
	if cfg.Redis.TTL.Duration != 30*time.Second {
		t.Errorf("expected default redis ttl, got %s", cfg.Redis.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Server.Port = 0
	cfg.Ledger.MaxSharesPerTrade = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_level", "server.port", "max_shares_per_trade", "jwt_secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestLoad_RejectsUnparsableEnv(t *testing.T) {
	t.Setenv("LEDGER_STARTING_BALANCE", "1e6")
	t.Setenv("LEDGER_LOCK_TIMEOUT", "5")
	t.Setenv("DATABASE_RUN_MIGRATIONS", "maybe")
	t.Setenv("PORT", "8081")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for unparsable environment overrides")
	}
	for _, want := range []string{"LEDGER_STARTING_BALANCE", "LEDGER_LOCK_TIMEOUT", "DATABASE_RUN_MIGRATIONS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
	if strings.Contains(err.Error(), "PORT") {
		t.Errorf("valid PORT should not be reported: %v", err)
	}
}
