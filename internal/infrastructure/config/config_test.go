package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iho/transferengine/internal/infrastructure/config"
)

func missingDotenv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORAGE_BACKEND", "")

	cfg, err := config.LoadFile(missingDotenv(t))
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.StorageBackend != config.StoragePostgres {
		t.Fatalf("expected postgres backend by default, got %q", cfg.StorageBackend)
	}
	if cfg.DatabaseURL == "" {
		t.Fatalf("expected default database URL to be set")
	}
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %s", cfg.HTTPPort)
	}
	if cfg.Risk.HoldThreshold != 0.3 || cfg.Risk.RejectThreshold != 0.7 {
		t.Fatalf("expected 0.3/0.7 thresholds, got %v/%v", cfg.Risk.HoldThreshold, cfg.Risk.RejectThreshold)
	}
	if cfg.IdempotencyRetention != 24*time.Hour {
		t.Fatalf("expected 24h idempotency retention, got %s", cfg.IdempotencyRetention)
	}
	if cfg.HoldAutoRejectAfter != 0 {
		t.Fatalf("expected hold auto-reject disabled, got %s", cfg.HoldAutoRejectAfter)
	}
	if cfg.RedisURL != "" || cfg.AMQPURL != "" {
		t.Fatalf("optional integrations should default off")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("REDIS_URL", "redis://example")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SCORING_DEADLINE", "750ms")
	t.Setenv("RISK_HOLD_THRESHOLD", "0.25")
	t.Setenv("RISK_DESTINATION_ALLOWLIST", "acc-1,acc-2")
	t.Setenv("JWT_SECRET", "top-secret")
	t.Setenv("AUTH_ENABLED", "true")

	cfg, err := config.LoadFile(missingDotenv(t))
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.StorageBackend != config.StorageMemory {
		t.Fatalf("expected memory backend, got %s", cfg.StorageBackend)
	}
	if cfg.RedisURL != "redis://example" {
		t.Fatalf("expected custom redis URL, got %s", cfg.RedisURL)
	}
	if cfg.HTTPPort != "9090" {
		t.Fatalf("expected HTTP port override, got %s", cfg.HTTPPort)
	}
	if cfg.ScoringDeadline != 750*time.Millisecond {
		t.Fatalf("expected scoring deadline override, got %s", cfg.ScoringDeadline)
	}
	if cfg.Risk.HoldThreshold != 0.25 {
		t.Fatalf("expected hold threshold override, got %v", cfg.Risk.HoldThreshold)
	}
	if len(cfg.Risk.DestinationAllowlist) != 2 || cfg.Risk.DestinationAllowlist[1] != "acc-2" {
		t.Fatalf("unexpected allowlist %v", cfg.Risk.DestinationAllowlist)
	}
	if !cfg.AuthEnabled || cfg.JWTSecret != "top-secret" {
		t.Fatalf("expected auth settings to be loaded")
	}
}

func TestLoadReadsDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("AMQP_EXCHANGE=from-file\nHTTP_PORT=7000\n"), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("HTTP_PORT", "7100")
	// godotenv sets variables it loads; make sure they do not leak.
	t.Setenv("AMQP_EXCHANGE", "")
	os.Unsetenv("AMQP_EXCHANGE")

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AMQPExchange != "from-file" {
		t.Fatalf("expected exchange from .env, got %q", cfg.AMQPExchange)
	}
	if cfg.HTTPPort != "7100" {
		t.Fatalf("environment should win over .env, got %s", cfg.HTTPPort)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("SCORING_DEADLINE", "soon")

	if _, err := config.LoadFile(missingDotenv(t)); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			StorageBackend:    config.StorageMemory,
			CommitMaxAttempts: 3,
			ScoringDeadline:   time.Second,
			Risk: config.RiskConfig{
				HoldThreshold:   0.3,
				RejectThreshold: 0.7,
				WeightAmount:    1,
				AmountSoftLimit: 100,
				AmountHardLimit: 1000,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(*config.Config) {}, ""},
		{"unknown backend", func(c *config.Config) { c.StorageBackend = "mongo" }, "STORAGE_BACKEND"},
		{"postgres without url", func(c *config.Config) { c.StorageBackend = config.StoragePostgres }, "DATABASE_URL"},
		{"inverted thresholds", func(c *config.Config) { c.Risk.HoldThreshold = 0.8 }, "RISK_HOLD_THRESHOLD"},
		{"threshold above one", func(c *config.Config) { c.Risk.RejectThreshold = 1.5 }, "[0,1]"},
		{"negative weight", func(c *config.Config) { c.Risk.WeightAnomaly = -0.1 }, "RISK_WEIGHT_ANOMALY"},
		{"external without url", func(c *config.Config) { c.Risk.WeightExternal = 0.2 }, "RISK_EXTERNAL_SCORER_URL"},
		{"zero commit attempts", func(c *config.Config) { c.CommitMaxAttempts = 0 }, "COMMIT_MAX_ATTEMPTS"},
		{"auth without secret", func(c *config.Config) { c.AuthEnabled = true }, "JWT_SECRET"},
		{"negative hold expiry", func(c *config.Config) { c.HoldAutoRejectAfter = -time.Second }, "HOLD_AUTO_REJECT_AFTER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
