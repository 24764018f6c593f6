package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error for unknown mode")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("error %q does not mention the bad mode", err)
	}
}

func TestValidateArchiverNeedsStores(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archiver"
	cfg.S3.Enabled = false
	cfg.Postgres.Enabled = false
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error for archiver without s3 and postgres")
	}
	if !strings.Contains(err.Error(), "s3 must be enabled") {
		t.Fatalf("error %q does not mention s3", err)
	}
}

func TestValidateTelegramPair(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.TelegramToken = "token"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error when telegram chat id is missing")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SWAPD_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SWAPD_NEGOTIATION_FAIRNESS_THRESHOLD", "350")
	t.Setenv("SWAPD_ARCHIVE_INTERVAL", "6h")
	t.Setenv("SWAPD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SWAPD_MODE", "gateway")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("redis addr = %q, want override", cfg.Redis.Addr)
	}
	if cfg.Negotiation.FairnessThreshold != 350 {
		t.Fatalf("fairness threshold = %d, want 350", cfg.Negotiation.FairnessThreshold)
	}
	if cfg.Archive.Interval.Duration != 6*time.Hour {
		t.Fatalf("archive interval = %v, want 6h", cfg.Archive.Interval.Duration)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins = %v, want two trimmed entries", cfg.Server.CORSOrigins)
	}
	if cfg.Mode != "gateway" {
		t.Fatalf("mode = %q, want gateway", cfg.Mode)
	}
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("SWAPD_NEGOTIATION_FAIRNESS_THRESHOLD", "lots")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Negotiation.FairnessThreshold != 200 {
		t.Fatalf("fairness threshold = %d, want default 200", cfg.Negotiation.FairnessThreshold)
	}
}
