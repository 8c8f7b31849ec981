package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("SLOT_GRANULARITY", "")
	t.Setenv("SLOT_PAGE_SIZE", "")
	t.Setenv("STICKY_WINDOW", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SlotGranularity != 30*time.Minute {
		t.Fatalf("expected 30m granularity, got %s", cfg.SlotGranularity)
	}
	if cfg.SlotMinLeadTime != time.Hour {
		t.Fatalf("expected 1h lead time, got %s", cfg.SlotMinLeadTime)
	}
	if cfg.SlotHorizonDays != 14 {
		t.Fatalf("expected 14 day horizon, got %d", cfg.SlotHorizonDays)
	}
	if cfg.SlotPageSize != 3 {
		t.Fatalf("expected page size 3, got %d", cfg.SlotPageSize)
	}
	if cfg.StickyWindow != 72*time.Hour {
		t.Fatalf("expected 72h sticky window, got %s", cfg.StickyWindow)
	}
	if cfg.SMSProvider != "auto" {
		t.Fatalf("expected auto sms provider, got %s", cfg.SMSProvider)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("SMS_PROVIDER", " Twilio ")
	t.Setenv("TENANT_NUMBER_MAP_JSON", "{\"+1555\":\"tenant-1\"}")
	t.Setenv("SLOT_GRANULARITY", "15m")
	t.Setenv("SLOT_HORIZON_DAYS", "30")
	t.Setenv("SLOT_PAGE_SIZE", "4")
	t.Setenv("DURABLE_DEDUPE", "true")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.SMSProvider != "twilio" {
		t.Fatalf("expected normalized sms provider, got %q", cfg.SMSProvider)
	}
	if cfg.TenantNumberMapJSON != "{\"+1555\":\"tenant-1\"}" {
		t.Fatalf("expected tenant map override, got %s", cfg.TenantNumberMapJSON)
	}
	if cfg.SlotGranularity != 15*time.Minute {
		t.Fatalf("expected 15m granularity, got %s", cfg.SlotGranularity)
	}
	if cfg.SlotHorizonDays != 30 || cfg.SlotPageSize != 4 {
		t.Fatalf("expected horizon 30 / page 4, got %d / %d", cfg.SlotHorizonDays, cfg.SlotPageSize)
	}
	if !cfg.DurableDedupe {
		t.Fatalf("expected durable dedupe enabled")
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SLOT_HORIZON_DAYS", "two weeks")
	t.Setenv("SLOT_MIN_LEAD_TIME", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	if cfg.SlotHorizonDays != 14 {
		t.Fatalf("expected fallback horizon, got %d", cfg.SlotHorizonDays)
	}
	if cfg.SlotMinLeadTime != time.Hour {
		t.Fatalf("expected fallback lead time, got %s", cfg.SlotMinLeadTime)
	}
	if cfg.RedisTLS {
		t.Fatalf("expected redis tls fallback false")
	}
}
