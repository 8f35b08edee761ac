package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DefaultLocale != "en" {
		t.Errorf("DefaultLocale = %q, want en", cfg.DefaultLocale)
	}
	if cfg.ConnectMaxAttempts != 2 {
		t.Errorf("ConnectMaxAttempts = %d, want 2", cfg.ConnectMaxAttempts)
	}
	if cfg.AggregationWindow != 6*time.Hour {
		t.Errorf("AggregationWindow = %v, want 6h", cfg.AggregationWindow)
	}
	if cfg.DedupeWindow != 30*time.Second {
		t.Errorf("DedupeWindow = %v, want 30s", cfg.DedupeWindow)
	}
	if cfg.RetentionCritical < cfg.RetentionHigh {
		t.Error("critical retention must not be shorter than high retention")
	}
	if cfg.LifelineNumber == "" || cfg.EmergencyNumber == "" {
		t.Error("lifeline and emergency numbers must have defaults")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AGGREGATION_WINDOW", "2h")
	t.Setenv("CONNECT_MAX_ATTEMPTS", "3")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("ENRICHMENT_ENABLED", "true")

	cfg := Load()
	if cfg.AggregationWindow != 2*time.Hour {
		t.Errorf("AggregationWindow = %v, want 2h", cfg.AggregationWindow)
	}
	if cfg.ConnectMaxAttempts != 3 {
		t.Errorf("ConnectMaxAttempts = %d, want 3", cfg.ConnectMaxAttempts)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.CORSAllowedOrigins)
	}
	if !cfg.EnrichmentEnabled {
		t.Error("EnrichmentEnabled should be true")
	}
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")
	t.Setenv("DEDUPE_WINDOW", "soon")

	cfg := Load()
	if cfg.WorkerCount != 2 {
		t.Errorf("WorkerCount = %d, want fallback 2", cfg.WorkerCount)
	}
	if cfg.DedupeWindow != 30*time.Second {
		t.Errorf("DedupeWindow = %v, want fallback 30s", cfg.DedupeWindow)
	}
}
