package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "INGEST_QUEUE_URL", "OPENAI_API_KEY", "LLM_PROVIDER", "WEBHOOK_SIGNATURE_MODE", "HUMAN_INACTIVITY_MINUTES", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if !cfg.UseMemoryQueue {
		t.Fatalf("expected memory queue when no queue url is configured")
	}
	if cfg.LLMProvider != "none" {
		t.Fatalf("expected reasoning disabled without api key, got %s", cfg.LLMProvider)
	}
	if !cfg.SignatureRequired() {
		t.Fatalf("expected signatures required by default")
	}
	if cfg.Engine.HumanInactivity != 45*time.Minute {
		t.Fatalf("expected 45m inactivity, got %s", cfg.Engine.HumanInactivity)
	}
	if cfg.Engine.UnclaimedHotLead != time.Hour {
		t.Fatalf("expected 60m unclaimed threshold, got %s", cfg.Engine.UnclaimedHotLead)
	}
	if cfg.Engine.BusinessName != "Sector 7" {
		t.Fatalf("unexpected business name %q", cfg.Engine.BusinessName)
	}
	if cfg.LLMTimeout != 8*time.Second {
		t.Fatalf("expected 8s llm timeout, got %s", cfg.LLMTimeout)
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("expected default cors origin, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("INGEST_QUEUE_URL", "https://sqs.us-east-1.amazonaws.com/123/ingest.fifo")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("WEBHOOK_SIGNATURE_MODE", "Optional")
	t.Setenv("HUMAN_INACTIVITY_MINUTES", "10")
	t.Setenv("UNCLAIMED_HOT_LEAD_MINUTES", "5")
	t.Setenv("FRUSTRATION_ESCALATION", "3.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://panel.example.com, ,https://admin.example.com")
	t.Setenv("USE_MEMORY_QUEUE", "")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.UseMemoryQueue {
		t.Fatalf("expected sqs queue when a url is configured")
	}
	if !cfg.IngestQueueFIFO {
		t.Fatalf("expected fifo detection from queue url")
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected openai provider when key present, got %s", cfg.LLMProvider)
	}
	if cfg.SignatureRequired() {
		t.Fatalf("expected optional signature mode")
	}
	if cfg.Engine.HumanInactivity != 10*time.Minute || cfg.Engine.UnclaimedHotLead != 5*time.Minute {
		t.Fatalf("unexpected thresholds %+v", cfg.Engine)
	}
	if cfg.Engine.FrustrationEscalation != 3.5 {
		t.Fatalf("expected frustration override, got %v", cfg.Engine.FrustrationEscalation)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
}

func TestGetEnvAsDurationInvalid(t *testing.T) {
	t.Setenv("JOB_TICK_INTERVAL", "soon")
	if got := getEnvAsDuration("JOB_TICK_INTERVAL", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback on invalid duration, got %s", got)
	}
}
