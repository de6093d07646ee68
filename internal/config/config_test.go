package config

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("DUPLICATE_COOLDOWN", "15m")
	t.Setenv("ZONE_ENDPOINTS", "https://a.example/api, ,https://b.example/api")
	t.Setenv("JOBS_REFUND_ON_FAILURE", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Guard.Cooldown != 15*time.Minute {
		t.Errorf("Guard.Cooldown = %v, want %v", cfg.Guard.Cooldown, 15*time.Minute)
	}
	if len(cfg.Zone.Endpoints) != 2 || cfg.Zone.Endpoints[1] != "https://b.example/api" {
		t.Errorf("Zone.Endpoints = %v, want two trimmed endpoints", cfg.Zone.Endpoints)
	}
	if !cfg.Jobs.RefundOnFailure {
		t.Error("Jobs.RefundOnFailure = false, want true")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Freshness.FreshAge != 7*24*time.Hour || cfg.Freshness.StaleAge != 30*24*time.Hour {
		t.Errorf("freshness thresholds = %v/%v, want 7d/30d", cfg.Freshness.FreshAge, cfg.Freshness.StaleAge)
	}
	if cfg.Zone.ChunkDegrees != 0.018 {
		t.Errorf("Zone.ChunkDegrees = %v, want 0.018", cfg.Zone.ChunkDegrees)
	}
	if cfg.Zone.BatchSize != 3 {
		t.Errorf("Zone.BatchSize = %v, want 3", cfg.Zone.BatchSize)
	}
	if cfg.Jobs.RefundOnFailure {
		t.Error("Jobs.RefundOnFailure should default to false")
	}
	if cfg.Jobs.AbandonAfter != cfg.Jobs.JobTimeout+time.Minute {
		t.Errorf("Jobs.AbandonAfter = %v, want job timeout plus 1m", cfg.Jobs.AbandonAfter)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"inverted freshness", func(c *Config) { c.Freshness.StaleAge = time.Hour }},
		{"zero workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"abandon before timeout", func(c *Config) { c.Jobs.AbandonAfter = c.Jobs.JobTimeout }},
		{"zero chunk", func(c *Config) { c.Zone.ChunkDegrees = 0 }},
		{"warn above max", func(c *Config) { c.Zone.WarnAreaKm2 = c.Zone.MaxAreaKm2 + 1 }},
		{"free scrape", func(c *Config) { c.Pricing.ScrapingBasic = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *cfg
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_BOOL", "yes-please")
	t.Setenv("TEST_DURATION", "90s")

	if got := getEnvAsInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvAsInt = %d, want 42", got)
	}
	if got := getEnvAsInt("TEST_BAD_INT", 7); got != 7 {
		t.Errorf("getEnvAsInt(bad) = %d, want default 7", got)
	}
	if got := getEnvAsFloat("TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("getEnvAsFloat = %v, want 0.25", got)
	}
	if got := getEnvAsBool("TEST_BOOL", true); got != true {
		t.Errorf("getEnvAsBool(unparseable) = %v, want default true", got)
	}
	if got := getEnvAsDuration("TEST_DURATION", 0); got != 90*time.Second {
		t.Errorf("getEnvAsDuration = %v, want 90s", got)
	}
	if got := getEnv("TEST_MISSING_KEY", "fallback"); got != "fallback" {
		t.Errorf("getEnv = %q, want fallback", got)
	}
}
