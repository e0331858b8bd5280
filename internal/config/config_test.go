package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"threshold order", func(c *Config) { c.Freshness.RecentThreshold = time.Second }},
		{"max results", func(c *Config) { c.Search.MaxResults = -1 }},
		{"embedding provider", func(c *Config) { c.Embedding.Provider = "astral" }},
		{"archive backend", func(c *Config) { c.Archive.Backend = "floppy" }},
		{"s3 without bucket", func(c *Config) { c.Archive.Backend = "s3" }},
		{"retention batch", func(c *Config) { c.Retention.Enabled = true; c.Retention.BatchSize = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 40000
cache:
  ttl: 30s
freshness:
  fresh_threshold: 10m
  recent_threshold: 1h
  stale_threshold: 24h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 40000 {
		t.Errorf("port = %d, want 40000", cfg.Server.Port)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("ttl = %v, want 30s", cfg.Cache.TTL)
	}
	if cfg.Freshness.FreshThreshold != 10*time.Minute {
		t.Errorf("fresh = %v", cfg.Freshness.FreshThreshold)
	}
	// Untouched sections keep defaults.
	if cfg.Search.MaxResults != 50 {
		t.Errorf("max results = %d, want default 50", cfg.Search.MaxResults)
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Default()
	if addr := cfg.ListenAddr(); addr != "127.0.0.1:38100" {
		t.Errorf("addr = %q", addr)
	}
}
