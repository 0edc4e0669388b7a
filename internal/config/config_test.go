package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Database.Path != "data/sensors.db" {
		t.Errorf("Expected default database path, got %s", cfg.Database.Path)
	}
	if cfg.Archive.BaseURL != "https://archive.sensor.community" {
		t.Errorf("Expected default archive URL, got %s", cfg.Archive.BaseURL)
	}
	if cfg.Archive.Timeout != 30*time.Second {
		t.Errorf("Expected 30s archive timeout, got %v", cfg.Archive.Timeout)
	}
	if cfg.Ingest.TypeSearchTimeout != time.Minute {
		t.Errorf("Expected 60s type search timeout, got %v", cfg.Ingest.TypeSearchTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	configPath := filepath.Join(dir, "custom.yml")
	content := `
database:
  path: /tmp/custom.db
cache:
  dir: /tmp/custom-cache
archive:
  timeout: 5s
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	t.Setenv("SENSORS_CACHE_DIR", "/tmp/env-cache")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token-123")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Database.Path != "/tmp/custom.db" {
		t.Errorf("Expected database path from file, got %s", cfg.Database.Path)
	}
	if cfg.Cache.Dir != "/tmp/env-cache" {
		t.Errorf("Expected cache dir from env, got %s", cfg.Cache.Dir)
	}
	if cfg.Archive.Timeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", cfg.Archive.Timeout)
	}
	if cfg.Telegram.Token != "token-123" {
		t.Errorf("Expected telegram token from env, got %q", cfg.Telegram.Token)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	chdir(t, t.TempDir())

	if _, err := LoadConfig("does-not-exist.yml"); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"missing cache dir", func(c *Config) { c.Cache.Dir = "" }, true},
		{"zero archive timeout", func(c *Config) { c.Archive.Timeout = 0 }, true},
		{"negative type search timeout", func(c *Config) { c.Ingest.TypeSearchTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database:     DatabaseConfig{Path: "db"},
				Cache:        CacheConfig{Dir: "cache"},
				Archive:      ArchiveConfig{BaseURL: "http://archive", Timeout: time.Second},
				Connectivity: ConnectivityConfig{URL: "http://archive", Timeout: time.Second},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
