package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }, "TTL"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch size"},
		{"batch over API limit", func(c *Config) { c.BatchSize = 25 }, "batch size"},
		{"batch at API limit", func(c *Config) { c.BatchSize = 10 }, ""},
		{"negative buffer", func(c *Config) { c.NearBuffer = -1 }, "near buffer"},
		{"no region", func(c *Config) { c.Region = ""; c.BBox = "" }, "region"},
		{"bbox only", func(c *Config) { c.Region = ""; c.BBox = "1,2,3,4" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.modify(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConnectionString(t *testing.T) {
	c := DefaultConfig()
	if got, want := c.ConnectionString(), "host=localhost port=5432 dbname=osm user=postgres sslmode=disable"; got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
	c.DBPassword = "secret"
	if got := c.ConnectionString(); !strings.HasSuffix(got, " password=secret") {
		t.Errorf("ConnectionString() = %q, want password appended", got)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHANGEPIPE_REDIS_ADDR", "cache:6380")
	t.Setenv("CHANGEPIPE_CACHE_TTL", "1h")
	t.Setenv("CHANGEPIPE_WORKERS", "3")
	t.Setenv("CHANGEPIPE_API_URL", "http://from-env")

	c := DefaultConfig()
	c.APIURL = "http://from-flag"
	err := c.ApplyEnv(func(name string) bool { return name == "api-url" })
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if c.RedisAddr != "cache:6380" {
		t.Errorf("RedisAddr = %q, want cache:6380", c.RedisAddr)
	}
	if c.CacheTTL != time.Hour {
		t.Errorf("CacheTTL = %v, want 1h", c.CacheTTL)
	}
	if c.Workers != 3 {
		t.Errorf("Workers = %d, want 3", c.Workers)
	}
	if c.APIURL != "http://from-flag" {
		t.Errorf("APIURL = %q, an explicit flag must win over env", c.APIURL)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Setenv("CHANGEPIPE_DB_PORT", "not-a-port")
	if err := DefaultConfig().ApplyEnv(nil); err == nil {
		t.Error("expected error but got none")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CHANGEPIPE_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHANGEPIPE_TEST_DOTENV", "")
	os.Unsetenv("CHANGEPIPE_TEST_DOTENV")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CHANGEPIPE_TEST_DOTENV"); got != "loaded" {
		t.Errorf("CHANGEPIPE_TEST_DOTENV = %q, want loaded", got)
	}
}
