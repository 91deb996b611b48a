package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"visitsync/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://visits.example.com/"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved == "" {
		t.Fatalf("expected resolved existing path, got %q exists=%v", resolved, exists)
	}

	if cfg.API.BaseURL != "https://visits.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.API.BaseURL)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Fatalf("expected default max attempts, got %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Sync.BaseBackoffSeconds != 2 || cfg.Sync.MaxBackoffSeconds != 300 {
		t.Fatalf("unexpected backoff defaults: %+v", cfg.Sync)
	}
	if cfg.API.HealthPath != "/api/health" {
		t.Fatalf("expected default health path, got %q", cfg.API.HealthPath)
	}
	if !cfg.Cache.Enabled {
		t.Fatal("cache should default to enabled")
	}
	if len(cfg.Cache.AllowPrefixes) == 0 || len(cfg.Cache.DenySubstrings) == 0 {
		t.Fatal("expected default cache policy lists")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"bad scheme",
			"[api]\nbase_url = \"ftp://example.com\"\n",
			"http or https",
		},
		{
			"inverted backoff",
			"[api]\nbase_url = \"http://example.com\"\n[sync]\nbase_backoff_seconds = 60\nmax_backoff_seconds = 5\n",
			"max_backoff_seconds",
		},
		{
			"bad log level",
			"[api]\nbase_url = \"http://example.com\"\n[logging]\nlevel = \"verbose\"\n",
			"logging.level",
		},
		{
			"bad proxy bind",
			"[api]\nbase_url = \"http://example.com\"\n[proxy]\nbind = \"localhost\"\n",
			"host:port",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, _, _, err := config.Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.toml")

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if exists {
		t.Fatalf("expected missing file, resolved %q", resolved)
	}
	if cfg.API.BaseURL == "" || cfg.Proxy.Bind == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = "/tmp/vs-data"

	if got := cfg.QueueDBPath(); got != "/tmp/vs-data/queue.db" {
		t.Fatalf("unexpected queue db path %q", got)
	}
	if got := cfg.CacheDBPath(); got != "/tmp/vs-data/cache.db" {
		t.Fatalf("unexpected cache db path %q", got)
	}
	if got := cfg.SocketPath(); got != "/tmp/vs-data/visitsyncd.sock" {
		t.Fatalf("unexpected socket path %q", got)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	target := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(target); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	cfg, _, exists, err := config.Load(target)
	if err != nil {
		t.Fatalf("Load of sample failed: %v", err)
	}
	if !exists {
		t.Fatal("sample config not found after creation")
	}
	if cfg.Proxy.Bind != "127.0.0.1:7533" {
		t.Fatalf("unexpected sample bind %q", cfg.Proxy.Bind)
	}
}
