package testsupport

import (
	"path/filepath"
	"testing"

	"visitsync/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.API.BaseURL = "http://127.0.0.1:0"
	cfg.Proxy.Bind = "127.0.0.1:0"
	cfg.Sync.ProbeInterval = 3600

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithBaseURL points the config at a test server.
func WithBaseURL(baseURL string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.API.BaseURL = baseURL
	}
}

// WithMaxAttempts overrides the replay attempt ceiling.
func WithMaxAttempts(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sync.MaxAttempts = n
	}
}

// WithFastBackoff shrinks retry delays so tests do not sleep.
func WithFastBackoff() ConfigOption {
	return func(cfg *config.Config) {
		cfg.Sync.BaseBackoffSeconds = 0
		cfg.Sync.MaxBackoffSeconds = 0
	}
}
