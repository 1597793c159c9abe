package testsupport

import (
	"path/filepath"
	"testing"

	"sharepipe/internal/config"
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
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithRedisAddr points the config at a test Redis instance.
func WithRedisAddr(addr string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Redis.Addr = addr
	}
}

// WithPlatforms overrides the configured platform list.
func WithPlatforms(platforms ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Scheduler.Platforms = platforms
	}
}
