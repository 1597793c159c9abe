package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Redis contains connection settings for the scheduler queues and broker link.
type Redis struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Scheduler contains priority queue and retry configuration.
type Scheduler struct {
	Platforms         []string `toml:"platforms"`
	MaxAttempts       int      `toml:"max_attempts"`
	RetryBaseSeconds  int      `toml:"retry_base_seconds"`
	RetryCapSeconds   int      `toml:"retry_cap_seconds"`
	HighConcurrency   int      `toml:"high_concurrency"`
	NormalConcurrency int      `toml:"normal_concurrency"`
	LowConcurrency    int      `toml:"low_concurrency"`
	PremiumUserSlots  int      `toml:"premium_user_slots"`
	StandardUserSlots int      `toml:"standard_user_slots"`
	FreeUserSlots     int      `toml:"free_user_slots"`
}

// RateLimit contains per-platform budget fallback and tier allocation settings.
type RateLimit struct {
	DefaultLimit         int     `toml:"default_limit"`
	DefaultWindowSeconds int     `toml:"default_window_seconds"`
	HighAllocation       float64 `toml:"high_allocation"`
	NormalAllocation     float64 `toml:"normal_allocation"`
	LowAllocation        float64 `toml:"low_allocation"`
}

// Broker contains task broker connection reliability settings.
type Broker struct {
	StreamPrefix            string `toml:"stream_prefix"`
	ConnectTimeoutSeconds   int    `toml:"connect_timeout_seconds"`
	HeartbeatSeconds        int    `toml:"heartbeat_seconds"`
	ReconnectMaxAttempts    int    `toml:"reconnect_max_attempts"`
	BreakerFailureThreshold int    `toml:"breaker_failure_threshold"`
	BreakerCooldownSeconds  int    `toml:"breaker_cooldown_seconds"`
}

// Workflow contains enhancement pipeline timing configuration.
type Workflow struct {
	MaxPhaseRetries        int `toml:"max_phase_retries"`
	HeartbeatInterval      int `toml:"heartbeat_interval"`
	HeartbeatTimeout       int `toml:"heartbeat_timeout"`
	MusicTimeoutMinutes    int `toml:"music_timeout_minutes"`
	ShortTimeoutMinutes    int `toml:"short_timeout_minutes"`
	StandardTimeoutMinutes int `toml:"standard_timeout_minutes"`
	LongTimeoutMinutes     int `toml:"long_timeout_minutes"`
}

// Fetch contains settings for outbound content fetching.
type Fetch struct {
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	UserAgent             string `toml:"user_agent"`
}

// Notifications contains configuration for ntfy operator alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Redis         Redis         `toml:"redis"`
	Scheduler     Scheduler     `toml:"scheduler"`
	RateLimit     RateLimit     `toml:"rate_limit"`
	Broker        Broker        `toml:"broker"`
	Workflow      Workflow      `toml:"workflow"`
	Fetch         Fetch         `toml:"fetch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the expected location of the user config file.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "sharepipe", "config.toml"), nil
}

// Load reads configuration from path (or the default location when empty),
// applies defaults, env overrides, normalization, and validation. The second
// return value reports whether a config file was found on disk.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	resolved := strings.TrimSpace(path)
	if resolved == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, false, err
		}
		resolved = defaultPath
	}

	found := false
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		found = true
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus env overrides are enough to run.
	default:
		return nil, false, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.normalize(); err != nil {
		return nil, found, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return &cfg, found, nil
}

// WriteSample writes the embedded sample config to path, refusing to overwrite.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the data and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SHAREPIPE_REDIS_ADDR")); v != "" {
		c.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("SHAREPIPE_REDIS_PASSWORD")); v != "" {
		c.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv("SHAREPIPE_API_TOKEN")); v != "" {
		c.Paths.APIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("SHAREPIPE_NTFY_TOPIC")); v != "" {
		c.Notifications.NtfyTopic = v
	}
}
