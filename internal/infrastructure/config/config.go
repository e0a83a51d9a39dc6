// Package config loads client configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Default locations and values.
const (
	DefaultAPIBaseURL = "http://localhost:8394"
	DefaultJournalDir = ".buildstream"
)

// StreamConfig tunes the reconnecting stream client.
type StreamConfig struct {
	// Transport is "sse" (default) or "websocket".
	Transport string `yaml:"transport"`
	// BackoffBase is the first retry delay; doubles per consecutive failure.
	BackoffBase time.Duration `yaml:"backoff_base"`
	// BackoffCap bounds the retry delay.
	BackoffCap time.Duration `yaml:"backoff_cap"`
	// MaxAttempts caps consecutive failed connection attempts.
	// Zero retries indefinitely.
	MaxAttempts int `yaml:"max_attempts"`
}

// Config is the buildstream client configuration.
type Config struct {
	APIBaseURL string       `yaml:"api_base_url"`
	JournalDir string       `yaml:"journal_dir"`
	Stream     StreamConfig `yaml:"stream"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		APIBaseURL: DefaultAPIBaseURL,
		JournalDir: DefaultJournalDir,
		Stream: StreamConfig{
			Transport:   "sse",
			BackoffBase: time.Second,
			BackoffCap:  10 * time.Second,
			MaxAttempts: 0,
		},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("unmarshal config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	switch c.Stream.Transport {
	case "", "sse", "websocket":
	default:
		return fmt.Errorf("unknown stream transport: %s", c.Stream.Transport)
	}
	if c.Stream.BackoffBase < 0 || c.Stream.BackoffCap < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if c.Stream.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BUILDSTREAM_API_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("BUILDSTREAM_JOURNAL_DIR"); v != "" {
		cfg.JournalDir = v
	}
	if v := os.Getenv("BUILDSTREAM_STREAM_TRANSPORT"); v != "" {
		cfg.Stream.Transport = v
	}
	if v := os.Getenv("BUILDSTREAM_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.MaxAttempts = n
		}
	}
}
