package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all cdpilot configuration.
type Config struct {
	// Browser session and action settings
	Browser BrowserConfig `yaml:"browser"`

	// Extension relay server
	Relay RelayConfig `yaml:"relay"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			CDPURL:            "http://127.0.0.1:9222",
			ConnectRetries:    3,
			ActionTimeoutMs:   8000,
			NavigateTimeoutMs: 20000,
			AllowEvaluate:     false,
			RefCacheSize:      50,
			ConsoleBufferSize: 500,
			ErrorBufferSize:   200,
			RequestBufferSize: 500,
		},
		Relay: RelayConfig{
			Host:             "127.0.0.1",
			Port:             18792,
			MaxConnections:   64,
			ForwardTimeoutMs: 30000,
			PingIntervalMs:   5000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
			// Defaults when the file doesn't exist
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CDPILOT_CDP_URL")); v != "" {
		c.Browser.CDPURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CDPILOT_RELAY_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Relay.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("CDPILOT_ALLOW_EVALUATE")); v != "" {
		if allow, err := strconv.ParseBool(v); err == nil {
			c.Browser.AllowEvaluate = allow
		}
	}
	if v := strings.TrimSpace(os.Getenv("CDPILOT_LOG_LEVEL")); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Relay.Port < 0 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port out of range: %d", c.Relay.Port)
	}
	if c.Browser.ConnectRetries < 1 {
		return fmt.Errorf("browser.connect_retries must be at least 1")
	}
	for name, size := range map[string]int{
		"browser.ref_cache_size":      c.Browser.RefCacheSize,
		"browser.console_buffer_size": c.Browser.ConsoleBufferSize,
		"browser.error_buffer_size":   c.Browser.ErrorBufferSize,
		"browser.request_buffer_size": c.Browser.RequestBufferSize,
	} {
		if size <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, size)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
