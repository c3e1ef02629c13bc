package config

import "time"

// BrowserConfig configures the CDP session manager and action dispatcher.
type BrowserConfig struct {
	CDPURL            string `yaml:"cdp_url"`
	ConnectRetries    int    `yaml:"connect_retries"`
	ActionTimeoutMs   int    `yaml:"action_timeout_ms"`
	NavigateTimeoutMs int    `yaml:"navigate_timeout_ms"`

	// AllowEvaluate gates the evaluate action. Off unless set explicitly.
	AllowEvaluate bool `yaml:"allow_evaluate"`

	RefCacheSize      int `yaml:"ref_cache_size"`
	ConsoleBufferSize int `yaml:"console_buffer_size"`
	ErrorBufferSize   int `yaml:"error_buffer_size"`
	RequestBufferSize int `yaml:"request_buffer_size"`
}

// ActionTimeout returns the default action timeout.
func (c BrowserConfig) ActionTimeout() time.Duration {
	if c.ActionTimeoutMs <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.ActionTimeoutMs) * time.Millisecond
}

// NavigateTimeout returns the default navigation timeout.
func (c BrowserConfig) NavigateTimeout() time.Duration {
	if c.NavigateTimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.NavigateTimeoutMs) * time.Millisecond
}
