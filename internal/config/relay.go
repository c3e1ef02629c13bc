package config

import (
	"net"
	"strconv"
	"time"
)

// RelayConfig configures the extension relay server.
type RelayConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	MaxConnections   int    `yaml:"max_connections"`
	ForwardTimeoutMs int    `yaml:"forward_timeout_ms"`
	PingIntervalMs   int    `yaml:"ping_interval_ms"`
}

// Addr returns the host:port listen address.
func (c RelayConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port))
}

// ForwardTimeout returns how long a forwarded command waits for the extension.
func (c RelayConfig) ForwardTimeout() time.Duration {
	if c.ForwardTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ForwardTimeoutMs) * time.Millisecond
}

// PingInterval returns the extension keepalive interval.
func (c RelayConfig) PingInterval() time.Duration {
	if c.PingIntervalMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}
