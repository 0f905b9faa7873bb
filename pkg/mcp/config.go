package mcp

import (
	"errors"
	"fmt"
	"time"
)

// Config holds mock server configuration.
type Config struct {
	// Port is the TCP port to listen on.
	Port int `json:"port" yaml:"port"`

	// Path is the RPC/push endpoint path.
	Path string `json:"path" yaml:"path"`

	// SessionTimeout is the session idle window.
	SessionTimeout time.Duration `json:"sessionTimeout" yaml:"sessionTimeout"`

	// KeepaliveInterval is the push-channel keepalive period.
	KeepaliveInterval time.Duration `json:"keepaliveInterval" yaml:"keepaliveInterval"`

	// ExpireAfterRequests, when positive, schedules every new session
	// to expire after that many requests. Used by recovery scenarios.
	ExpireAfterRequests int `json:"expireAfterRequests" yaml:"expireAfterRequests"`

	// DropAfterMessages, when positive, applies a drop-after-N rule to
	// every new push channel.
	DropAfterMessages int `json:"dropAfterMessages" yaml:"dropAfterMessages"`

	// NotifyDelay delays every push delivery by this much.
	NotifyDelay time.Duration `json:"notifyDelay" yaml:"notifyDelay"`

	// ReadTimeout bounds request reads. The HTTP server carries no
	// write timeout: the push channel is long-lived by design.
	ReadTimeout time.Duration `json:"readTimeout" yaml:"readTimeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:              9390,
		Path:              "/mcp",
		SessionTimeout:    DefaultSessionTimeout,
		KeepaliveInterval: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
	}
}

// Validate reports configuration errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Path[0] != '/' {
		return fmt.Errorf("path must start with '/', got %q", c.Path)
	}
	if c.SessionTimeout <= 0 {
		return errors.New("sessionTimeout must be positive")
	}
	if c.KeepaliveInterval <= 0 {
		return errors.New("keepaliveInterval must be positive")
	}
	return nil
}

// Address returns the listen address. The mock binds loopback only.
func (c *Config) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}
