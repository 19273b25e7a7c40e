// Package config loads the server's runtime configuration from the environment,
// mirroring the MCP_* variables and defaults of the reference implementation this
// server tests against.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config holds everything main needs to start the server. Zero-value APIKey means
// the auth gate's bearer-token check is disabled, matching the "skip if unconfigured"
// rule the gate itself enforces; its Origin check runs either way.
type Config struct {
	Host string `env:"MCP_HOST,default=0.0.0.0"`
	Port int    `env:"MCP_PORT,default=3000"`

	APIKey string `env:"MCP_API_KEY"`

	LogLevel string `env:"MCP_LOG_LEVEL,default=info"`

	PingInterval  time.Duration `env:"MCP_PING_INTERVAL,default=30s"`
	SessionGrace  time.Duration `env:"MCP_SESSION_GRACE,default=30s"`
}

// FromEnv decodes a Config from the process environment, applying the same defaults
// the reference implementation's Config::from_env uses.
func FromEnv() (Config, error) {
	var c Config
	if err := envdecode.StrictDecode(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config from environment: %w", err)
	}
	return c, nil
}

// RequiresAuth reports whether the bearer-token check of the auth gate should run.
func (c Config) RequiresAuth() bool {
	return c.APIKey != ""
}

// Addr returns the host:port pair to bind the HTTP listener to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
