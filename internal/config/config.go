package config

import (
	"fmt"

	"github.com/wardenlabs/warden/pkg/runtime"
)

// LogConfig controls log output.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// MonitorConfig controls the optional HTTP monitoring endpoint.
type MonitorConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Config is the full warden configuration.
type Config struct {
	Log     LogConfig      `json:"log"`
	Runtime runtime.Config `json:"runtime"`
	Monitor MonitorConfig  `json:"monitor"`
}

// DefaultConfig returns the configuration used when no file exists. The
// provider command under runtime.session must still be set before the
// runtime can spawn agents.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Runtime: runtime.DefaultConfig(),
		Monitor: MonitorConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// Validate checks the full configuration.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	if err := c.Runtime.Validate(); err != nil {
		return err
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		return fmt.Errorf("monitor: addr is required when enabled")
	}
	return nil
}
