package runtime

import (
	"fmt"

	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/proc"
	"github.com/wardenlabs/warden/pkg/session"
)

// RecoveryConfig governs automatic respawn of crashed agents during
// task execution.
type RecoveryConfig struct {
	Enabled            bool `json:"enabled"`
	MaxRestartAttempts int  `json:"max_restart_attempts"`
}

// Config assembles the configuration of every runtime layer. Limits is
// the authoritative per-agent resource ceiling: the runtime applies it
// to every process it spawns, overriding Session.Limits.
type Config struct {
	Process  proc.Config         `json:"process"`
	Limits   proc.ResourceLimits `json:"limits"`
	Session  session.Config      `json:"session"`
	Executor executor.Config     `json:"executor"`
	Recovery RecoveryConfig      `json:"recovery"`
}

// DefaultConfig returns runtime defaults. The session provider command
// must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		Process:  proc.DefaultConfig(),
		Limits:   proc.DefaultLimits(),
		Session:  session.DefaultConfig(),
		Executor: executor.DefaultConfig(),
		Recovery: RecoveryConfig{
			Enabled:            true,
			MaxRestartAttempts: 2,
		},
	}
}

// Validate checks every layer's configuration.
func (c Config) Validate() error {
	if err := c.Process.Validate(); err != nil {
		return fmt.Errorf("process: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Executor.Validate(); err != nil {
		return fmt.Errorf("executor: %w", err)
	}
	if c.Recovery.Enabled && c.Recovery.MaxRestartAttempts < 1 {
		return fmt.Errorf("recovery: max_restart_attempts must be at least 1 when enabled")
	}
	return nil
}
