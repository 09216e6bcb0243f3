package proc

import "errors"

var (
	// ErrSpawnFailed wraps any failure to bring up an agent process.
	ErrSpawnFailed = errors.New("agent spawn failed")

	// ErrTooManyProcesses is returned when a spawn would exceed the
	// configured concurrent process ceiling.
	ErrTooManyProcesses = errors.New("max concurrent processes reached")

	// ErrProcessNotFound is returned when no handle exists for an agent.
	ErrProcessNotFound = errors.New("process not found")

	// ErrNotReady is returned when the process exists but has not
	// completed startup, or is already shutting down.
	ErrNotReady = errors.New("agent process not ready")

	// ErrProcessCrashed records an unexpected process exit or a stale
	// heartbeat. Surfaced to the next caller touching the agent.
	ErrProcessCrashed = errors.New("agent process crashed")

	// ErrResourceLimitExceeded records a memory or CPU ceiling breach,
	// or an exhausted tool-call budget.
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
)
