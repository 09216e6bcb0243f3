package executor

import "errors"

var (
	// ErrAgentNotFound is returned when the delegation names an agent the
	// supervisor does not manage.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentNotReady is returned when the agent exists but cannot accept
	// work yet, or is already failed or shutting down.
	ErrAgentNotReady = errors.New("agent not ready")

	// ErrTaskTimeout is the terminal error of a task whose deadline
	// elapsed mid-flight.
	ErrTaskTimeout = errors.New("task deadline exceeded")
)
