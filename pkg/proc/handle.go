package proc

import (
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/wardenlabs/warden/pkg/agent"
)

// Handle is the supervisor's record of one live agent process. The
// supervisor owns it exclusively; other components hold non-owning
// references and go through its accessors.
type Handle struct {
	agentID   agent.ID
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	limits    ResourceLimits

	stdin  io.WriteCloser
	stdout io.ReadCloser

	waitDone chan struct{}
	waitErr  error

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time
	usage         Usage
	failure       error
}

// Info is a read-only snapshot of a handle.
type Info struct {
	AgentID   agent.ID       `json:"agent_id"`
	PID       int            `json:"pid"`
	StartedAt time.Time      `json:"spawned_at"`
	State     State          `json:"state"`
	Limits    ResourceLimits `json:"limits"`
	Usage     Usage          `json:"usage"`
}

func (h *Handle) AgentID() agent.ID      { return h.agentID }
func (h *Handle) PID() int               { return h.pid }
func (h *Handle) StartedAt() time.Time   { return h.startedAt }
func (h *Handle) Limits() ResourceLimits { return h.limits }
func (h *Handle) Stdin() io.WriteCloser  { return h.stdin }
func (h *Handle) Stdout() io.ReadCloser  { return h.stdout }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Snapshot returns a copy of the handle's observable fields.
func (h *Handle) Snapshot() Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Info{
		AgentID:   h.agentID,
		PID:       h.pid,
		StartedAt: h.startedAt,
		State:     h.state,
		Limits:    h.limits,
		Usage:     h.usage,
	}
}

// transition moves the handle to a new state, enforcing the lifecycle
// table. Transitions out of a terminal state are rejected.
func (h *Handle) transition(to State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == to {
		return nil
	}
	if !canTransition(h.state, to) {
		return transitionError(h.state, to)
	}
	h.state = to
	return nil
}

// Heartbeat records a liveness touch from the protocol layer.
func (h *Handle) Heartbeat() {
	h.mu.Lock()
	h.lastHeartbeat = time.Now()
	h.mu.Unlock()
}

// LastHeartbeat returns the time of the most recent liveness touch.
func (h *Handle) LastHeartbeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastHeartbeat
}

// setFailure records a failure and moves the handle to Failed. The first
// recorded failure wins; later ones are ignored so the original cause
// survives until someone reads it.
func (h *Handle) setFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failure == nil {
		h.failure = err
	}
	if !h.state.Terminal() {
		h.state = StateFailed
	}
}

// Failure returns the recorded failure, if any.
func (h *Handle) Failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failure
}

func (h *Handle) setUsage(u Usage) {
	h.mu.Lock()
	h.usage = u
	h.mu.Unlock()
}

// Alive reports whether the underlying process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.waitDone:
		return false
	default:
		return true
	}
}
