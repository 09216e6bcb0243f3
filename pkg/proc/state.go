package proc

import "fmt"

// State is the lifecycle state of a managed process.
type State string

const (
	StateInitial      State = "initial"
	StateStarting     State = "starting"
	StateReady        State = "ready"
	StateBusy         State = "busy"
	StateIdle         State = "idle"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
	StateFailed       State = "failed"
)

// Terminal reports whether s is absorbing: no transitions leave it.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateFailed
}

func (s State) String() string {
	return string(s)
}

// transitions enumerates the legal forward edges of the lifecycle.
// Busy and Idle cycle between each other; everything else is monotone.
// Failed is reachable from every non-terminal state and is handled
// separately in canTransition.
var transitions = map[State][]State{
	StateInitial:      {StateStarting},
	StateStarting:     {StateReady, StateShuttingDown},
	StateReady:        {StateBusy, StateIdle, StateShuttingDown},
	StateBusy:         {StateIdle, StateShuttingDown},
	StateIdle:         {StateBusy, StateShuttingDown},
	StateShuttingDown: {StateTerminated},
	StateTerminated:   {},
	StateFailed:       {},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to State) error {
	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
