package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_Terminal(t *testing.T) {
	assert.True(t, StateTerminated.Terminal())
	assert.True(t, StateFailed.Terminal())

	for _, s := range []State{
		StateInitial, StateStarting, StateReady,
		StateBusy, StateIdle, StateShuttingDown,
	} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestCanTransition_Lifecycle(t *testing.T) {
	assert.True(t, canTransition(StateInitial, StateStarting))
	assert.True(t, canTransition(StateStarting, StateReady))
	assert.True(t, canTransition(StateReady, StateBusy))
	assert.True(t, canTransition(StateBusy, StateIdle))
	assert.True(t, canTransition(StateIdle, StateBusy))
	assert.True(t, canTransition(StateIdle, StateShuttingDown))
	assert.True(t, canTransition(StateShuttingDown, StateTerminated))
}

func TestCanTransition_NoSkipping(t *testing.T) {
	assert.False(t, canTransition(StateInitial, StateReady))
	assert.False(t, canTransition(StateStarting, StateBusy))
	assert.False(t, canTransition(StateBusy, StateReady))
	assert.False(t, canTransition(StateTerminated, StateReady))
}

func TestCanTransition_FailedFromAnyNonTerminal(t *testing.T) {
	for _, s := range []State{
		StateInitial, StateStarting, StateReady,
		StateBusy, StateIdle, StateShuttingDown,
	} {
		assert.True(t, canTransition(s, StateFailed), s)
	}
}

func TestCanTransition_TerminalStatesAbsorb(t *testing.T) {
	targets := []State{
		StateInitial, StateStarting, StateReady, StateBusy,
		StateIdle, StateShuttingDown, StateTerminated, StateFailed,
	}
	for _, to := range targets {
		assert.False(t, canTransition(StateTerminated, to), to)
		assert.False(t, canTransition(StateFailed, to), to)
	}
}

func TestHandle_Transition(t *testing.T) {
	h := &Handle{state: StateInitial, waitDone: make(chan struct{})}

	assert.NoError(t, h.transition(StateStarting))
	assert.NoError(t, h.transition(StateReady))

	// Same-state transitions are no-ops.
	assert.NoError(t, h.transition(StateReady))

	err := h.transition(StateTerminated)
	assert.Error(t, err)
	assert.Equal(t, StateReady, h.State())
}

func TestHandle_FirstFailureWins(t *testing.T) {
	h := &Handle{state: StateReady, waitDone: make(chan struct{})}

	h.setFailure(ErrProcessCrashed)
	h.setFailure(ErrResourceLimitExceeded)

	assert.Equal(t, ErrProcessCrashed, h.Failure())
	assert.Equal(t, StateFailed, h.State())
}
