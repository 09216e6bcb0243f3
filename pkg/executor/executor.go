package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/metrics"
	"github.com/wardenlabs/warden/pkg/agent"
	"github.com/wardenlabs/warden/pkg/proc"
	"github.com/wardenlabs/warden/pkg/session"
)

// ProcessChecker is the slice of the supervisor the executor needs:
// readiness checks and the busy/idle bracket around a task.
type ProcessChecker interface {
	Check(id agent.ID) error
	MarkBusy(id agent.ID) error
	MarkIdle(id agent.ID) error
}

// SessionProvider is the slice of the session pool the executor needs.
type SessionProvider interface {
	Ensure(ctx context.Context, id agent.ID) error
	CallTool(ctx context.Context, id agent.ID, call session.ToolCall) (session.ToolResult, error)
}

// Config holds executor tunables.
type Config struct {
	// MaxTaskDuration caps any task regardless of its own Timeout.
	MaxTaskDuration time.Duration `json:"max_task_duration"`

	// MaxToolCallsPerTask is the default per-task call budget.
	MaxToolCallsPerTask int `json:"max_tool_calls_per_task"`

	// MaxParallelTasks bounds concurrent tasks in ExecuteTasksParallel.
	MaxParallelTasks int `json:"max_parallel_tasks"`
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxTaskDuration:     5 * time.Minute,
		MaxToolCallsPerTask: 100,
		MaxParallelTasks:    4,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.MaxTaskDuration <= 0 {
		return fmt.Errorf("max_task_duration must be positive, got %s", c.MaxTaskDuration)
	}
	if c.MaxToolCallsPerTask <= 0 {
		return fmt.Errorf("max_tool_calls_per_task must be positive, got %d", c.MaxToolCallsPerTask)
	}
	if c.MaxParallelTasks <= 0 {
		return fmt.Errorf("max_parallel_tasks must be positive, got %d", c.MaxParallelTasks)
	}
	return nil
}

// Statistics are the executor's cumulative counters.
type Statistics struct {
	Executed  uint64 `json:"executed"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timed_out"`
	ToolCalls uint64 `json:"tool_calls"`
}

// Executor runs task delegations against agents: it brackets each task
// with the agent's busy/idle state and enforces the task's deadline and
// tool-call budget.
type Executor struct {
	cfg      Config
	procs    ProcessChecker
	sessions SessionProvider
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	statsMu sync.Mutex
	stats   Statistics
}

// New creates an executor. Metrics may be nil.
func New(cfg Config, procs ProcessChecker, sessions SessionProvider, logger zerolog.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		cfg:      cfg,
		procs:    procs,
		sessions: sessions,
		logger:   logger.With().Str("component", "executor").Logger(),
		metrics:  m,
	}
}

// ExecuteTask runs one delegation to completion. The agent must be
// managed and ready; calls run sequentially, each checked against the
// remaining budget before it is sent.
func (e *Executor) ExecuteTask(ctx context.Context, d TaskDelegation) (TaskResult, error) {
	started := time.Now()

	if err := e.verify(ctx, d.AgentID); err != nil {
		return e.finish(d, started, OutcomeFailure, 0, "", err)
	}

	if err := e.procs.MarkBusy(d.AgentID); err != nil {
		return e.finish(d, started, OutcomeFailure, 0, "", fmt.Errorf("%w: %v", ErrAgentNotReady, err))
	}
	defer func() {
		if err := e.procs.MarkIdle(d.AgentID); err != nil {
			e.logger.Debug().Err(err).
				Str("agent_id", d.AgentID.String()).
				Msg("Could not return agent to idle")
		}
	}()

	deadline := e.cfg.MaxTaskDuration
	if d.Timeout > 0 && d.Timeout < deadline {
		deadline = d.Timeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	budget := e.cfg.MaxToolCallsPerTask
	if d.MaxToolCalls > 0 {
		budget = d.MaxToolCalls
	}

	e.logger.Info().
		Str("task_id", d.TaskID).
		Str("agent_id", d.AgentID.String()).
		Int("calls", len(d.Calls)).
		Dur("deadline", deadline).
		Msg("Task started")

	var output string
	used := 0
	for _, call := range d.Calls {
		// The budget is checked before the call leaves the process. A
		// delegation that would need call N+1 against a budget of N fails
		// without that call ever reaching the wire.
		if used >= budget {
			err := fmt.Errorf("%w: tool call budget of %d exhausted", proc.ErrResourceLimitExceeded, budget)
			return e.finish(d, started, OutcomeFailure, used, output, err)
		}

		res, err := e.callTool(taskCtx, d.AgentID, call)
		used++
		if err != nil {
			if taskCtx.Err() != nil && ctx.Err() == nil {
				err = fmt.Errorf("%w: after %d calls", ErrTaskTimeout, used)
				return e.finish(d, started, OutcomeTimeout, used, output, err)
			}
			return e.finish(d, started, OutcomeFailure, used, output, err)
		}
		output += res.Content
	}

	return e.finish(d, started, OutcomeSuccess, used, output, nil)
}

func (e *Executor) callTool(ctx context.Context, id agent.ID, call session.ToolCall) (session.ToolResult, error) {
	started := time.Now()
	res, err := e.sessions.CallTool(ctx, id, call)

	e.statsMu.Lock()
	e.stats.ToolCalls++
	e.statsMu.Unlock()

	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.ToolCallsTotal.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolCallDuration.WithLabelValues(call.Name).Observe(time.Since(started).Seconds())
	}
	return res, err
}

// verify maps supervisor readiness errors onto the executor's taxonomy
// and ensures the agent has a live session.
func (e *Executor) verify(ctx context.Context, id agent.ID) error {
	if err := e.procs.Check(id); err != nil {
		switch {
		case errors.Is(err, proc.ErrProcessNotFound):
			return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
		case errors.Is(err, proc.ErrNotReady):
			return fmt.Errorf("%w: %v", ErrAgentNotReady, err)
		default:
			return err
		}
	}
	return e.sessions.Ensure(ctx, id)
}

func (e *Executor) finish(d TaskDelegation, started time.Time, outcome Outcome, used int, output string, err error) (TaskResult, error) {
	duration := time.Since(started)

	e.statsMu.Lock()
	e.stats.Executed++
	switch outcome {
	case OutcomeSuccess:
		e.stats.Succeeded++
	case OutcomeTimeout:
		e.stats.TimedOut++
	default:
		e.stats.Failed++
	}
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.TasksExecutedTotal.WithLabelValues(string(d.AgentType), string(outcome)).Inc()
		e.metrics.TaskDuration.WithLabelValues(string(d.AgentType)).Observe(duration.Seconds())
	}

	evt := e.logger.Info()
	if outcome != OutcomeSuccess {
		evt = e.logger.Warn().Err(err)
	}
	evt.Str("task_id", d.TaskID).
		Str("agent_id", d.AgentID.String()).
		Str("outcome", string(outcome)).
		Int("tool_calls", used).
		Dur("duration", duration).
		Msg("Task finished")

	return TaskResult{
		TaskID:        d.TaskID,
		AgentID:       d.AgentID,
		Outcome:       outcome,
		ToolCallsUsed: used,
		Duration:      duration,
		Output:        output,
		Err:           err,
	}, err
}

// Statistics returns a snapshot of the executor's counters.
func (e *Executor) Statistics() Statistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}
