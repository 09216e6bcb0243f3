package executor

import (
	"time"

	"github.com/wardenlabs/warden/pkg/agent"
	"github.com/wardenlabs/warden/pkg/session"
)

// Outcome classifies how a task ended.
type Outcome string

const (
	// OutcomeSuccess means every tool call in the task completed.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means a tool call failed or a budget was exhausted.
	OutcomeFailure Outcome = "failure"

	// OutcomeTimeout means the task's deadline elapsed before it finished.
	OutcomeTimeout Outcome = "timeout"
)

// TaskDelegation describes one unit of work handed to an agent: an
// ordered list of tool calls executed sequentially against the agent's
// session.
type TaskDelegation struct {
	TaskID    string             `json:"task_id"`
	AgentID   agent.ID           `json:"agent_id"`
	AgentType agent.Type         `json:"agent_type,omitempty"`
	Objective string             `json:"objective"`
	Calls     []session.ToolCall `json:"calls"`

	// Timeout caps the whole task. Zero means the executor's
	// MaxTaskDuration applies alone.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxToolCalls overrides the executor's per-task call budget when
	// positive.
	MaxToolCalls int `json:"max_tool_calls,omitempty"`

	Priority int `json:"priority,omitempty"`
}

// TaskResult reports how a delegation went.
type TaskResult struct {
	TaskID        string        `json:"task_id"`
	AgentID       agent.ID      `json:"agent_id"`
	Outcome       Outcome       `json:"outcome"`
	ToolCallsUsed int           `json:"tool_calls_used"`
	Duration      time.Duration `json:"duration"`

	// Output concatenates the content of every completed tool call, in
	// call order.
	Output string `json:"output,omitempty"`

	// Err carries the terminal error for failure and timeout outcomes.
	Err error `json:"-"`
}
