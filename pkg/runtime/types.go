package runtime

import (
	"time"

	"github.com/wardenlabs/warden/pkg/agent"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/proc"
)

// State is the runtime's own lifecycle.
type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// AgentRecord is the runtime's bookkeeping for one spawned agent.
type AgentRecord struct {
	ID           agent.ID
	Name         string
	Type         agent.Type
	Capabilities []agent.Capability
	SpawnedAt    time.Time
	Restarts     int
}

// AgentInfo is a point-in-time view of an agent, combining the registry
// record with the supervisor's process state.
type AgentInfo struct {
	ID           agent.ID           `json:"id"`
	Name         string             `json:"name"`
	Type         agent.Type         `json:"type"`
	Capabilities []agent.Capability `json:"capabilities"`
	State        proc.State         `json:"state"`
	SpawnedAt    time.Time          `json:"spawned_at"`
	Restarts     int                `json:"restarts"`
	PID          int                `json:"pid,omitempty"`
}

// Statistics aggregates the runtime's counters with those of its
// supervisor and executor.
type Statistics struct {
	State              State               `json:"state"`
	TotalAgentsSpawned uint64              `json:"total_agents_spawned"`
	ActiveAgents       int                 `json:"active_agents"`
	TotalTasksExecuted uint64              `json:"total_tasks_executed"`
	TotalTasksFailed   uint64              `json:"total_tasks_failed"`
	UptimeSeconds      float64             `json:"uptime_seconds"`
	Process            proc.Statistics     `json:"process"`
	Executor           executor.Statistics `json:"executor"`
}
