package proc

import "time"

// ResourceLimits are the ceilings enforced on one agent process. A zero
// value disables enforcement for that dimension.
type ResourceLimits struct {
	MaxMemoryBytes      uint64        `json:"max_memory_bytes"`
	CPUPercent          float64       `json:"cpu_percent"`
	MaxTaskDuration     time.Duration `json:"max_task_duration"`
	MaxToolCallsPerTask int           `json:"max_tool_calls_per_task"`
	MaxOpenFiles        uint64        `json:"max_open_files"`
}

// DefaultLimits returns the limits applied when the caller supplies none.
func DefaultLimits() ResourceLimits {
	return ResourceLimits{
		MaxMemoryBytes:      512 << 20, // 512 MiB
		CPUPercent:          80,
		MaxTaskDuration:     5 * time.Minute,
		MaxToolCallsPerTask: 100,
		MaxOpenFiles:        256,
	}
}

// Usage is a point-in-time resource sample for one process.
type Usage struct {
	MemoryBytes uint64    `json:"memory_bytes"`
	CPUPercent  float64   `json:"cpu_percent"`
	OpenFiles   uint64    `json:"open_files"`
	SampledAt   time.Time `json:"sampled_at"`
}
