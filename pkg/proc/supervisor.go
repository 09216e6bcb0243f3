package proc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/pkg/agent"
)

// Config holds supervisor tunables.
type Config struct {
	MaxConcurrentProcesses int           `json:"max_concurrent_processes"`
	SpawnTimeout           time.Duration `json:"spawn_timeout"`
	HealthCheckInterval    time.Duration `json:"health_check_interval"`
	HeartbeatStaleAfter    time.Duration `json:"heartbeat_stale_after"`
	ShutdownGracePeriod    time.Duration `json:"shutdown_grace_period"`
}

// DefaultConfig returns the supervisor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentProcesses: 10,
		SpawnTimeout:           30 * time.Second,
		HealthCheckInterval:    5 * time.Second,
		HeartbeatStaleAfter:    2 * time.Minute,
		ShutdownGracePeriod:    10 * time.Second,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.MaxConcurrentProcesses <= 0 {
		return fmt.Errorf("max_concurrent_processes must be positive, got %d", c.MaxConcurrentProcesses)
	}
	if c.SpawnTimeout <= 0 {
		return fmt.Errorf("spawn_timeout must be positive, got %s", c.SpawnTimeout)
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health_check_interval must be positive, got %s", c.HealthCheckInterval)
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown_grace_period must be positive, got %s", c.ShutdownGracePeriod)
	}
	return nil
}

// SpawnConfig describes one process to bring up.
type SpawnConfig struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
	Limits  ResourceLimits
}

// Statistics are the supervisor's cumulative counters.
type Statistics struct {
	Spawned  uint64 `json:"spawned"`
	Active   int    `json:"active"`
	Crashed  uint64 `json:"crashed"`
	Breached uint64 `json:"breached"`
}

// Supervisor spawns and monitors agent processes, enforcing resource
// ceilings and detecting crashes and stale heartbeats.
type Supervisor struct {
	cfg     Config
	logger  zerolog.Logger
	sampler UsageSampler

	mu      sync.RWMutex
	handles map[agent.ID]*Handle

	statsMu  sync.Mutex
	spawned  uint64
	crashed  uint64
	breached uint64

	loopMu   sync.Mutex
	stop     chan struct{}
	loopDone chan struct{}
}

// NewSupervisor creates a supervisor. A nil sampler falls back to procfs
// where available, or disables usage sampling otherwise.
func NewSupervisor(cfg Config, logger zerolog.Logger, sampler UsageSampler) *Supervisor {
	if sampler == nil {
		if s, err := NewProcfsSampler(); err == nil {
			sampler = s
		} else {
			logger.Warn().Err(err).Msg("procfs unavailable, resource sampling disabled")
		}
	}
	return &Supervisor{
		cfg:     cfg,
		logger:  logger.With().Str("component", "supervisor").Logger(),
		sampler: sampler,
		handles: make(map[agent.ID]*Handle),
	}
}

// Spawn starts the configured command for an agent. It rejects spawns
// beyond the concurrent process ceiling and enforces at most one live
// handle per agent ID. The returned handle is in Starting state; the
// protocol layer marks it Ready after the handshake.
func (s *Supervisor) Spawn(ctx context.Context, agentID agent.ID, cfg SpawnConfig) (*Handle, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: no command configured", ErrSpawnFailed)
	}

	s.mu.Lock()
	if existing, ok := s.handles[agentID]; ok && !existing.State().Terminal() {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: agent %s already has a live process", ErrSpawnFailed, agentID)
	}
	live := 0
	for _, h := range s.handles {
		if !h.State().Terminal() {
			live++
		}
	}
	if live >= s.cfg.MaxConcurrentProcesses {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w (%d running)", ErrSpawnFailed, ErrTooManyProcesses, live)
	}

	// Reserve the slot before releasing the lock so concurrent spawns
	// cannot oversubscribe while this process starts up.
	h := &Handle{
		agentID:  agentID,
		state:    StateInitial,
		limits:   cfg.Limits,
		waitDone: make(chan struct{}),
	}
	s.handles[agentID] = h
	s.mu.Unlock()

	spawnCtx, cancel := context.WithTimeout(ctx, s.cfg.SpawnTimeout)
	defer cancel()

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.remove(agentID)
		return nil, fmt.Errorf("%w: stdin pipe: %w", ErrSpawnFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.remove(agentID)
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSpawnFailed, err)
	}

	if err := h.transition(StateStarting); err != nil {
		s.remove(agentID)
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	started := make(chan error, 1)
	go func() { started <- cmd.Start() }()

	select {
	case err := <-started:
		if err != nil {
			s.remove(agentID)
			return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, err)
		}
	case <-spawnCtx.Done():
		// Start may still win the race after the deadline; reap the
		// process so nothing is left running unsupervised.
		go func() {
			if err := <-started; err == nil {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
			}
		}()
		s.remove(agentID)
		return nil, fmt.Errorf("%w: %w", ErrSpawnFailed, spawnCtx.Err())
	}

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.startedAt = time.Now()
	h.stdin = stdin
	h.stdout = stdout
	h.lastHeartbeat = h.startedAt

	go func() {
		h.waitErr = cmd.Wait()
		close(h.waitDone)
	}()

	s.statsMu.Lock()
	s.spawned++
	s.statsMu.Unlock()

	s.logger.Info().
		Str("agent_id", agentID.String()).
		Int("pid", h.pid).
		Str("command", cfg.Command).
		Msg("Process spawned")

	return h, nil
}

// MarkReady moves an agent's process to Ready once its session handshake
// has completed.
func (s *Supervisor) MarkReady(agentID agent.ID) error {
	return s.mark(agentID, StateReady)
}

// MarkBusy moves an agent's process to Busy for the duration of a task.
func (s *Supervisor) MarkBusy(agentID agent.ID) error {
	return s.mark(agentID, StateBusy)
}

// MarkIdle returns an agent's process to Idle after a task.
func (s *Supervisor) MarkIdle(agentID agent.ID) error {
	return s.mark(agentID, StateIdle)
}

func (s *Supervisor) mark(agentID agent.ID, state State) error {
	h, ok := s.handle(agentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, agentID)
	}
	return h.transition(state)
}

// Heartbeat records a liveness touch for an agent's process.
func (s *Supervisor) Heartbeat(agentID agent.ID) {
	if h, ok := s.handle(agentID); ok {
		h.Heartbeat()
	}
}

// Check reports whether an agent's process can take work. Failures
// recorded by the health loop are surfaced here, to the next caller,
// rather than pushed eagerly.
func (s *Supervisor) Check(agentID agent.ID) error {
	h, ok := s.handle(agentID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, agentID)
	}
	if err := h.Failure(); err != nil {
		return err
	}
	switch h.State() {
	case StateInitial, StateStarting:
		return fmt.Errorf("%w: %s is still starting", ErrNotReady, agentID)
	case StateShuttingDown, StateTerminated:
		return fmt.Errorf("%w: %s is shut down", ErrNotReady, agentID)
	}
	if !h.Alive() {
		s.recordCrash(h, "process exited")
		return h.Failure()
	}
	return nil
}

// RecordCrash marks an agent's process as crashed. The protocol layer
// calls this when the stdout stream reaches EOF unexpectedly.
func (s *Supervisor) RecordCrash(agentID agent.ID) {
	if h, ok := s.handle(agentID); ok {
		s.recordCrash(h, "stream closed")
	}
}

func (s *Supervisor) recordCrash(h *Handle, reason string) {
	if h.Failure() != nil {
		return
	}
	h.setFailure(fmt.Errorf("%w: %s", ErrProcessCrashed, reason))

	s.statsMu.Lock()
	s.crashed++
	s.statsMu.Unlock()

	s.logger.Warn().
		Str("agent_id", h.agentID.String()).
		Int("pid", h.pid).
		Str("reason", reason).
		Msg("Process crashed")
}

// Terminate stops an agent's process: interrupt first, then kill after
// the grace period. Idempotent and safe on an already-dead handle.
func (s *Supervisor) Terminate(agentID agent.ID) error {
	h, ok := s.handle(agentID)
	if !ok {
		return nil
	}

	if !h.State().Terminal() {
		// Best effort; a crashed process already left ShuttingDown
		// unreachable and that is fine.
		_ = h.transition(StateShuttingDown)
	}

	s.stopProcess(h)

	_ = h.transition(StateTerminated)
	s.remove(agentID)

	s.logger.Info().
		Str("agent_id", agentID.String()).
		Int("pid", h.pid).
		Msg("Process terminated")

	return nil
}

// stopProcess delivers SIGINT, waits out the grace period, then kills.
func (s *Supervisor) stopProcess(h *Handle) {
	if h.cmd == nil || h.cmd.Process == nil || !h.Alive() {
		return
	}

	if err := h.cmd.Process.Signal(os.Interrupt); err == nil {
		select {
		case <-h.waitDone:
			return
		case <-time.After(s.cfg.ShutdownGracePeriod):
		}
	}

	_ = h.cmd.Process.Kill()
	select {
	case <-h.waitDone:
	case <-time.After(s.cfg.ShutdownGracePeriod):
		s.logger.Error().
			Str("agent_id", h.agentID.String()).
			Int("pid", h.pid).
			Msg("Process did not exit after kill")
	}
}

// TerminateAll terminates every managed process.
func (s *Supervisor) TerminateAll() {
	s.mu.RLock()
	ids := make([]agent.ID, 0, len(s.handles))
	for id := range s.handles {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		_ = s.Terminate(id)
	}
}

// Handle returns the live handle for an agent, if any.
func (s *Supervisor) Handle(agentID agent.ID) (*Handle, bool) {
	return s.handle(agentID)
}

// Info returns a snapshot of an agent's process, if one exists.
func (s *Supervisor) Info(agentID agent.ID) (Info, bool) {
	h, ok := s.handle(agentID)
	if !ok {
		return Info{}, false
	}
	return h.Snapshot(), true
}

// Statistics returns the supervisor's counters.
func (s *Supervisor) Statistics() Statistics {
	s.mu.RLock()
	active := 0
	for _, h := range s.handles {
		if !h.State().Terminal() {
			active++
		}
	}
	s.mu.RUnlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Statistics{
		Spawned:  s.spawned,
		Active:   active,
		Crashed:  s.crashed,
		Breached: s.breached,
	}
}

func (s *Supervisor) handle(agentID agent.ID) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handles[agentID]
	return h, ok
}

func (s *Supervisor) remove(agentID agent.ID) {
	s.mu.Lock()
	h, ok := s.handles[agentID]
	delete(s.handles, agentID)
	s.mu.Unlock()

	if ok && h.pid > 0 {
		if f, fok := s.sampler.(interface{ Forget(pid int) }); fok {
			f.Forget(h.pid)
		}
	}
}
