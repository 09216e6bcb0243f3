package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wardenlabs/warden/internal/metrics"
	"github.com/wardenlabs/warden/pkg/agent"
	"github.com/wardenlabs/warden/pkg/executor"
	"github.com/wardenlabs/warden/pkg/proc"
	"github.com/wardenlabs/warden/pkg/session"
)

// Runtime is the coordination layer: it owns the process supervisor,
// the session pool, and the task executor, and exposes agent lifecycle
// and task execution as one surface.
type Runtime struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics

	sup  *proc.Supervisor
	pool *session.Pool
	exec *executor.Executor
	reg  *registry

	mu        sync.Mutex
	state     State
	startedAt time.Time

	tasksMu       sync.Mutex
	tasksExecuted uint64
	tasksFailed   uint64
	spawned       uint64

	inflight sync.WaitGroup
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger. The default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithMetrics attaches a metrics registry to every layer.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// New assembles a runtime from configuration. The returned runtime is
// idle until Start is called.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime config: %w", err)
	}

	r := &Runtime{
		cfg:    cfg,
		logger: zerolog.Nop(),
		state:  StateInitializing,
		reg:    newRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "runtime").Logger()

	r.sup = proc.NewSupervisor(cfg.Process, r.logger, nil)
	poolCfg := cfg.Session
	poolCfg.Limits = cfg.Limits
	r.pool = session.NewPool(poolCfg, r.sup, r.logger, r.metrics)
	r.exec = executor.New(cfg.Executor, r.sup, r.pool, r.logger, r.metrics)

	return r, nil
}

// Start begins health monitoring and opens the runtime for work.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateInitializing {
		return fmt.Errorf("runtime already started (state %s)", r.state)
	}
	r.sup.Start()
	r.state = StateRunning
	r.startedAt = time.Now()
	r.logger.Info().Msg("Runtime started")
	return nil
}

// SpawnAgent brings up a new agent of the given type: a fresh provider
// process, a handshaken session, and a registry record. Extra
// capability tags are appended to the type's defaults; an empty name
// defaults to the type.
func (r *Runtime) SpawnAgent(ctx context.Context, name string, t agent.Type, tags ...agent.Capability) (AgentInfo, error) {
	if !t.Valid() {
		return AgentInfo{}, fmt.Errorf("%w: unknown agent type %q", proc.ErrSpawnFailed, t)
	}
	if err := r.requireRunning(); err != nil {
		return AgentInfo{}, err
	}
	if name == "" {
		name = t.String()
	}

	id := agent.NewID()
	if _, err := r.pool.GetOrCreate(ctx, id); err != nil {
		if !errors.Is(err, proc.ErrSpawnFailed) {
			err = fmt.Errorf("%w: %w", proc.ErrSpawnFailed, err)
		}
		return AgentInfo{}, err
	}

	rec := &AgentRecord{
		ID:           id,
		Name:         name,
		Type:         t,
		Capabilities: append(agent.DefaultCapabilities(t), tags...),
		SpawnedAt:    time.Now(),
	}
	r.reg.add(rec)

	r.tasksMu.Lock()
	r.spawned++
	r.tasksMu.Unlock()

	if r.metrics != nil {
		r.metrics.AgentsSpawnedTotal.Inc()
		r.metrics.AgentsActive.Set(float64(r.reg.count()))
	}

	r.logger.Info().
		Str("agent_id", id.String()).
		Str("agent_name", name).
		Str("agent_type", t.String()).
		Msg("Agent spawned")

	return r.info(rec), nil
}

// FindOrSpawnAgent returns a ready agent of the given type, spawning
// one only when no existing agent of that type can accept work.
func (r *Runtime) FindOrSpawnAgent(ctx context.Context, t agent.Type) (AgentInfo, error) {
	for _, id := range r.reg.byType(t) {
		if r.sup.Check(id) == nil {
			if rec, ok := r.reg.get(id); ok {
				return r.info(rec), nil
			}
		}
	}
	return r.SpawnAgent(ctx, "", t)
}

// ExecuteTask runs one delegation, respawning the agent and retrying
// when recovery is enabled and the failure looks like a dead or stale
// process.
func (r *Runtime) ExecuteTask(ctx context.Context, d executor.TaskDelegation) (executor.TaskResult, error) {
	if err := r.requireRunning(); err != nil {
		return executor.TaskResult{}, err
	}
	r.inflight.Add(1)
	defer r.inflight.Done()

	if rec, ok := r.reg.get(d.AgentID); ok && d.AgentType == "" {
		d.AgentType = rec.Type
	}

	res, err := r.exec.ExecuteTask(ctx, d)
	attempts := 0
	for err != nil && r.shouldRetry(ctx, d.AgentID, err, attempts) {
		attempts++
		r.logger.Warn().Err(err).
			Str("task_id", d.TaskID).
			Str("agent_id", d.AgentID.String()).
			Int("attempt", attempts).
			Msg("Respawning agent and retrying task")

		if rerr := r.respawn(ctx, d.AgentID); rerr != nil {
			err = fmt.Errorf("respawn after %v: %w", err, rerr)
			break
		}
		res, err = r.exec.ExecuteTask(ctx, d)
	}

	r.tasksMu.Lock()
	r.tasksExecuted++
	if err != nil {
		r.tasksFailed++
	}
	r.tasksMu.Unlock()

	return res, err
}

// ExecuteTasksParallel fans delegations out through the executor. Tasks
// do not get the single-task retry treatment; callers wanting recovery
// retry individual failures themselves.
func (r *Runtime) ExecuteTasksParallel(ctx context.Context, tasks []executor.TaskDelegation) ([]executor.TaskResult, error) {
	if err := r.requireRunning(); err != nil {
		return nil, err
	}
	r.inflight.Add(1)
	defer r.inflight.Done()

	results := r.exec.ExecuteTasksParallel(ctx, tasks)

	r.tasksMu.Lock()
	for _, res := range results {
		r.tasksExecuted++
		if res.Outcome != executor.OutcomeSuccess {
			r.tasksFailed++
		}
	}
	r.tasksMu.Unlock()

	return results, nil
}

// shouldRetry decides whether a task failure warrants a respawn. Only
// process-death classes of error qualify; tool failures, timeouts, and
// budget exhaustion are final.
func (r *Runtime) shouldRetry(ctx context.Context, id agent.ID, err error, attempts int) bool {
	if !r.cfg.Recovery.Enabled || attempts >= r.cfg.Recovery.MaxRestartAttempts {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	if _, ok := r.reg.get(id); !ok {
		return false
	}
	return errors.Is(err, proc.ErrProcessCrashed) ||
		errors.Is(err, session.ErrSessionClosed) ||
		errors.Is(err, executor.ErrAgentNotReady)
}

// respawn replaces an agent's process and session, keeping its identity
// and registry record.
func (r *Runtime) respawn(ctx context.Context, id agent.ID) error {
	_ = r.pool.Close(id)
	if _, err := r.pool.GetOrCreate(ctx, id); err != nil {
		return err
	}
	r.reg.bumpRestarts(id)
	if r.metrics != nil {
		r.metrics.ProcessRestartsTotal.Inc()
	}
	return nil
}

// TerminateAgent shuts an agent down and forgets it.
func (r *Runtime) TerminateAgent(id agent.ID) error {
	if _, ok := r.reg.get(id); !ok {
		return fmt.Errorf("%w: %s", proc.ErrProcessNotFound, id)
	}
	err := r.pool.Close(id)
	r.reg.remove(id)
	if r.metrics != nil {
		r.metrics.AgentsActive.Set(float64(r.reg.count()))
	}
	r.logger.Info().Str("agent_id", id.String()).Msg("Agent terminated")
	return err
}

// Agent returns a point-in-time view of one agent.
func (r *Runtime) Agent(id agent.ID) (AgentInfo, bool) {
	rec, ok := r.reg.get(id)
	if !ok {
		return AgentInfo{}, false
	}
	return r.info(rec), true
}

// Agents returns a view of every registered agent.
func (r *Runtime) Agents() []AgentInfo {
	ids := r.reg.ids()
	infos := make([]AgentInfo, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.reg.get(id); ok {
			infos = append(infos, r.info(rec))
		}
	}
	return infos
}

func (r *Runtime) info(rec *AgentRecord) AgentInfo {
	info := AgentInfo{
		ID:           rec.ID,
		Name:         rec.Name,
		Type:         rec.Type,
		Capabilities: rec.Capabilities,
		SpawnedAt:    rec.SpawnedAt,
		Restarts:     rec.Restarts,
	}
	if pi, ok := r.sup.Info(rec.ID); ok {
		info.State = pi.State
		info.PID = pi.PID
	} else {
		info.State = proc.StateTerminated
	}
	return info
}

// Shutdown drains in-flight tasks up to the shutdown grace period, then
// tears everything down. It is safe to call once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return fmt.Errorf("runtime not running (state %s)", r.state)
	}
	r.state = StateShuttingDown
	r.mu.Unlock()

	r.logger.Info().Msg("Runtime shutting down")

	drained := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(drained)
	}()

	grace := time.NewTimer(r.cfg.Process.ShutdownGracePeriod)
	defer grace.Stop()
	select {
	case <-drained:
	case <-grace.C:
		r.logger.Warn().Msg("Shutdown grace period elapsed with tasks in flight")
	case <-ctx.Done():
		r.logger.Warn().Msg("Shutdown context cancelled with tasks in flight")
	}

	r.sup.Stop()
	r.pool.CloseAll()
	r.sup.TerminateAll()

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.AgentsActive.Set(0)
	}
	r.logger.Info().Msg("Runtime stopped")
	return nil
}

// State returns the runtime's lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Statistics returns a snapshot of the runtime's counters and those of
// its layers.
func (r *Runtime) Statistics() Statistics {
	r.mu.Lock()
	state := r.state
	started := r.startedAt
	r.mu.Unlock()

	r.tasksMu.Lock()
	executed := r.tasksExecuted
	failed := r.tasksFailed
	spawned := r.spawned
	r.tasksMu.Unlock()

	var uptime float64
	if !started.IsZero() {
		uptime = time.Since(started).Seconds()
	}

	return Statistics{
		State:              state,
		TotalAgentsSpawned: spawned,
		ActiveAgents:       r.reg.count(),
		TotalTasksExecuted: executed,
		TotalTasksFailed:   failed,
		UptimeSeconds:      uptime,
		Process:            r.sup.Statistics(),
		Executor:           r.exec.Statistics(),
	}
}

func (r *Runtime) requireRunning() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return fmt.Errorf("runtime not running (state %s)", r.state)
	}
	return nil
}
