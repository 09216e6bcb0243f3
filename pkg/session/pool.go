package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/wardenlabs/warden/internal/metrics"
	"github.com/wardenlabs/warden/pkg/agent"
	"github.com/wardenlabs/warden/pkg/proc"
)

// Config holds pool tunables and the tool-provider launch line. The
// provider binary is started in stdio protocol mode; everything after
// launch is newline-delimited JSON-RPC on its stdin/stdout.
type Config struct {
	Command        string              `json:"command"`
	Args           []string            `json:"args"`
	Env            []string            `json:"env"`
	RequestTimeout time.Duration       `json:"request_timeout"`
	Limits         proc.ResourceLimits `json:"limits"`
}

// DefaultConfig returns pool defaults. The command must still be set by
// the caller.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		Limits:         proc.DefaultLimits(),
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("provider command is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Pool owns one session per agent. Session creation spawns the agent's
// dedicated tool-provider process through the supervisor and performs
// the version handshake before the session is handed out.
type Pool struct {
	cfg     Config
	sup     *proc.Supervisor
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[agent.ID]*Session
	flight   singleflight.Group
}

// NewPool creates a session pool on top of a supervisor. Metrics may be
// nil.
func NewPool(cfg Config, sup *proc.Supervisor, logger zerolog.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		cfg:      cfg,
		sup:      sup,
		logger:   logger.With().Str("component", "session-pool").Logger(),
		metrics:  m,
		sessions: make(map[agent.ID]*Session),
	}
}

// GetOrCreate returns the agent's session, creating it on first use.
// Concurrent callers for the same agent share one creation; the
// supervisor never sees two spawns racing for one agent ID.
func (p *Pool) GetOrCreate(ctx context.Context, agentID agent.ID) (*Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[agentID]; ok && !s.Closed() {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	v, err, _ := p.flight.Do(agentID.String(), func() (any, error) {
		// A caller that lost the race may arrive after the winner
		// finished; hand it the session the winner made.
		p.mu.Lock()
		s, ok := p.sessions[agentID]
		p.mu.Unlock()
		if ok && !s.Closed() {
			return s, nil
		}
		return p.create(ctx, agentID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (p *Pool) create(ctx context.Context, agentID agent.ID) (*Session, error) {
	h, err := p.sup.Spawn(ctx, agentID, proc.SpawnConfig{
		Command: p.cfg.Command,
		Args:    p.cfg.Args,
		Env:     p.cfg.Env,
		Limits:  p.cfg.Limits,
	})
	if err != nil {
		return nil, err
	}

	s := newSession(agentID, h.Stdin(), h.Stdout(), p.cfg.RequestTimeout, p.logger)
	s.onHeartbeat = func() { p.sup.Heartbeat(agentID) }
	s.onCrash = func() { p.sup.RecordCrash(agentID) }

	if err := s.handshake(ctx); err != nil {
		s.shutdown(ErrSessionClosed)
		_ = p.sup.Terminate(agentID)
		return nil, err
	}

	if err := p.sup.MarkReady(agentID); err != nil {
		s.shutdown(ErrSessionClosed)
		_ = p.sup.Terminate(agentID)
		return nil, err
	}

	p.mu.Lock()
	p.sessions[agentID] = s
	active := len(p.sessions)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.SessionsTotal.Inc()
		p.metrics.SessionsActive.Set(float64(active))
	}

	p.logger.Info().
		Str("agent_id", agentID.String()).
		Str("session_id", s.ID()).
		Msg("Session established")

	return s, nil
}

// Ensure creates the agent's session if it does not exist yet.
func (p *Pool) Ensure(ctx context.Context, agentID agent.ID) error {
	_, err := p.GetOrCreate(ctx, agentID)
	return err
}

// CallTool routes a tool call to the agent's session. The session must
// already exist; callers go through Ensure or GetOrCreate first.
func (p *Pool) CallTool(ctx context.Context, agentID agent.ID, call ToolCall) (ToolResult, error) {
	p.mu.Lock()
	s, ok := p.sessions[agentID]
	p.mu.Unlock()
	if !ok || s.Closed() {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrNoSession, agentID)
	}
	return s.CallTool(ctx, call)
}

// Close tears down an agent's session: outstanding requests fail with
// ErrSessionClosed and the provider process is released.
func (p *Pool) Close(agentID agent.ID) error {
	p.mu.Lock()
	s, ok := p.sessions[agentID]
	if ok {
		delete(p.sessions, agentID)
	}
	active := len(p.sessions)
	p.mu.Unlock()

	if ok {
		s.shutdown(ErrSessionClosed)
		if p.metrics != nil {
			p.metrics.SessionsActive.Set(float64(active))
		}
	}
	return p.sup.Terminate(agentID)
}

// CloseAll tears down every session in the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	ids := make([]agent.ID, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		_ = p.Close(id)
	}
}

// Count returns the number of open sessions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
