package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/wardenlabs/warden/pkg/agent"
)

// maxLineBytes bounds a single inbound protocol line.
const maxLineBytes = 4 << 20

// outcome is what a pending request resolves to, exactly once.
type outcome struct {
	resp Response
	err  error
}

// Session is one agent's protocol channel to its tool-provider process.
// Outbound requests are serialized on the write side; a single reader
// goroutine resolves responses by correlation id.
type Session struct {
	id      string
	agentID agent.ID
	logger  zerolog.Logger
	timeout time.Duration

	stdin   io.WriteCloser
	writeMu sync.Mutex

	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan outcome
	closed  bool
	schemas map[string]*gojsonschema.Schema

	// onHeartbeat and onCrash hook the supervisor in without this
	// package importing its concrete type.
	onHeartbeat func()
	onCrash     func()
}

// newSession wires a session over arbitrary streams and starts its
// reader. Tests use in-memory pipes; the pool passes process pipes.
func newSession(agentID agent.ID, stdin io.WriteCloser, stdout io.Reader, timeout time.Duration, logger zerolog.Logger) *Session {
	s := &Session{
		id:      gonanoid.Must(),
		agentID: agentID,
		logger: logger.With().
			Str("component", "session").
			Str("agent_id", agentID.String()).
			Logger(),
		timeout: timeout,
		stdin:   stdin,
		pending: make(map[int64]chan outcome),
		schemas: make(map[string]*gojsonschema.Schema),
	}
	go s.readLoop(stdout)
	return s
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// AgentID returns the agent this session belongs to.
func (s *Session) AgentID() agent.ID { return s.agentID }

// readLoop is the session's only consumer of the inbound stream. It
// decodes one message per line and resolves the matching pending
// request; malformed or unmatched messages are dropped and logged.
func (s *Session) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed message")
			continue
		}

		if s.onHeartbeat != nil {
			s.onHeartbeat()
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()

		if !ok {
			// Either a late response whose caller already timed out, or
			// an id we never issued. Same treatment.
			s.logger.Debug().Int64("id", resp.ID).Msg("Dropping unmatched response")
			continue
		}
		ch <- outcome{resp: resp}
	}

	if err := scanner.Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Inbound stream error")
	}

	// EOF: the provider went away. Fail everything still waiting and
	// let the supervisor record the crash.
	crashed := s.shutdown(fmt.Errorf("%w: provider stream ended", ErrSessionClosed))
	if crashed && s.onCrash != nil {
		s.onCrash()
	}
}

// call issues one request and suspends until the correlated response,
// the per-request timeout, or context cancellation, whichever first.
// The pending entry is resolved exactly once in every path.
func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	id := s.nextID.Add(1)
	ch := make(chan outcome, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	req := Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		s.abandon(id)
		return nil, fmt.Errorf("encode request: %w", err)
	}

	s.writeMu.Lock()
	_, err = s.stdin.Write(append(data, '\n'))
	s.writeMu.Unlock()
	if err != nil {
		s.abandon(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return s.unpack(out)
	case <-timer.C:
		if s.abandon(id) {
			return nil, fmt.Errorf("%w: %s after %s", ErrToolCallTimeout, method, s.timeout)
		}
		// The reader resolved this id in the same instant; its outcome
		// is already buffered, so take it instead of reporting timeout.
		return s.unpack(<-ch)
	case <-ctx.Done():
		if s.abandon(id) {
			return nil, ctx.Err()
		}
		return s.unpack(<-ch)
	}
}

func (s *Session) unpack(out outcome) (json.RawMessage, error) {
	if out.err != nil {
		return nil, out.err
	}
	if out.resp.Error != nil {
		return nil, &ToolError{Code: out.resp.Error.Code, Message: out.resp.Error.Message}
	}
	return out.resp.Result, nil
}

// abandon removes the pending entry for id, reporting whether it was
// still registered. A false return means the reader (or shutdown) got
// there first and an outcome is already on its way.
func (s *Session) abandon(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}

// CallTool invokes a named tool on the provider. Arguments are checked
// against the tool's declared input schema before anything reaches the
// wire.
func (s *Session) CallTool(ctx context.Context, call ToolCall) (ToolResult, error) {
	if err := s.validateArguments(call); err != nil {
		return ToolResult{}, err
	}

	raw, err := s.call(ctx, "tools/call", toolCallParams{
		Name:      call.Name,
		Arguments: call.Arguments,
	})
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return ToolResult{Err: te}, err
		}
		return ToolResult{}, err
	}

	res, err := parseToolResult(raw)
	if err != nil {
		return ToolResult{}, err
	}
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func (s *Session) validateArguments(call ToolCall) error {
	s.mu.Lock()
	schema := s.schemas[call.Name]
	s.mu.Unlock()
	if schema == nil {
		return nil
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if !result.Valid() {
		return fmt.Errorf("%w: tool %s: %v", ErrInvalidArguments, call.Name, result.Errors())
	}
	return nil
}

// handshake negotiates the protocol version and loads the provider's
// tool schemas. Any failure here fails session creation before a tool
// call is ever attempted.
func (s *Session) handshake(ctx context.Context) error {
	raw, err := s.call(ctx, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: clientInfo{
			Name:    "warden",
			Version: "0.1.0",
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	var init initializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("%w: decode initialize result: %w", ErrHandshakeFailed, err)
	}
	if init.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: provider speaks %q, want %q",
			ErrHandshakeFailed, init.ProtocolVersion, ProtocolVersion)
	}

	s.loadToolSchemas(ctx)
	return nil
}

// loadToolSchemas fetches tools/list and compiles input schemas for
// client-side argument validation. Failures degrade to no validation.
func (s *Session) loadToolSchemas(ctx context.Context) {
	raw, err := s.call(ctx, "tools/list", nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("tools/list failed, skipping schema validation")
		return
	}

	var list toolListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		s.logger.Debug().Err(err).Msg("Undecodable tools/list result")
		return
	}

	compiled := make(map[string]*gojsonschema.Schema, len(list.Tools))
	for _, t := range list.Tools {
		if len(t.InputSchema) == 0 {
			continue
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.InputSchema))
		if err != nil {
			s.logger.Debug().Err(err).Str("tool", t.Name).Msg("Uncompilable input schema")
			continue
		}
		compiled[t.Name] = schema
	}

	s.mu.Lock()
	s.schemas = compiled
	s.mu.Unlock()

	s.logger.Debug().Int("tools", len(list.Tools)).Msg("Tool schemas loaded")
}

// shutdown closes the session, failing every outstanding request with
// err. Each pending entry resolves exactly once. Returns false if the
// session was already closed.
func (s *Session) shutdown(err error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	waiting := s.pending
	s.pending = make(map[int64]chan outcome)
	s.mu.Unlock()

	for _, ch := range waiting {
		ch <- outcome{err: err}
	}

	_ = s.stdin.Close()
	return true
}

// Closed reports whether the session has shut down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
