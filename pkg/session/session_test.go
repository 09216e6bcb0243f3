package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/agent"
)

// fakeProvider drives the provider side of a session over in-memory
// pipes. The handler returns the raw response line for each request, or
// "" to swallow it.
type fakeProvider struct {
	t       *testing.T
	session *Session

	reqR  *io.PipeReader
	respW *io.PipeWriter

	mu   sync.Mutex
	seen []Request
}

func newFakeProvider(t *testing.T, timeout time.Duration, handler func(req Request) string) *fakeProvider {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	p := &fakeProvider{
		t:     t,
		reqR:  reqR,
		respW: respW,
	}
	p.session = newSession(agent.NewID(), reqW, respR, timeout, zerolog.Nop())

	go func() {
		scanner := bufio.NewScanner(reqR)
		for scanner.Scan() {
			var req Request
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			p.mu.Lock()
			p.seen = append(p.seen, req)
			p.mu.Unlock()

			if line := handler(req); line != "" {
				_, _ = respW.Write([]byte(line + "\n"))
			}
		}
	}()

	t.Cleanup(func() {
		p.session.shutdown(ErrSessionClosed)
		_ = reqR.Close()
		_ = respW.Close()
	})
	return p
}

func (p *fakeProvider) requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.seen...)
}

// eof closes the provider's outbound stream, simulating a crash.
func (p *fakeProvider) eof() {
	_ = p.respW.Close()
}

func textResult(id int64, text string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":%q}]}}`, id, text)
}

func errorResult(id int64, text string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[{"type":"text","text":%q}],"isError":true}}`, id, text)
}

func TestSession_CallToolRoundTrip(t *testing.T) {
	p := newFakeProvider(t, time.Second, func(req Request) string {
		return textResult(req.ID, "pong")
	})

	res, err := p.session.CallTool(context.Background(), ToolCall{Name: "ping"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "pong", res.Content)

	reqs := p.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "tools/call", reqs[0].Method)
	assert.Equal(t, "2.0", reqs[0].JSONRPC)
}

func TestSession_OutOfOrderResponses(t *testing.T) {
	// Answer the first request late so the second response arrives first.
	var p *fakeProvider
	p = newFakeProvider(t, 5*time.Second, func(req Request) string {
		if req.ID == 1 {
			go func(id int64) {
				time.Sleep(100 * time.Millisecond)
				_, _ = p.respW.Write([]byte(textResult(id, "first") + "\n"))
			}(req.ID)
			return ""
		}
		return textResult(req.ID, "second")
	})

	var wg sync.WaitGroup
	results := make([]ToolResult, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.session.CallTool(context.Background(), ToolCall{Name: "slow"})
			require.NoError(t, err)
			results[i] = res
		}(i)
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, "first", results[0].Content)
	assert.Equal(t, "second", results[1].Content)
}

func TestSession_TimeoutDiscardsLateResponse(t *testing.T) {
	var p *fakeProvider
	p = newFakeProvider(t, 50*time.Millisecond, func(req Request) string {
		if req.ID == 1 {
			go func(id int64) {
				time.Sleep(200 * time.Millisecond)
				_, _ = p.respW.Write([]byte(textResult(id, "too late") + "\n"))
			}(req.ID)
			return ""
		}
		return textResult(req.ID, "on time")
	})

	_, err := p.session.CallTool(context.Background(), ToolCall{Name: "slow"})
	assert.ErrorIs(t, err, ErrToolCallTimeout)

	// The late response for id 1 must not leak into the next call.
	time.Sleep(250 * time.Millisecond)
	res, err := p.session.CallTool(context.Background(), ToolCall{Name: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "on time", res.Content)
}

func TestSession_ContextCancellation(t *testing.T) {
	p := newFakeProvider(t, 5*time.Second, func(Request) string {
		return ""
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := p.session.CallTool(ctx, ToolCall{Name: "never"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_MalformedLinesAreDropped(t *testing.T) {
	var p *fakeProvider
	p = newFakeProvider(t, time.Second, func(req Request) string {
		// Garbage first, then the real answer.
		_, _ = p.respW.Write([]byte("{not json\n"))
		_, _ = p.respW.Write([]byte("\n"))
		return textResult(req.ID, "ok")
	})

	res, err := p.session.CallTool(context.Background(), ToolCall{Name: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
}

func TestSession_EOFFailsPendingCalls(t *testing.T) {
	var crashed bool
	p := newFakeProvider(t, 5*time.Second, func(Request) string {
		return ""
	})
	p.session.onCrash = func() { crashed = true }

	done := make(chan error, 1)
	go func() {
		_, err := p.session.CallTool(context.Background(), ToolCall{Name: "hang"})
		done <- err
	}()

	// Let the request get registered, then kill the stream.
	time.Sleep(30 * time.Millisecond)
	p.eof()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call did not fail on EOF")
	}

	assert.True(t, crashed)
	assert.True(t, p.session.Closed())

	_, err := p.session.CallTool(context.Background(), ToolCall{Name: "after"})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_ProviderErrorBecomesToolError(t *testing.T) {
	p := newFakeProvider(t, time.Second, func(req Request) string {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
	})

	res, err := p.session.CallTool(context.Background(), ToolCall{Name: "missing"})
	require.Error(t, err)

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, -32601, te.Code)
	assert.Equal(t, te, res.Err)
}

func TestSession_ToolLevelErrorResult(t *testing.T) {
	p := newFakeProvider(t, time.Second, func(req Request) string {
		return errorResult(req.ID, "disk full")
	})

	res, err := p.session.CallTool(context.Background(), ToolCall{Name: "write"})
	require.Error(t, err)
	assert.False(t, res.OK)
	require.NotNil(t, res.Err)
	assert.Contains(t, res.Err.Message, "disk full")
}

func handshakeHandler(version string) func(req Request) string {
	return func(req Request) string {
		switch req.Method {
		case "initialize":
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":%q,"serverInfo":{"name":"fake","version":"0"}}}`, req.ID, version)
		case "tools/list":
			return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"echo","inputSchema":{"type":"object","properties":{"message":{"type":"string"}},"required":["message"]}}]}}`, req.ID)
		default:
			return textResult(req.ID, "ok")
		}
	}
}

func TestSession_Handshake(t *testing.T) {
	p := newFakeProvider(t, time.Second, handshakeHandler(ProtocolVersion))

	err := p.session.handshake(context.Background())
	require.NoError(t, err)

	reqs := p.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "initialize", reqs[0].Method)
	assert.Equal(t, "tools/list", reqs[1].Method)
}

func TestSession_HandshakeVersionMismatch(t *testing.T) {
	p := newFakeProvider(t, time.Second, handshakeHandler("1999-01-01"))

	err := p.session.handshake(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeFailed)
}

func TestSession_SchemaValidationRejectsBadArguments(t *testing.T) {
	p := newFakeProvider(t, time.Second, handshakeHandler(ProtocolVersion))
	require.NoError(t, p.session.handshake(context.Background()))
	before := len(p.requests())

	_, err := p.session.CallTool(context.Background(), ToolCall{Name: "echo"})
	assert.ErrorIs(t, err, ErrInvalidArguments)

	// The rejected call never reached the wire.
	assert.Len(t, p.requests(), before)

	res, err := p.session.CallTool(context.Background(), ToolCall{
		Name:      "echo",
		Arguments: map[string]any{"message": "hi"},
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestSession_UnknownToolSkipsValidation(t *testing.T) {
	p := newFakeProvider(t, time.Second, handshakeHandler(ProtocolVersion))
	require.NoError(t, p.session.handshake(context.Background()))

	// No schema on record for this name; arguments pass through as-is.
	res, err := p.session.CallTool(context.Background(), ToolCall{Name: "mystery"})
	require.NoError(t, err)
	assert.True(t, res.OK)
}
