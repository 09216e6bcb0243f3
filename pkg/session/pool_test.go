package session

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenlabs/warden/pkg/agent"
	"github.com/wardenlabs/warden/pkg/proc"
)

// TestHelperProvider is not a real test: the pool tests re-run the test
// binary with this test selected to get a working stdio provider.
func TestHelperProvider(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROVIDER") != "1" {
		return
	}

	version := ProtocolVersion
	if v := os.Getenv("HELPER_PROTOCOL_VERSION"); v != "" {
		version = v
	}

	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), maxLineBytes)
	enc := json.NewEncoder(os.Stdout)

	for in.Scan() {
		var req Request
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			continue
		}

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{
				"protocolVersion": version,
				"serverInfo":      map[string]string{"name": "helper", "version": "0"},
			}
		case "tools/list":
			result = map[string]any{
				"tools": []map[string]any{{"name": "ping"}},
			}
		case "tools/call":
			result = map[string]any{
				"content": []map[string]string{{"type": "text", "text": "pong"}},
			}
		default:
			continue
		}
		_ = enc.Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: mustRaw(result)})
	}
	os.Exit(0)
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func helperPool(t *testing.T, env ...string) (*Pool, *proc.Supervisor) {
	t.Helper()

	supCfg := proc.DefaultConfig()
	supCfg.ShutdownGracePeriod = 2 * time.Second
	sup := proc.NewSupervisor(supCfg, zerolog.Nop(), nil)

	cfg := DefaultConfig()
	cfg.Command = os.Args[0]
	cfg.Args = []string{"-test.run=TestHelperProvider"}
	cfg.Env = append([]string{"GO_WANT_HELPER_PROVIDER=1"}, env...)
	cfg.RequestTimeout = 5 * time.Second

	pool := NewPool(cfg, sup, zerolog.Nop(), nil)
	t.Cleanup(func() {
		pool.CloseAll()
		sup.TerminateAll()
	})
	return pool, sup
}

func TestPool_GetOrCreateAndCallTool(t *testing.T) {
	pool, sup := helperPool(t)
	id := agent.NewID()

	s, err := pool.GetOrCreate(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, pool.Count())

	// The handshake completed, so the process is Ready.
	require.NoError(t, sup.Check(id))

	res, err := pool.CallTool(context.Background(), id, ToolCall{Name: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Content)

	// A second GetOrCreate reuses the live session.
	again, err := pool.GetOrCreate(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, s, again)
	assert.Equal(t, 1, pool.Count())
}

func TestPool_ConcurrentGetOrCreateSharesSession(t *testing.T) {
	pool, _ := helperPool(t)
	id := agent.NewID()

	const callers = 4
	sessions := make([]*Session, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = pool.GetOrCreate(context.Background(), id)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, sessions[0], sessions[i])
	}
	assert.Equal(t, 1, pool.Count())
}

func TestPool_CallToolWithoutSession(t *testing.T) {
	pool, _ := helperPool(t)

	_, err := pool.CallTool(context.Background(), agent.NewID(), ToolCall{Name: "ping"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestPool_Close(t *testing.T) {
	pool, sup := helperPool(t)
	id := agent.NewID()

	_, err := pool.GetOrCreate(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, pool.Close(id))
	assert.Equal(t, 0, pool.Count())

	_, err = pool.CallTool(context.Background(), id, ToolCall{Name: "ping"})
	assert.ErrorIs(t, err, ErrNoSession)

	// The provider process is gone too.
	assert.ErrorIs(t, sup.Check(id), proc.ErrProcessNotFound)
}

func TestPool_CloseAllowsRecreate(t *testing.T) {
	pool, _ := helperPool(t)
	id := agent.NewID()

	_, err := pool.GetOrCreate(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, pool.Close(id))

	s, err := pool.GetOrCreate(context.Background(), id)
	require.NoError(t, err)

	res, err := s.CallTool(context.Background(), ToolCall{Name: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Content)
}

func TestPool_HandshakeVersionMismatch(t *testing.T) {
	pool, sup := helperPool(t, "HELPER_PROTOCOL_VERSION=2000-01-01")
	id := agent.NewID()

	_, err := pool.GetOrCreate(context.Background(), id)
	assert.ErrorIs(t, err, ErrHandshakeFailed)
	assert.Equal(t, 0, pool.Count())

	// The failed process was torn down, not left behind.
	assert.ErrorIs(t, sup.Check(id), proc.ErrProcessNotFound)
}

func TestPool_CloseAll(t *testing.T) {
	pool, _ := helperPool(t)

	for i := 0; i < 3; i++ {
		_, err := pool.GetOrCreate(context.Background(), agent.NewID())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, pool.Count())

	pool.CloseAll()
	assert.Equal(t, 0, pool.Count())
}

func TestPool_ConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "command is required")

	cfg.Command = "provider"
	assert.NoError(t, cfg.Validate())

	cfg.RequestTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestPoolConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.NotZero(t, cfg.Limits.MaxMemoryBytes)
}
