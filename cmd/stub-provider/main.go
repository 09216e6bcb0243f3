// Command stub-provider is a minimal stdio tool provider used for local
// development and integration testing. It speaks the same line-delimited
// JSON-RPC protocol real providers do and serves three tools: ping,
// echo, and sleep.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const protocolVersion = "2024-11-05"

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

func main() {
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 64*1024), 4<<20)
	out := bufio.NewWriter(os.Stdout)
	enc := json.NewEncoder(out)

	for in.Scan() {
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}
		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if err := enc.Encode(handle(req)); err != nil {
			return
		}
		if err := out.Flush(); err != nil {
			return
		}
	}
}

func handle(req request) response {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo": map[string]string{
				"name":    "stub-provider",
				"version": "0.1.0",
			},
		})
	case "tools/list":
		return result(req.ID, map[string]any{"tools": tools()})
	case "tools/call":
		return callTool(req)
	default:
		return fail(req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func tools() []map[string]any {
	return []map[string]any{
		{
			"name":        "ping",
			"description": "Responds with pong.",
			"inputSchema": map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			"name":        "echo",
			"description": "Echoes the message argument back.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{"type": "string"},
				},
				"required": []string{"message"},
			},
		},
		{
			"name":        "sleep",
			"description": "Sleeps for the given number of milliseconds.",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"ms": map[string]any{"type": "number"},
				},
				"required": []string{"ms"},
			},
		},
	}
}

func callTool(req request) response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return fail(req.ID, -32602, "invalid params")
	}

	switch params.Name {
	case "ping":
		return text(req.ID, "pong")
	case "echo":
		msg, ok := params.Arguments["message"].(string)
		if !ok {
			return toolError(req.ID, "echo: message argument is required")
		}
		return text(req.ID, msg)
	case "sleep":
		ms, ok := params.Arguments["ms"].(float64)
		if !ok {
			return toolError(req.ID, "sleep: ms argument is required")
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return text(req.ID, fmt.Sprintf("slept %dms", int(ms)))
	default:
		return toolError(req.ID, fmt.Sprintf("unknown tool: %s", params.Name))
	}
}

func result(id int64, res any) response {
	return response{JSONRPC: "2.0", ID: id, Result: res}
}

func fail(id int64, code int, msg string) response {
	return response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

func text(id int64, s string) response {
	return result(id, toolResult{Content: []content{{Type: "text", Text: s}}})
}

func toolError(id int64, msg string) response {
	return result(id, toolResult{
		Content: []content{{Type: "text", Text: msg}},
		IsError: true,
	})
}
