package session

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the stdio protocol revision this runtime speaks.
// Providers advertising anything else fail the handshake.
const ProtocolVersion = "2024-11-05"

// Request is a JSON-RPC 2.0 request envelope, one per line on the
// provider's stdin.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope, one per line on the
// provider's stdout.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ToolCall names a provider tool and carries its argument payload.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolError is a provider-reported tool failure.
type ToolError struct {
	Code    int
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error (%d): %s", e.Code, e.Message)
}

// ToolResult is the outcome of one tool call.
type ToolResult struct {
	OK      bool       `json:"ok"`
	Content string     `json:"content,omitempty"`
	Err     *ToolError `json:"error,omitempty"`
}

// initializeParams is sent with the handshake request.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the provider's half of the handshake.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// toolCallParams is the params shape of a tools/call request.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// toolContent is one element of a tool result's content array.
type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// toolCallResult is the result shape of a tools/call response.
type toolCallResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// toolListResult is the result shape of a tools/list response.
type toolListResult struct {
	Tools []struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	} `json:"tools"`
}

// parseToolResult flattens a tools/call result into a ToolResult,
// concatenating all text content blocks.
func parseToolResult(raw json.RawMessage) (ToolResult, error) {
	var res toolCallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ToolResult{}, fmt.Errorf("decode tool result: %w", err)
	}

	var text string
	for _, c := range res.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	if res.IsError {
		return ToolResult{
			Err: &ToolError{Message: text},
		}, nil
	}
	return ToolResult{OK: true, Content: text}, nil
}
