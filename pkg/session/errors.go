package session

import "errors"

var (
	// ErrHandshakeFailed is returned when version negotiation fails or
	// the provider never answers the initialize request.
	ErrHandshakeFailed = errors.New("session handshake failed")

	// ErrToolCallTimeout is returned when no correlated response arrives
	// within the request timeout.
	ErrToolCallTimeout = errors.New("tool call timed out")

	// ErrSessionClosed fails callers waiting on a session that has been
	// closed underneath them.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoSession is returned when no session exists for an agent.
	ErrNoSession = errors.New("no session for agent")

	// ErrInvalidArguments rejects a tool call whose arguments do not
	// satisfy the tool's declared input schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)
