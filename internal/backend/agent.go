// Package backend adapts a coding-assistant backend — a local subprocess
// speaking a line protocol, or an HTTP completion API — to the uniform
// Agent interface the turn executor drives (spec §4.10, §6.3).
package backend

import (
	"context"
	"encoding/json"
)

// EventKind discriminates the BackendEvent union (spec §6.3).
type EventKind string

const (
	EventSessionAssigned EventKind = "session_id_assigned"
	EventAssistantText   EventKind = "assistant_text"
	EventAssistantThought EventKind = "assistant_thought"
	EventToolUse         EventKind = "tool_use"
	EventToolResult      EventKind = "tool_result"
	EventToolError       EventKind = "tool_error"
	EventTurnEnd         EventKind = "turn_end"
	EventTurnError       EventKind = "turn_error"
)

// Event is one message in a backend's streamed turn. Adapters MUST produce a
// total, finite stream terminated by EventTurnEnd or EventTurnError, MUST
// emit EventToolUse before the matching EventToolResult/EventToolError, and
// SHOULD emit EventSessionAssigned once per adopted turn (spec §6.3).
type Event struct {
	Kind EventKind

	// SessionAssigned
	BackendSessionID string

	// AssistantText / AssistantThought
	Text string

	// ToolUse
	ToolCallID string
	ToolName   string
	ToolInput  json.RawMessage

	// ToolResult
	ToolOutput string

	// ToolError / TurnError
	Message string
}

// StartTurnRequest is the uniform request the turn executor hands to an
// adapter at the start of a turn (spec §4.8 pre-flight step 4).
type StartTurnRequest struct {
	Prompt         string
	ResumeID       string // session.backend_handle, opaque
	MaxTurns       int    // 0 = unlimited
	PermissionMode string
}

// Agent is the uniform interface over either supported backend (C10, spec
// §4.10, §6.3).
type Agent interface {
	// Authenticate establishes credentials with the backend, if required.
	Authenticate(ctx context.Context) error

	// StartTurn begins a streaming turn, returning a channel of events. The
	// channel is closed once EventTurnEnd/EventTurnError has been delivered
	// or ctx is cancelled.
	StartTurn(ctx context.Context, req StartTurnRequest) (<-chan Event, error)

	// Cancel best-effort aborts the in-flight turn (HTTP: drop the
	// connection; subprocess: close stdin or send the cancel sentinel).
	Cancel(ctx context.Context) error

	// Version reports the backend's self-reported version, if known.
	Version() string
}
