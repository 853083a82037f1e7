package acp

import "encoding/json"

// Frame is the superset of JSON-RPC 2.0 message shapes carried on the wire
// (spec §3, §6.1). A decoded frame is classified by which fields are present:
// an id+method pair is an inbound request, a method alone is a notification,
// and an id alone (with result or error) is a response to an outbound request.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// NewRPCError builds an RPCError from a bridge Error, using its mapped code.
func NewRPCError(err *Error) *RPCError {
	return &RPCError{Code: err.Code(), Message: err.Message}
}

const jsonrpcVersion = "2.0"

func newRequestFrame(id json.RawMessage, method string, params json.RawMessage) *Frame {
	return &Frame{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}

func newNotificationFrame(method string, params json.RawMessage) *Frame {
	return &Frame{JSONRPC: jsonrpcVersion, Method: method, Params: params}
}

func newResultFrame(id json.RawMessage, result json.RawMessage) *Frame {
	return &Frame{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func newErrorFrame(id json.RawMessage, rpcErr *RPCError) *Frame {
	return &Frame{JSONRPC: jsonrpcVersion, ID: id, Error: rpcErr}
}

// classify reports how an inbound frame should be dispatched (spec §4.2).
type frameKind int

const (
	frameUnknown frameKind = iota
	frameRequest
	frameNotification
	frameResponse
)

func (f *Frame) kind() frameKind {
	hasID := len(f.ID) > 0 && string(f.ID) != "null"
	hasMethod := f.Method != ""
	switch {
	case hasID && hasMethod:
		return frameRequest
	case hasMethod && !hasID:
		return frameNotification
	case hasID && !hasMethod:
		return frameResponse
	default:
		return frameUnknown
	}
}

// --- ACP method parameter / result shapes (spec §6.2) ---

type ClientCapabilities struct {
	FS *FSCapability `json:"fs,omitempty"`
}

type FSCapability struct {
	ReadTextFile  bool `json:"readTextFile,omitempty"`
	WriteTextFile bool `json:"writeTextFile,omitempty"`
}

type InitializeParams struct {
	ProtocolVersion    string             `json:"protocolVersion"`
	ClientCapabilities ClientCapabilities `json:"clientCapabilities"`
}

type PromptCapabilities struct {
	Image           bool `json:"image"`
	Audio           bool `json:"audio"`
	EmbeddedContext bool `json:"embeddedContext"`
}

type AgentCapabilities struct {
	LoadSession        bool               `json:"loadSession"`
	PromptCapabilities PromptCapabilities `json:"promptCapabilities"`
}

type AuthMethod struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type InitializeResult struct {
	ProtocolVersion   string            `json:"protocolVersion"`
	AgentCapabilities AgentCapabilities `json:"agentCapabilities"`
	AuthMethods       []AuthMethod      `json:"authMethods"`
}

// McpServer is an opaque passthrough descriptor for an external tool server
// declared by the host (spec §3, "mcp_servers"). The bridge never introspects
// its contents beyond what is needed to forward it to the backend agent.
type McpServer struct {
	Name    string            `json:"name"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Type    string            `json:"type,omitempty"` // "stdio" | "sse" | "http"
}

type NewSessionParams struct {
	CWD        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

type NewSessionResult struct {
	SessionID string `json:"sessionId"`
}

type LoadSessionParams struct {
	SessionID  string      `json:"sessionId"`
	CWD        string      `json:"cwd"`
	McpServers []McpServer `json:"mcpServers"`
}

type AuthenticateParams struct {
	MethodID string `json:"methodId"`
}

// ContentBlock is the minimal content model (spec, §9 design notes): text,
// diff, or a resource link. Implementations must not attach control
// significance to any additional content types.
type ContentBlock struct {
	Type string `json:"type"` // "text" | "diff" | "resource_link" | "image" | "audio"
	Text string `json:"text,omitempty"`

	// diff
	Path    string  `json:"path,omitempty"`
	OldText *string `json:"oldText,omitempty"`
	NewText string  `json:"newText,omitempty"`

	// resource_link / image / audio
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

func TextBlock(text string) ContentBlock { return ContentBlock{Type: "text", Text: text} }

type PromptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

type PromptResult struct {
	StopReason StopReason `json:"stopReason"`
}

type CancelParams struct {
	SessionID string `json:"sessionId"`
}

// StopReason is the outcome of a completed prompt turn (spec §4.8).
type StopReason string

const (
	StopEndTurn  StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
	StopMaxTokens StopReason = "max_tokens"
	StopMaxTurns  StopReason = "max_turns"
	StopRefusal   StopReason = "refusal"
)

// --- client methods (bridge calls out to the host) ---

type SessionUpdateParams struct {
	SessionID string `json:"sessionId"`
	Update    any    `json:"update"`
}

// Session update payload shapes (spec §6.2). Each corresponds to one
// `sessionUpdate` discriminator value; turn.go builds these directly
// rather than sharing one struct, since the field named "content" carries a
// different shape (a single block vs. a list) across update kinds.

type messageChunkUpdate struct {
	SessionUpdate string       `json:"sessionUpdate"`
	Content       ContentBlock `json:"content"`
}

type toolCallUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	ID            string          `json:"toolCallId"`
	Title         string          `json:"title,omitempty"`
	Kind          ToolKind        `json:"kind,omitempty"`
	Status        ToolCallStatus  `json:"status"`
	RawInput      json.RawMessage `json:"rawInput,omitempty"`
	Locations     []ToolLocation  `json:"locations,omitempty"`
}

type toolCallStatusUpdate struct {
	SessionUpdate string         `json:"sessionUpdate"`
	ID            string         `json:"toolCallId"`
	Status        ToolCallStatus `json:"status"`
	Content       []ContentBlock `json:"content,omitempty"`
}

type planUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Entries       []PlanEntryWire `json:"entries"`
}

type ToolLocation struct {
	Path string `json:"path"`
	Line *int   `json:"line,omitempty"`
}

type PlanEntryWire struct {
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
}

type PermissionOption struct {
	OptionID string `json:"optionId"`
	Kind     string `json:"kind"` // allow_once | allow_always | reject_once | reject_always
}

type RequestPermissionParams struct {
	SessionID string             `json:"sessionId"`
	ToolCall  toolCallUpdate     `json:"toolCall"`
	Options   []PermissionOption `json:"options"`
}

type PermissionOutcome struct {
	Outcome  string `json:"outcome"` // "selected" | "cancelled"
	OptionID string `json:"optionId,omitempty"`
}

type RequestPermissionResult struct {
	Outcome PermissionOutcome `json:"outcome"`
}

type ReadTextFileParams struct {
	Path  string `json:"path"`
	Line  *int   `json:"line,omitempty"`
	Limit *int   `json:"limit,omitempty"`
}

type ReadTextFileResult struct {
	Content string `json:"content"`
}

type WriteTextFileParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Method names (spec §6.2).
const (
	MethodInitialize  = "initialize"
	MethodSessionNew  = "session/new"
	MethodSessionLoad = "session/load"
	MethodAuthenticate = "authenticate"
	MethodSessionPrompt = "session/prompt"
	MethodSessionCancel = "session/cancel"

	MethodSessionUpdate       = "session/update"
	MethodRequestPermission   = "session/request_permission"
	MethodFSReadTextFile      = "fs/read_text_file"
	MethodFSWriteTextFile     = "fs/write_text_file"
)
