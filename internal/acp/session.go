package acp

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/logging"
)

// PermissionMode governs how the permission broker treats tool operations
// for a session (spec §3, §4.3).
type PermissionMode string

const (
	PermissionDefault           PermissionMode = "default"
	PermissionAcceptEdits       PermissionMode = "accept_edits"
	PermissionBypassPermissions PermissionMode = "bypass_permissions"
	PermissionPlan              PermissionMode = "plan"
)

// ToolKind classifies a tool call for host-side iconography and the
// permission broker's op_type checks (spec §4.7/§4.8).
type ToolKind string

const (
	ToolKindRead    ToolKind = "read"
	ToolKindEdit    ToolKind = "edit"
	ToolKindDelete  ToolKind = "delete"
	ToolKindMove    ToolKind = "move"
	ToolKindSearch  ToolKind = "search"
	ToolKindExecute ToolKind = "execute"
	ToolKindThink   ToolKind = "think"
	ToolKindFetch   ToolKind = "fetch"
	ToolKindOther   ToolKind = "other"
)

// ToolCallStatus is the lifecycle state of a ToolCallRecord (spec §3).
type ToolCallStatus string

const (
	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"
)

// PlanPriority and PlanStatus back PlanEntry (spec §3).
type PlanPriority string

const (
	PlanPriorityHigh   PlanPriority = "high"
	PlanPriorityMedium PlanPriority = "medium"
	PlanPriorityLow    PlanPriority = "low"
)

type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
)

// PlanEntry is one step of a session's synthesized execution plan (spec §3,
// §4.8).
type PlanEntry struct {
	Content  string
	Priority PlanPriority
	Status   PlanStatus
}

// ToolCallRecord tracks one tool invocation through its lifecycle (spec §3).
type ToolCallRecord struct {
	ID        string
	Kind      ToolKind
	Title     string
	Status    ToolCallStatus
	Locations []ToolLocation
	RawInput  []byte
}

// TurnHandle is the cancellation/completion handle for the single in-flight
// turn a session may hold at a time (spec §3).
type TurnHandle struct {
	cancel    context.CancelFunc
	ctx       context.Context
	StartedAt time.Time
	EventCount int
	Outcome   StopReason // set once known
}

// Cancel fires the turn's cancellation token. Idempotent.
func (h *TurnHandle) Cancel() {
	if h != nil && h.cancel != nil {
		h.cancel()
	}
}

// Done reports the turn's cancellation channel.
func (h *TurnHandle) Done() <-chan struct{} {
	if h == nil {
		return nil
	}
	return h.ctx.Done()
}

// Session is a single ACP conversation owned exclusively by the Session
// Manager; the turn executor borrows it (holding mu) for the duration of
// one turn (spec §3).
type Session struct {
	ID             string
	CWD            string
	PermissionMode PermissionMode
	BackendHandle  string
	McpServers     []McpServer

	CreatedAt      time.Time
	LastActivityAt time.Time

	ContextUsageTokens int64

	CurrentPlan []PlanEntry

	mu              sync.Mutex // held by the turn executor for the whole turn
	activeToolCalls map[string]*ToolCallRecord

	// turnMu guards inFlightTurn only. It is deliberately separate from mu:
	// mu is held for the full duration of a turn (sessionPrompt holds it
	// across executor.Run), so a reader that took mu would block until the
	// turn it's trying to observe has already ended. session/cancel must be
	// able to read the handle and fire its cancel func while the turn is
	// still running and mu is still held by the executor.
	turnMu       sync.Mutex
	inFlightTurn *TurnHandle
}

// Lock acquires the session's turn mutex. Callers must Unlock when the turn
// completes (spec §4.7, "session busy" enforcement).
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// TryLock attempts to acquire the session's turn mutex without blocking,
// returning false if a turn is already in flight (SESSION_BUSY, spec §4.7).
func (s *Session) TryLock() bool { return s.mu.TryLock() }

func (s *Session) touch() { s.LastActivityAt = time.Now() }

// beginTurn installs a fresh TurnHandle. Caller must hold s.mu.
func (s *Session) beginTurn(ctx context.Context) *TurnHandle {
	turnCtx, cancel := context.WithCancel(ctx)
	h := &TurnHandle{cancel: cancel, ctx: turnCtx, StartedAt: time.Now()}
	s.activeToolCalls = make(map[string]*ToolCallRecord)

	s.turnMu.Lock()
	s.inFlightTurn = h
	s.turnMu.Unlock()
	return h
}

// endTurn clears the in-flight handle. Caller must hold s.mu.
func (s *Session) endTurn() {
	s.turnMu.Lock()
	s.inFlightTurn = nil
	s.turnMu.Unlock()
}

// InFlightTurn returns the current turn handle, if any. Does not touch s.mu,
// so it can observe (and session/cancel can fire) a turn's cancel token
// while the turn executor still holds s.mu for the turn's duration.
func (s *Session) InFlightTurn() *TurnHandle {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return s.inFlightTurn
}

// ToolCall returns the active record for id, if any. Caller must hold s.mu.
func (s *Session) ToolCall(id string) (*ToolCallRecord, bool) {
	r, ok := s.activeToolCalls[id]
	return r, ok
}

// PutToolCall installs or replaces a record. Caller must hold s.mu.
func (s *Session) PutToolCall(r *ToolCallRecord) { s.activeToolCalls[r.ID] = r }

// RemoveToolCall deletes a terminal record once its final update is sent.
// Caller must hold s.mu.
func (s *Session) RemoveToolCall(id string) { delete(s.activeToolCalls, id) }

// ActiveToolCalls snapshots the non-terminal records. Caller must hold s.mu.
func (s *Session) ActiveToolCalls() []*ToolCallRecord {
	out := make([]*ToolCallRecord, 0, len(s.activeToolCalls))
	for _, r := range s.activeToolCalls {
		out = append(out, r)
	}
	return out
}

// SessionManager owns the session_id -> Session map (C7, spec §4.7).
type SessionManager struct {
	logger *logging.Logger
	guard  *ResourceGuard

	mu       sync.Mutex
	sessions map[string]*Session
	released map[string]func() // resource guard release funcs, keyed by session id
}

func NewSessionManager(guard *ResourceGuard, log *logging.Logger) *SessionManager {
	return &SessionManager{
		logger:   log.WithFields(zap.String("component", "session-manager")),
		guard:    guard,
		sessions: make(map[string]*Session),
		released: make(map[string]func()),
	}
}

// Create allocates a fresh session bound to a new id (session/new, spec §4.7).
func (m *SessionManager) Create(cwd string, mcpServers []McpServer) (*Session, error) {
	ok, finish := m.guard.StartSession()
	if !ok {
		return nil, NewResourceExhaustedError("resource exhausted: too many concurrent sessions")
	}

	id := uuid.NewString()
	now := time.Now()
	sess := &Session{
		ID:              id,
		CWD:             cwd,
		PermissionMode:  PermissionDefault,
		McpServers:      mcpServers,
		CreatedAt:       now,
		LastActivityAt:  now,
		activeToolCalls: make(map[string]*ToolCallRecord),
	}

	m.mu.Lock()
	m.sessions[id] = sess
	m.released[id] = finish
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", id))
	return sess, nil
}

// Adopt binds to an existing session id if present, else creates a new one
// bound to that id (session/load, spec §4.7 — memory-only, no history replay).
func (m *SessionManager) Adopt(sessionID, cwd string, mcpServers []McpServer) (*Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	ok, finish := m.guard.StartSession()
	if !ok {
		return nil, NewResourceExhaustedError("resource exhausted: too many concurrent sessions")
	}

	now := time.Now()
	sess := &Session{
		ID:              sessionID,
		CWD:             cwd,
		PermissionMode:  PermissionDefault,
		McpServers:      mcpServers,
		CreatedAt:       now,
		LastActivityAt:  now,
		activeToolCalls: make(map[string]*ToolCallRecord),
	}

	m.mu.Lock()
	m.sessions[sessionID] = sess
	m.released[sessionID] = finish
	m.mu.Unlock()

	m.logger.Info("session adopted", zap.String("session_id", sessionID))
	return sess, nil
}

// Get looks up a session by id.
func (m *SessionManager) Get(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, NewSessionNotFoundError(sessionID)
	}
	return sess, nil
}

// Cancel fires the in-flight turn's cancel token, if any. Idempotent
// (spec §4.7).
func (m *SessionManager) Cancel(sessionID string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if h := sess.InFlightTurn(); h != nil {
		h.Cancel()
	}
}

// Dispose cancels any in-flight turn, releases the session's resource
// guard reservation, and removes it from the map (spec §4.7).
func (m *SessionManager) Dispose(sessionID string) {
	m.Cancel(sessionID)

	m.mu.Lock()
	finish, ok := m.released[sessionID]
	delete(m.sessions, sessionID)
	delete(m.released, sessionID)
	m.mu.Unlock()

	if ok && finish != nil {
		finish()
	}
}

// DisposeAll tears down every session (used on process shutdown).
func (m *SessionManager) DisposeAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Dispose(id)
	}
}

// Count reports the current number of live sessions (diagnostics).
func (m *SessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// classifyToolKind derives a ToolKind from a tool name using the fixed
// name-prefix fallback table (spec §4.8).
func classifyToolKind(name string) ToolKind {
	n := normalizeToolName(name)

	switch {
	case containsAny(n, "read", "cat", "view", "open"):
		return ToolKindRead
	case containsAny(n, "edit", "write", "patch", "modify", "create"):
		return ToolKindEdit
	case containsAny(n, "delete", "remove", "rm"):
		return ToolKindDelete
	case containsAny(n, "move", "rename", "mv"):
		return ToolKindMove
	case containsAny(n, "grep", "search", "find", "glob"):
		return ToolKindSearch
	case containsAny(n, "bash", "run", "exec", "shell", "command"):
		return ToolKindExecute
	case containsAny(n, "think", "plan", "reason"):
		return ToolKindThink
	case containsAny(n, "fetch", "http", "curl", "download", "web"):
		return ToolKindFetch
	default:
		return ToolKindOther
	}
}

func normalizeToolName(name string) string {
	return strings.ToLower(name)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
