package acp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T, maxSessions int) *SessionManager {
	t.Helper()
	guard := NewResourceGuard(ResourceGuardConfig{MaxConcurrentSessions: int64(maxSessions),MaxConcurrentOperations: 100}, nil)
	guard.SetMemSampler(func() uint64 { return 0 })
	return NewSessionManager(guard, testLogger(t))
}

func TestSessionManager_CreateAssignsUniqueIDs(t *testing.T) {
	m := newTestSessionManager(t, 10)
	s1, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)
	s2, err := m.Create("/tmp/b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, m.Count())
}

func TestSessionManager_CreateDeniedAtSessionCapacity(t *testing.T) {
	m := newTestSessionManager(t, 1)
	_, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)

	_, err = m.Create("/tmp/b", nil)
	assert.Error(t, err)
}

func TestSessionManager_AdoptReturnsExistingSessionWhenLive(t *testing.T) {
	m := newTestSessionManager(t, 10)
	orig, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)

	adopted, err := m.Adopt(orig.ID, "/tmp/a", nil)
	require.NoError(t, err)
	assert.Same(t, orig, adopted)
}

func TestSessionManager_AdoptCreatesFreshSessionBoundToRequestedID(t *testing.T) {
	m := newTestSessionManager(t, 10)
	sess, err := m.Adopt("unknown-id", "/tmp/a", nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown-id", sess.ID)
	assert.Empty(t, sess.CurrentPlan)
}

func TestSessionManager_GetUnknownReturnsSessionNotFound(t *testing.T) {
	m := newTestSessionManager(t, 10)
	_, err := m.Get("nope")
	require.Error(t, err)
	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, KindSession, bridgeErr.Kind)
}

func TestSession_TryLockReportsBusyWhileTurnInFlight(t *testing.T) {
	m := newTestSessionManager(t, 10)
	sess, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)

	require.True(t, sess.TryLock())
	assert.False(t, sess.TryLock())
	sess.Unlock()
	assert.True(t, sess.TryLock())
	sess.Unlock()
}

func TestSessionManager_CancelFiresInFlightTurnToken(t *testing.T) {
	m := newTestSessionManager(t, 10)
	sess, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)

	sess.Lock()
	h := sess.beginTurn(context.Background())
	sess.Unlock()

	m.Cancel(sess.ID)

	select {
	case <-h.Done():
	default:
		t.Fatal("expected turn context to be cancelled")
	}
}

// TestSessionManager_CancelDoesNotBlockOnTurnMutex exercises the real
// contention path: sessionPrompt holds sess.mu for the whole turn (see
// Facade.sessionPrompt), so Cancel must be able to observe and fire the
// in-flight handle without ever acquiring sess.mu itself.
func TestSessionManager_CancelDoesNotBlockOnTurnMutex(t *testing.T) {
	m := newTestSessionManager(t, 10)
	sess, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)

	sess.Lock()
	defer sess.Unlock()
	h := sess.beginTurn(context.Background())

	done := make(chan struct{})
	go func() {
		m.Cancel(sess.ID)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Cancel blocked on the turn mutex instead of firing the handle directly")
	}

	select {
	case <-h.Done():
	default:
		t.Fatal("expected turn context to be cancelled")
	}
}

func TestSessionManager_CancelOnSessionWithNoTurnIsNoop(t *testing.T) {
	m := newTestSessionManager(t, 10)
	sess, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() { m.Cancel(sess.ID) })
}

func TestSessionManager_DisposeRemovesSessionAndReleasesGuardSlot(t *testing.T) {
	m := newTestSessionManager(t, 1)
	sess, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)

	m.Dispose(sess.ID)
	assert.Equal(t, 0, m.Count())

	_, err = m.Get(sess.ID)
	assert.Error(t, err)

	_, err = m.Create("/tmp/b", nil)
	assert.NoError(t, err, "guard slot released by Dispose should admit a new session")
}

func TestSessionManager_DisposeAllTearsDownEverySession(t *testing.T) {
	m := newTestSessionManager(t, 10)
	_, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)
	_, err = m.Create("/tmp/b", nil)
	require.NoError(t, err)

	m.DisposeAll()
	assert.Equal(t, 0, m.Count())
}

func TestClassifyToolKind(t *testing.T) {
	cases := map[string]ToolKind{
		"ReadFile":    ToolKindRead,
		"cat":         ToolKindRead,
		"write_file":  ToolKindEdit,
		"Patch":       ToolKindEdit,
		"delete_file": ToolKindDelete,
		"rm":          ToolKindDelete,
		"rename":      ToolKindMove,
		"grep":        ToolKindSearch,
		"bash":        ToolKindExecute,
		"think":       ToolKindThink,
		"fetch_url":   ToolKindFetch,
		"mystery_tool": ToolKindOther,
	}
	for name, want := range cases {
		assert.Equal(t, want, classifyToolKind(name), "tool name %q", name)
	}
}

func TestSession_ToolCallLifecycleTracking(t *testing.T) {
	m := newTestSessionManager(t, 10)
	sess, err := m.Create("/tmp/a", nil)
	require.NoError(t, err)

	sess.Lock()
	sess.beginTurn(context.Background())
	sess.PutToolCall(&ToolCallRecord{ID: "t1", Kind: ToolKindRead, Status: ToolCallPending})
	rec, ok := sess.ToolCall("t1")
	require.True(t, ok)
	assert.Equal(t, ToolCallPending, rec.Status)

	rec.Status = ToolCallCompleted
	sess.RemoveToolCall("t1")
	_, ok = sess.ToolCall("t1")
	assert.False(t, ok)
	sess.Unlock()
}
