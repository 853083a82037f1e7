package backend

import (
	"bufio"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/acp-bridge/internal/logging"
)

func testBackendLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func TestDecodeWireEvent_KnownTypeMapsToEventKind(t *testing.T) {
	ev, ok := decodeWireEvent(`{"type":"assistant_text","text":"hi"}`)
	require.True(t, ok)
	assert.Equal(t, EventAssistantText, ev.Kind)
	assert.Equal(t, "hi", ev.Text)
}

func TestDecodeWireEvent_UnknownTypeIsRejected(t *testing.T) {
	_, ok := decodeWireEvent(`{"type":"something_new"}`)
	assert.False(t, ok)
}

func TestDecodeWireEvent_MalformedJSONIsRejected(t *testing.T) {
	_, ok := decodeWireEvent(`not json`)
	assert.False(t, ok)
}

// newTestSubprocessAgent builds an agent without ever spawning a real
// process, so readEvents can be exercised directly against a scripted
// stdout stream.
func newTestSubprocessAgent(t *testing.T) *SubprocessAgent {
	t.Helper()
	return &SubprocessAgent{logger: testBackendLogger(t)}
}

func TestSubprocessAgent_ReadEventsStopsAtTurnEnd(t *testing.T) {
	a := newTestSubprocessAgent(t)
	stdout := bufio.NewReader(strings.NewReader(
		`{"type":"assistant_text","text":"working"}` + "\n" +
			`{"type":"turn_end"}` + "\n" +
			`{"type":"assistant_text","text":"should not be delivered"}` + "\n",
	))

	out := make(chan Event, 8)
	a.readEvents(context.Background(), stdout, out)

	var events []Event
	for ev := range out {
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, EventAssistantText, events[0].Kind)
	assert.Equal(t, EventTurnEnd, events[1].Kind)
}

func TestSubprocessAgent_ReadEventsReportsTurnErrorOnUnexpectedClose(t *testing.T) {
	a := newTestSubprocessAgent(t)
	stdout := bufio.NewReader(strings.NewReader(
		`{"type":"assistant_text","text":"partial"}` + "\n",
	))

	out := make(chan Event, 8)
	a.readEvents(context.Background(), stdout, out)

	var events []Event
	for ev := range out {
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, EventTurnError, events[1].Kind)
}

func TestSubprocessAgent_ReadEventsSkipsMalformedLinesWithoutStopping(t *testing.T) {
	a := newTestSubprocessAgent(t)
	stdout := bufio.NewReader(strings.NewReader(
		`not json at all` + "\n" +
			`{"type":"turn_end"}` + "\n",
	))

	out := make(chan Event, 8)
	a.readEvents(context.Background(), stdout, out)

	var events []Event
	for ev := range out {
		events = append(events, ev)
	}

	require.Len(t, events, 1)
	assert.Equal(t, EventTurnEnd, events[0].Kind)
}

func TestSubprocessAgent_ReadEventsReturnsImmediatelyForAlreadyCancelledContext(t *testing.T) {
	a := newTestSubprocessAgent(t)
	pr, pw := io.Pipe()
	defer pw.Close()
	stdout := bufio.NewReader(pr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Event, 8)
	done := make(chan struct{})
	go func() {
		a.readEvents(ctx, stdout, out)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("readEvents did not honor an already-cancelled context")
	}
}
