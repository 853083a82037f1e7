package acp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEndpoint(t *testing.T, input string) (*Endpoint, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	tr := NewTransport(strings.NewReader(input), &out, testLogger(t))
	ep := NewEndpoint(tr, testLogger(t))
	go tr.Run(context.Background())
	return ep, &out
}

func TestEndpoint_RequestAlwaysGetsExactlyOneResponseWithSameID(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":7,"method":"ping","params":{}}` + "\n"
	ep, out := newTestEndpoint(t, input)
	ep.Handle("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"pong": "ok"}, nil
	})

	require.Eventually(t, func() bool { return strings.Contains(out.String(), `"id":7`) }, time.Second, time.Millisecond)

	var frame Frame
	require.NoError(t, json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &frame))
	assert.Equal(t, json.RawMessage("7"), frame.ID)
	assert.Nil(t, frame.Error)
}

func TestEndpoint_HandlerPanicBecomesInternalError(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":1,"method":"boom","params":{}}` + "\n"
	ep, out := newTestEndpoint(t, input)
	ep.Handle("boom", func(ctx context.Context, params json.RawMessage) (any, error) {
		panic("kaboom")
	})

	require.Eventually(t, func() bool { return strings.Contains(out.String(), `"error"`) }, time.Second, time.Millisecond)

	var frame Frame
	require.NoError(t, json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &frame))
	require.NotNil(t, frame.Error)
	assert.Equal(t, CodeInternalError, frame.Error.Code)
}

func TestEndpoint_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	input := `{"jsonrpc":"2.0","id":3,"method":"nope","params":{}}` + "\n"
	_, out := newTestEndpoint(t, input)

	require.Eventually(t, func() bool { return strings.Contains(out.String(), `"error"`) }, time.Second, time.Millisecond)

	var frame Frame
	require.NoError(t, json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &frame))
	require.NotNil(t, frame.Error)
	assert.Equal(t, CodeMethodNotFound, frame.Error.Code)
}

func TestEndpoint_SendRequestResolvesOnMatchingResponse(t *testing.T) {
	var out bytes.Buffer
	pr, pw := io.Pipe()
	tr := NewTransport(pr, &out, testLogger(t))
	ep := NewEndpoint(tr, testLogger(t))
	go tr.Run(context.Background())

	type outcome struct {
		result json.RawMessage
		rpcErr *RPCError
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, rpcErr, err := ep.SendRequest(context.Background(), "session/request_permission", map[string]string{"a": "b"})
		done <- outcome{result: result, rpcErr: rpcErr, err: err}
	}()

	require.Eventually(t, func() bool { return out.Len() > 0 }, time.Second, time.Millisecond)
	var sent Frame
	require.NoError(t, json.Unmarshal(bytes.TrimRight(out.Bytes(), "\n"), &sent))

	resp := Frame{JSONRPC: "2.0", ID: sent.ID, Result: json.RawMessage(`{"ok":true}`)}
	line, _ := json.Marshal(resp)
	pw.Write(append(line, '\n'))

	select {
	case o := <-done:
		require.NoError(t, o.err)
		require.Nil(t, o.rpcErr)
		assert.JSONEq(t, `{"ok":true}`, string(o.result))
	case <-time.After(time.Second):
		t.Fatal("SendRequest did not resolve")
	}
}

func TestEndpoint_CloseRejectsPendingRequests(t *testing.T) {
	pr, _ := io.Pipe()
	tr := NewTransport(pr, &bytes.Buffer{}, testLogger(t))
	ep := NewEndpoint(tr, testLogger(t))

	type outcome struct {
		rpcErr *RPCError
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		_, rpcErr, err := ep.SendRequest(context.Background(), "whatever", nil)
		done <- outcome{rpcErr: rpcErr, err: err}
	}()

	time.Sleep(10 * time.Millisecond)
	ep.Close()

	select {
	case o := <-done:
		require.NoError(t, o.err)
		require.NotNil(t, o.rpcErr)
		assert.Equal(t, CodeResourceExhausted, o.rpcErr.Code)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock pending SendRequest")
	}
}
