package acp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/logging"
)

// RequestHandler processes an inbound request and returns its result (or an
// error, translated to a JSON-RPC error response by kind, spec §7).
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler processes an inbound notification. No response is sent.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Endpoint demultiplexes frames from a Transport into inbound requests,
// inbound notifications, and responses to outbound requests that this
// process itself issued, correlating the latter by request id (spec §4.2).
type Endpoint struct {
	transport *Transport
	logger    *logging.Logger

	nextID  atomic.Int64
	pending sync.Map // id string -> chan *Frame

	handlersMu    sync.RWMutex
	requestHandlers map[string]RequestHandler
	notifyHandlers  map[string]NotificationHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewEndpoint builds an Endpoint over the given transport.
func NewEndpoint(t *Transport, log *logging.Logger) *Endpoint {
	e := &Endpoint{
		transport:       t,
		logger:          log.WithFields(zap.String("component", "rpc-endpoint")),
		requestHandlers: make(map[string]RequestHandler),
		notifyHandlers:  make(map[string]NotificationHandler),
		closed:          make(chan struct{}),
	}
	t.OnFrame(e.dispatch)
	t.OnClose(e.Close)
	return e
}

// Handle registers the handler for an inbound request method.
func (e *Endpoint) Handle(method string, h RequestHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.requestHandlers[method] = h
}

// HandleNotification registers the handler for an inbound notification method.
func (e *Endpoint) HandleNotification(method string, h NotificationHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.notifyHandlers[method] = h
}

// dispatch classifies and routes one decoded frame (spec §4.2).
func (e *Endpoint) dispatch(f *Frame) {
	switch f.kind() {
	case frameRequest:
		go e.handleRequest(f)
	case frameNotification:
		e.handlersMu.RLock()
		h, ok := e.notifyHandlers[f.Method]
		e.handlersMu.RUnlock()
		if ok {
			go h(context.Background(), f.Params)
		} else {
			e.logger.Debug("no handler for notification", zap.String("method", f.Method))
		}
	case frameResponse:
		e.resolvePending(f)
	default:
		e.logger.Warn("unclassifiable frame", zap.String("method", f.Method))
		_ = e.transport.WriteFrame(newErrorFrame(f.ID, &RPCError{Code: CodeInvalidRequest, Message: "invalid request"}))
	}
}

func (e *Endpoint) handleRequest(f *Frame) {
	e.handlersMu.RLock()
	h, ok := e.requestHandlers[f.Method]
	e.handlersMu.RUnlock()

	if !ok {
		_ = e.transport.WriteFrame(newErrorFrame(f.ID, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", f.Method)}))
		return
	}

	result, err := func() (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = NewInternalError(fmt.Errorf("panic: %v", r))
			}
		}()
		return h(context.Background(), f.Params)
	}()

	if err != nil {
		bridgeErr := AsError(err)
		e.logger.Warn("request handler error", zap.String("method", f.Method), zap.Error(err))
		_ = e.transport.WriteFrame(newErrorFrame(f.ID, NewRPCError(bridgeErr)))
		return
	}

	resultJSON, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		_ = e.transport.WriteFrame(newErrorFrame(f.ID, &RPCError{Code: CodeInternalError, Message: "failed to marshal result"}))
		return
	}
	_ = e.transport.WriteFrame(newResultFrame(f.ID, resultJSON))
}

func (e *Endpoint) resolvePending(f *Frame) {
	key := string(f.ID)
	v, ok := e.pending.LoadAndDelete(key)
	if !ok {
		e.logger.Warn("response for unknown request id", zap.String("id", key))
		return
	}
	ch := v.(chan *Frame)
	ch <- f
}

// SendRequest issues an outbound request (e.g. session/update's sibling,
// session/request_permission) and blocks for the correlated response, the
// cancellation of ctx, or endpoint shutdown.
func (e *Endpoint) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, *RPCError, error) {
	id := e.nextID.Add(1)
	idJSON, _ := json.Marshal(id)

	var paramsJSON json.RawMessage
	if params != nil {
		var err error
		paramsJSON, err = json.Marshal(params)
		if err != nil {
			return nil, nil, fmt.Errorf("acp: marshal params: %w", err)
		}
	}

	respCh := make(chan *Frame, 1)
	e.pending.Store(string(idJSON), respCh)
	defer e.pending.Delete(string(idJSON))

	if err := e.transport.WriteFrame(newRequestFrame(idJSON, method, paramsJSON)); err != nil {
		return nil, nil, err
	}

	select {
	case resp := <-respCh:
		return resp.Result, resp.Error, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-e.closed:
		return nil, NewRPCError(&Error{Kind: KindResource, Message: "connection destroyed"}), nil
	}
}

// unmarshalResult decodes a raw JSON result into v, treating an empty/null
// result as a no-op (the caller's zero value stands).
func unmarshalResult(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// SendNotification issues an outbound notification (e.g. session/update).
func (e *Endpoint) SendNotification(method string, params any) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("acp: marshal params: %w", err)
	}
	return e.transport.WriteFrame(newNotificationFrame(method, paramsJSON))
}

// Close rejects all pending outbound requests with code -32003 (spec §4.2)
// and marks the endpoint as shut down.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.pending.Range(func(key, value any) bool {
			ch := value.(chan *Frame)
			ch <- &Frame{Error: &RPCError{Code: CodeResourceExhausted, Message: "connection destroyed"}}
			e.pending.Delete(key)
			return true
		})
	})
}
