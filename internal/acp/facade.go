package acp

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/logging"
)

const protocolVersion = "0.1.0"

// Facade implements the six ACP server methods and fans out to the
// Session Manager and Turn Executor (C9, spec §4.9).
type Facade struct {
	endpoint *Endpoint
	sessions *SessionManager
	executor *TurnExecutor
	logger   *logging.Logger
}

func NewFacade(endpoint *Endpoint, sessions *SessionManager, executor *TurnExecutor, log *logging.Logger) *Facade {
	return &Facade{
		endpoint: endpoint,
		sessions: sessions,
		executor: executor,
		logger:   log.WithFields(zap.String("component", "agent-facade")),
	}
}

// Register wires all six methods onto the endpoint.
func (f *Facade) Register() {
	f.endpoint.Handle(MethodInitialize, f.initialize)
	f.endpoint.Handle(MethodSessionNew, f.sessionNew)
	f.endpoint.Handle(MethodSessionLoad, f.sessionLoad)
	f.endpoint.Handle(MethodAuthenticate, f.authenticate)
	f.endpoint.Handle(MethodSessionPrompt, f.sessionPrompt)
	f.endpoint.HandleNotification(MethodSessionCancel, f.sessionCancel)
}

func (f *Facade) initialize(ctx context.Context, params json.RawMessage) (any, error) {
	var p InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewValidationError("invalid initialize params: " + err.Error())
	}

	return InitializeResult{
		ProtocolVersion: protocolVersion,
		AgentCapabilities: AgentCapabilities{
			LoadSession: true,
			PromptCapabilities: PromptCapabilities{
				Image:           true,
				Audio:           false,
				EmbeddedContext: true,
			},
		},
		AuthMethods: []AuthMethod{
			{ID: "backend", Name: "Backend", Description: "Authentication via backend agent"},
		},
	}, nil
}

func (f *Facade) sessionNew(ctx context.Context, params json.RawMessage) (any, error) {
	var p NewSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewValidationError("invalid session/new params: " + err.Error())
	}

	sess, err := f.sessions.Create(p.CWD, p.McpServers)
	if err != nil {
		return nil, err
	}
	return NewSessionResult{SessionID: sess.ID}, nil
}

func (f *Facade) sessionLoad(ctx context.Context, params json.RawMessage) (any, error) {
	var p LoadSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewValidationError("invalid session/load params: " + err.Error())
	}

	if _, err := f.sessions.Adopt(p.SessionID, p.CWD, p.McpServers); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *Facade) authenticate(ctx context.Context, params json.RawMessage) (any, error) {
	return nil, nil
}

func (f *Facade) sessionPrompt(ctx context.Context, params json.RawMessage) (any, error) {
	var p PromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewValidationError("invalid session/prompt params: " + err.Error())
	}

	sess, err := f.sessions.Get(p.SessionID)
	if err != nil {
		return nil, err
	}

	if !sess.TryLock() {
		return nil, NewSessionBusyError(p.SessionID)
	}
	defer sess.Unlock()

	stopReason, err := f.executor.Run(ctx, sess, p.Prompt)
	if err != nil {
		return nil, err
	}
	return PromptResult{StopReason: stopReason}, nil
}

func (f *Facade) sessionCancel(ctx context.Context, params json.RawMessage) {
	var p CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		f.logger.Warn("invalid session/cancel params", zap.Error(err))
		return
	}
	f.sessions.Cancel(p.SessionID)
}
