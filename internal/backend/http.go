package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/logging"
)

// HTTPConfig holds the HTTP completion adapter's configuration
// (spec §6.4: BACKEND_API_KEY, BACKEND_MODEL, BACKEND_TEMPERATURE,
// BACKEND_MAX_TOKENS).
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	ResumeID    string  `json:"resume_id,omitempty"`
}

type completionResponse struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// HTTPAgent issues one request per turn against a completion API, converting
// the returned message into a single synthetic assistant_text event (C10.2,
// spec §4.10.2).
type HTTPAgent struct {
	cfg    HTTPConfig
	client *http.Client
	logger *logging.Logger

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

func NewHTTPAgent(cfg HTTPConfig, log *logging.Logger) *HTTPAgent {
	return &HTTPAgent{
		cfg:    cfg,
		client: &http.Client{Timeout: 0}, // the circuit breaker bounds sustained failure, not latency
		logger: log.WithFields(zap.String("component", "backend-http")),
	}
}

// Authenticate issues a lightweight probe request to confirm the API key is
// accepted. A response status of 400 or above is reported as an error.
func (a *HTTPAgent) Authenticate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/health", nil)
	if err != nil {
		return NewAdapterError("build probe request", err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return NewAdapterError("probe", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return NewAdapterError("probe", fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}

func (a *HTTPAgent) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

// StartTurn issues one completion request and emits its result as a single
// assistant_text event followed by turn_end, or a turn_error on failure.
func (a *HTTPAgent) StartTurn(ctx context.Context, req StartTurnRequest) (<-chan Event, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancelFn = cancel
	a.mu.Unlock()

	out := make(chan Event, 4)
	go a.runTurn(turnCtx, req, out)
	return out, nil
}

func (a *HTTPAgent) runTurn(ctx context.Context, req StartTurnRequest, out chan<- Event) {
	defer close(out)

	body, err := json.Marshal(completionRequest{
		Model:       a.cfg.Model,
		Prompt:      req.Prompt,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		ResumeID:    req.ResumeID,
	})
	if err != nil {
		emit(ctx, out, Event{Kind: EventTurnError, Message: "failed to encode request"})
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		emit(ctx, out, Event{Kind: EventTurnError, Message: err.Error()})
		return
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		emit(ctx, out, Event{Kind: EventTurnError, Message: "backend request failed: " + err.Error()})
		return
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		emit(ctx, out, Event{Kind: EventTurnError, Message: "failed to read response: " + err.Error()})
		return
	}
	if resp.StatusCode >= 400 {
		emit(ctx, out, Event{Kind: EventTurnError, Message: fmt.Sprintf("backend returned status %d", resp.StatusCode)})
		return
	}

	var completion completionResponse
	if err := json.Unmarshal(data, &completion); err != nil {
		emit(ctx, out, Event{Kind: EventTurnError, Message: "malformed backend response"})
		return
	}

	if completion.SessionID != "" {
		if !emit(ctx, out, Event{Kind: EventSessionAssigned, BackendSessionID: completion.SessionID}) {
			return
		}
	}
	if !emit(ctx, out, Event{Kind: EventAssistantText, Text: completion.Text}) {
		return
	}
	emit(ctx, out, Event{Kind: EventTurnEnd})
}

func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Cancel drops the in-flight connection by cancelling its context (spec
// §4.8 cancellation semantics: "HTTP: drop the connection").
func (a *HTTPAgent) Cancel(ctx context.Context) error {
	a.mu.Lock()
	if a.cancelFn != nil {
		a.cancelFn()
	}
	a.mu.Unlock()
	return nil
}

func (a *HTTPAgent) Version() string { return "" }
