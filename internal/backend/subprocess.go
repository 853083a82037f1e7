package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/logging"
)

// wireCommand is the single line written to the backend's stdin per turn.
// The discriminator-agreed line protocol (spec §4.10.1) is deliberately
// narrow: one command shape, one event shape.
type wireCommand struct {
	Type           string `json:"type"` // always "prompt"
	Prompt         string `json:"prompt"`
	ResumeID       string `json:"resume_id,omitempty"`
	MaxTurns       int    `json:"max_turns,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
}

// wireEvent is one streamed event from the backend's stdout.
type wireEvent struct {
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id,omitempty"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput string          `json:"tool_output,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// wireEventKinds maps the backend's type discriminator to our EventKind.
var wireEventKinds = map[string]EventKind{
	"session_id_assigned": EventSessionAssigned,
	"assistant_text":       EventAssistantText,
	"assistant_thought":    EventAssistantThought,
	"tool_use":             EventToolUse,
	"tool_result":          EventToolResult,
	"tool_error":           EventToolError,
	"turn_end":             EventTurnEnd,
	"turn_error":           EventTurnError,
}

const stderrBufferLines = 50

// SubprocessAgent spawns the backend with stdio pipes and speaks an NDJSON
// line protocol over them (C10, spec §4.10.1).
type SubprocessAgent struct {
	path string
	args []string
	env  []string

	logger *logging.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	version string

	stderrMu  sync.Mutex
	stderrBuf []string

	cancelMu sync.Mutex
	cancelFn func()
}

// NewSubprocessAgent builds an adapter targeting the executable at path.
func NewSubprocessAgent(path string, args, env []string, log *logging.Logger) *SubprocessAgent {
	return &SubprocessAgent{
		path:   path,
		args:   args,
		env:    env,
		logger: log.WithFields(zap.String("component", "backend-subprocess")),
	}
}

// Authenticate starts the subprocess if not already running. The backend is
// expected to perform its own credential handling internally; a failed spawn
// is reported as an error. A process that exits after starting successfully
// is not detected here.
func (a *SubprocessAgent) Authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cmd != nil {
		return nil
	}
	return a.spawnLocked(ctx)
}

func (a *SubprocessAgent) spawnLocked(ctx context.Context) error {
	cmd := exec.CommandContext(context.Background(), a.path, a.args...) // outlives a single turn's ctx
	if len(a.env) > 0 {
		cmd.Env = a.env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("backend: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("backend: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("backend: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("backend: start: %w", err)
	}

	a.cmd = cmd
	a.stdin = stdin
	a.stdout = bufio.NewReaderSize(stdout, 64*1024)

	go a.drainStderr(stderr)

	return nil
}

func (a *SubprocessAgent) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		a.stderrMu.Lock()
		a.stderrBuf = append(a.stderrBuf, line)
		if len(a.stderrBuf) > stderrBufferLines {
			a.stderrBuf = a.stderrBuf[len(a.stderrBuf)-stderrBufferLines:]
		}
		a.stderrMu.Unlock()
		a.logger.Debug("backend stderr", zap.String("line", line))
	}
}

// RecentStderr returns buffered stderr lines for diagnostics/error context.
func (a *SubprocessAgent) RecentStderr() []string {
	a.stderrMu.Lock()
	defer a.stderrMu.Unlock()
	out := make([]string, len(a.stderrBuf))
	copy(out, a.stderrBuf)
	return out
}

// StartTurn writes one command line and streams parsed events until
// turn_end/turn_error or the subprocess closes unexpectedly.
func (a *SubprocessAgent) StartTurn(ctx context.Context, req StartTurnRequest) (<-chan Event, error) {
	a.mu.Lock()
	if a.cmd == nil {
		if err := a.spawnLocked(ctx); err != nil {
			a.mu.Unlock()
			return nil, err
		}
	}
	stdin := a.stdin
	stdout := a.stdout
	a.mu.Unlock()

	cmd := wireCommand{
		Type:           "prompt",
		Prompt:         req.Prompt,
		ResumeID:       req.ResumeID,
		MaxTurns:       req.MaxTurns,
		PermissionMode: req.PermissionMode,
	}
	line, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("backend: marshal command: %w", err)
	}
	line = append(line, '\n')
	if _, err := stdin.Write(line); err != nil {
		return nil, NewAdapterError("write command", err)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	a.cancelMu.Lock()
	a.cancelFn = cancel
	a.cancelMu.Unlock()

	out := make(chan Event, 16)
	go a.readEvents(turnCtx, stdout, out)
	return out, nil
}

func (a *SubprocessAgent) readEvents(ctx context.Context, stdout *bufio.Reader, out chan<- Event) {
	defer close(out)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := stdout.ReadBytes('\n')
		if len(raw) > 0 {
			line := strings.TrimRight(string(raw), "\r\n")
			if line != "" {
				if ev, ok := decodeWireEvent(line); ok {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
					if ev.Kind == EventTurnEnd || ev.Kind == EventTurnError {
						return
					}
				} else {
					a.logger.Warn("malformed backend event", zap.String("line", line))
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				a.logger.Warn("backend stdout read error", zap.Error(err))
			}
			select {
			case out <- Event{Kind: EventTurnError, Message: "backend stream closed unexpectedly"}:
			case <-ctx.Done():
			}
			return
		}
	}
}

func decodeWireEvent(line string) (Event, bool) {
	var w wireEvent
	if err := json.Unmarshal([]byte(line), &w); err != nil {
		return Event{}, false
	}
	kind, ok := wireEventKinds[w.Type]
	if !ok {
		return Event{}, false
	}
	return Event{
		Kind:             kind,
		BackendSessionID: w.SessionID,
		Text:             w.Text,
		ToolCallID:       w.ToolCallID,
		ToolName:         w.ToolName,
		ToolInput:        w.ToolInput,
		ToolOutput:       w.ToolOutput,
		Message:          w.Message,
	}, true
}

// Cancel stops the event reader for the in-flight turn by cancelling its
// context; the subprocess itself stays up for the next turn.
func (a *SubprocessAgent) Cancel(ctx context.Context) error {
	a.cancelMu.Lock()
	if a.cancelFn != nil {
		a.cancelFn()
	}
	a.cancelMu.Unlock()
	return nil
}

// Version reports the backend's self-reported version. This adapter never
// queries the backend for one, so it is always empty.
func (a *SubprocessAgent) Version() string { return a.version }

// Close closes the subprocess's stdin and waits for it to exit, if running.
func (a *SubprocessAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stdin != nil {
		_ = a.stdin.Close()
	}
	if a.cmd != nil && a.cmd.Process != nil {
		_ = a.cmd.Wait()
	}
	return nil
}
