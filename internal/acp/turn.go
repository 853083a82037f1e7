package acp

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/acp-bridge/internal/backend"
	"github.com/kandev/acp-bridge/internal/logging"
)

const toolCallStartDelay = 100 * time.Millisecond
const planDebounce = 500 * time.Millisecond

// inline permission markers recognized at the start of pre-flight (spec §4.8).
const (
	markerAcceptEdits = "[ACP:PERMISSION:ACCEPT_EDITS]"
	markerBypass      = "[ACP:PERMISSION:BYPASS]"
	markerDefault     = "[ACP:PERMISSION:DEFAULT]"
)

// scanPermissionMarker finds the first inline permission marker in text, if
// any, returning the mode it selects.
func scanPermissionMarker(text string) (PermissionMode, bool) {
	type candidate struct {
		marker string
		mode   PermissionMode
	}
	candidates := []candidate{
		{markerAcceptEdits, PermissionAcceptEdits},
		{markerBypass, PermissionBypassPermissions},
		{markerDefault, PermissionDefault},
	}
	best := -1
	var bestMode PermissionMode
	for _, c := range candidates {
		if idx := strings.Index(text, c.marker); idx >= 0 && (best == -1 || idx < best) {
			best = idx
			bestMode = c.mode
		}
	}
	if best == -1 {
		return "", false
	}
	return bestMode, true
}

// TurnExecutor drives a single prompt turn end to end (C8, spec §4.8): the
// central state machine translating a backend's event stream into ordered
// ACP session/update notifications.
type TurnExecutor struct {
	endpoint    *Endpoint
	permissions *PermissionBroker
	context     *ContextMonitor
	guard       *ResourceGuard
	breaker     *CircuitBreaker
	agent       backend.Agent
	logger      *logging.Logger

	maxTurns int
}

func NewTurnExecutor(
	endpoint *Endpoint,
	permissions *PermissionBroker,
	ctxMonitor *ContextMonitor,
	guard *ResourceGuard,
	breaker *CircuitBreaker,
	agent backend.Agent,
	maxTurns int,
	log *logging.Logger,
) *TurnExecutor {
	return &TurnExecutor{
		endpoint:    endpoint,
		permissions: permissions,
		context:     ctxMonitor,
		guard:       guard,
		breaker:     breaker,
		agent:       agent,
		maxTurns:    maxTurns,
		logger:      log.WithFields(zap.String("component", "turn-executor")),
	}
}

// Run executes one prompt turn. The caller must already hold sess's turn
// mutex (the Agent Facade does this around session/prompt).
func (e *TurnExecutor) Run(ctx context.Context, sess *Session, promptBlocks []ContentBlock) (StopReason, error) {
	promptText := concatText(promptBlocks)

	// Pre-flight 1: inline permission markers.
	if mode, ok := scanPermissionMarker(promptText); ok {
		sess.PermissionMode = mode
	}

	// Pre-flight 2: context monitor.
	if _, level := e.context.AddMessage(sess.ID, promptText); level != UsageNone {
		e.emitUpdate(sess.ID, messageChunkUpdate{
			SessionUpdate: "agent_message_chunk",
			Content:       TextBlock(advisoryText(level)),
		})
	}

	// Pre-flight 3: resource guard admission.
	admitted, finishOp := e.guard.StartOperation()
	if !admitted {
		return "", NewResourceExhaustedError("resource exhausted: too many concurrent operations")
	}
	defer finishOp()

	turnHandle := sess.beginTurn(ctx)
	defer sess.endTurn()
	sess.touch()

	if isComplexPrompt(promptText) {
		sess.CurrentPlan = synthesizePlan(promptText)
		e.emitUpdate(sess.ID, planUpdate{SessionUpdate: "plan", Entries: toWirePlan(sess.CurrentPlan)})
	}

	// Pre-flight 4: start the backend turn through the circuit breaker.
	var events <-chan backend.Event
	startErr := e.breaker.Call(turnHandle.ctx, func(ctx context.Context) error {
		ch, err := e.agent.StartTurn(ctx, backend.StartTurnRequest{
			Prompt:         promptText,
			ResumeID:       sess.BackendHandle,
			MaxTurns:       e.maxTurns,
			PermissionMode: string(sess.PermissionMode),
		})
		if err != nil {
			return err
		}
		events = ch
		return nil
	})

	if startErr == ErrCircuitOpen {
		e.emitUpdate(sess.ID, messageChunkUpdate{
			SessionUpdate: "agent_message_chunk",
			Content:       TextBlock("Service temporarily unavailable, please try again shortly."),
		})
		return StopEndTurn, nil
	}
	if startErr != nil {
		e.logger.Warn("backend start_turn failed", zap.Error(startErr))
		e.emitUpdate(sess.ID, messageChunkUpdate{
			SessionUpdate: "agent_message_chunk",
			Content:       TextBlock("The backend agent failed to start: " + startErr.Error()),
		})
		return StopEndTurn, nil
	}

	return e.runEventLoop(turnHandle, sess, events), nil
}

func (e *TurnExecutor) runEventLoop(turn *TurnHandle, sess *Session, events <-chan backend.Event) StopReason {
	debouncer := newPlanDebouncer(planDebounce, func(plan []PlanEntry) {
		e.emitUpdate(sess.ID, planUpdate{SessionUpdate: "plan", Entries: toWirePlan(plan)})
	})
	defer debouncer.stop()

	for {
		select {
		case <-turn.Done():
			e.handleCancellation(sess)
			return StopCancelled
		case ev, ok := <-events:
			if !ok {
				return StopEndTurn
			}
			turn.EventCount++
			if done, reason := e.handleEvent(sess, ev, debouncer); done {
				return reason
			}
		}
	}
}

// handleEvent applies the event-mapping table (spec §4.8) and returns
// (true, reason) if the loop should exit.
func (e *TurnExecutor) handleEvent(sess *Session, ev backend.Event, debouncer *planDebouncer) (bool, StopReason) {
	switch ev.Kind {
	case backend.EventSessionAssigned:
		sess.BackendHandle = ev.BackendSessionID

	case backend.EventAssistantText:
		e.context.AddMessage(sess.ID, ev.Text)
		e.emitUpdate(sess.ID, messageChunkUpdate{SessionUpdate: "agent_message_chunk", Content: TextBlock(ev.Text)})

	case backend.EventAssistantThought:
		e.emitUpdate(sess.ID, messageChunkUpdate{SessionUpdate: "agent_thought_chunk", Content: TextBlock(ev.Text)})

	case backend.EventToolUse:
		e.handleToolUse(sess, ev, debouncer)

	case backend.EventToolResult:
		e.handleToolResult(sess, ev, debouncer)

	case backend.EventToolError:
		e.handleToolError(sess, ev, debouncer)

	case backend.EventTurnEnd:
		return true, StopEndTurn

	case backend.EventTurnError:
		e.emitUpdate(sess.ID, messageChunkUpdate{SessionUpdate: "agent_message_chunk", Content: TextBlock("Error: " + ev.Message)})
		return true, StopEndTurn
	}
	return false, ""
}

func (e *TurnExecutor) handleToolUse(sess *Session, ev backend.Event, debouncer *planDebouncer) {
	kind := classifyToolKind(ev.ToolName)
	title := toolTitle(ev.ToolName, ev.ToolInput)

	record := &ToolCallRecord{
		ID:       ev.ToolCallID,
		Kind:     kind,
		Title:    title,
		Status:   ToolCallPending,
		RawInput: ev.ToolInput,
	}
	sess.PutToolCall(record)

	op := ToolOperation{
		ToolName:      ev.ToolName,
		OpType:        opTypeForKind(kind),
		AffectedPaths: toolAffectedPaths(ev.ToolInput),
		Command:       toolCommand(ev.ToolInput),
	}
	decision := e.permissions.Classify(sess.PermissionMode, op, sess.CWD)

	allowed := decision.Allow
	if decision.RequiresConfirmation {
		allowed = e.requestPermission(sess, record, decision.Options)
	}

	if !allowed {
		record.Status = ToolCallFailed
		e.emitUpdate(sess.ID, toolCallUpdate{
			SessionUpdate: "tool_call",
			ID:            record.ID,
			Title:         record.Title,
			Kind:          record.Kind,
			Status:        ToolCallPending,
			RawInput:      record.RawInput,
		})
		e.emitUpdate(sess.ID, toolCallStatusUpdate{
			SessionUpdate: "tool_call_update",
			ID:            record.ID,
			Status:        ToolCallFailed,
			Content:       []ContentBlock{TextBlock("Permission denied")},
		})
		sess.RemoveToolCall(record.ID)
		advanceAndDebounce(sess, debouncer)
		return
	}

	e.emitUpdate(sess.ID, toolCallUpdate{
		SessionUpdate: "tool_call",
		ID:            record.ID,
		Title:         record.Title,
		Kind:          record.Kind,
		Status:        ToolCallPending,
		RawInput:      record.RawInput,
	})

	go func() {
		time.Sleep(toolCallStartDelay)
		record.Status = ToolCallInProgress
		e.emitUpdate(sess.ID, toolCallStatusUpdate{SessionUpdate: "tool_call_update", ID: record.ID, Status: ToolCallInProgress})
	}()
}

// requestPermission issues session/request_permission and interprets the
// outcome (spec §4.3.5).
func (e *TurnExecutor) requestPermission(sess *Session, record *ToolCallRecord, options []PermissionOption) bool {
	result, rpcErr, err := e.endpoint.SendRequest(context.Background(), MethodRequestPermission, RequestPermissionParams{
		SessionID: sess.ID,
		ToolCall: toolCallUpdate{
			SessionUpdate: "tool_call",
			ID:            record.ID,
			Title:         record.Title,
			Kind:          record.Kind,
			Status:        ToolCallPending,
			RawInput:      record.RawInput,
		},
		Options: options,
	})
	if err != nil || rpcErr != nil {
		e.logger.Warn("permission request failed", zap.Error(err))
		return false
	}

	var parsed RequestPermissionResult
	if unmarshalErr := unmarshalResult(result, &parsed); unmarshalErr != nil {
		return false
	}
	return ResolveOutcome(parsed.Outcome)
}

func (e *TurnExecutor) handleToolResult(sess *Session, ev backend.Event, debouncer *planDebouncer) {
	record, ok := sess.ToolCall(ev.ToolCallID)
	if !ok {
		return
	}
	record.Status = ToolCallCompleted

	var content []ContentBlock
	if diff, ok := synthesizeDiff(record.RawInput); ok {
		content = append(content, diff)
	} else if ev.ToolOutput != "" {
		content = append(content, TextBlock(ev.ToolOutput))
	}

	e.emitUpdate(sess.ID, toolCallStatusUpdate{SessionUpdate: "tool_call_update", ID: record.ID, Status: ToolCallCompleted, Content: content})
	sess.RemoveToolCall(record.ID)
	advanceAndDebounce(sess, debouncer)
}

func (e *TurnExecutor) handleToolError(sess *Session, ev backend.Event, debouncer *planDebouncer) {
	record, ok := sess.ToolCall(ev.ToolCallID)
	if !ok {
		return
	}
	record.Status = ToolCallFailed
	e.emitUpdate(sess.ID, toolCallStatusUpdate{
		SessionUpdate: "tool_call_update",
		ID:            record.ID,
		Status:        ToolCallFailed,
		Content:       []ContentBlock{TextBlock(ev.Message)},
	})
	sess.RemoveToolCall(record.ID)
	advanceAndDebounce(sess, debouncer)
}

func advanceAndDebounce(sess *Session, debouncer *planDebouncer) {
	if len(sess.CurrentPlan) == 0 {
		return
	}
	if advancePlan(sess.CurrentPlan) {
		debouncer.schedule(sess.CurrentPlan)
	}
}

// handleCancellation marks every non-terminal tool call failed with a
// synthetic message, flushes the updates, and instructs the adapter to
// abort (spec §4.8 cancellation semantics).
func (e *TurnExecutor) handleCancellation(sess *Session) {
	for _, record := range sess.ActiveToolCalls() {
		record.Status = ToolCallFailed
		e.emitUpdate(sess.ID, toolCallStatusUpdate{
			SessionUpdate: "tool_call_update",
			ID:            record.ID,
			Status:        ToolCallFailed,
			Content:       []ContentBlock{TextBlock("cancelled")},
		})
		sess.RemoveToolCall(record.ID)
	}
	_ = e.agent.Cancel(context.Background())
}

func (e *TurnExecutor) emitUpdate(sessionID string, update any) {
	if err := e.endpoint.SendNotification(MethodSessionUpdate, SessionUpdateParams{SessionID: sessionID, Update: update}); err != nil {
		e.logger.Warn("failed to emit session/update", zap.Error(err))
	}
}

func concatText(blocks []ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func advisoryText(level UsageLevel) string {
	if level == UsageCritical {
		return "[context usage critical: approaching the conversation's context window limit]"
	}
	return "[context usage warning: this conversation is approaching the context window limit]"
}

// planDebouncer coalesces rapid plan advances into one update per trailing
// window (spec §4.8: "Plan updates are debounced with a 500 ms trailing timer").
type planDebouncer struct {
	mu      sync.Mutex
	period  time.Duration
	timer   *time.Timer
	pending []PlanEntry
	emit    func([]PlanEntry)
	stopped bool
}

func newPlanDebouncer(period time.Duration, emit func([]PlanEntry)) *planDebouncer {
	return &planDebouncer{period: period, emit: emit}
}

func (d *planDebouncer) schedule(plan []PlanEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	snapshot := make([]PlanEntry, len(plan))
	copy(snapshot, plan)
	d.pending = snapshot

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.period, d.fire)
}

func (d *planDebouncer) fire() {
	d.mu.Lock()
	plan := d.pending
	d.pending = nil
	stopped := d.stopped
	d.mu.Unlock()
	if !stopped && plan != nil {
		d.emit(plan)
	}
}

func (d *planDebouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	if d.pending != nil {
		plan := d.pending
		d.pending = nil
		go d.emit(plan)
	}
}
