// Package dispatch maps decoded inbound events to state mutations: one
// event, one synchronous mutation pass over the session store and the
// permission manager.
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatpanel-ai/chatpanel/internal/event"
	"github.com/chatpanel-ai/chatpanel/internal/logging"
	"github.com/chatpanel-ai/chatpanel/internal/permission"
	"github.com/chatpanel-ai/chatpanel/internal/session"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// Dispatcher routes inbound events to their handlers. A malformed event is
// logged and dropped; handler panics are recovered so one bad event can
// never take down the host.
type Dispatcher struct {
	store *session.Store
	perms *permission.Manager
	bus   *event.Bus
	log   zerolog.Logger

	now func() time.Time

	turnStarted time.Time
}

// New creates a dispatcher over the given stores.
func New(store *session.Store, perms *permission.Manager, bus *event.Bus) *Dispatcher {
	return &Dispatcher{
		store: store,
		perms: perms,
		bus:   bus,
		log:   logging.For("dispatch"),
		now:   time.Now,
	}
}

// SetClock overrides the dispatcher clock, for tests.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }

// Dispatch handles one inbound event. The handler completes its entire
// mutation before Dispatch returns; callers must not interleave calls.
func (d *Dispatcher) Dispatch(ev types.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("type", string(ev.Type)).Msg("handler panicked")
		}
	}()

	switch ev.Type {
	case types.InSessionInfo:
		d.handleSessionInfo(ev)
	case types.InAccountInfo:
		d.handleAccountInfo(ev)
	case types.InOutput:
		d.handleOutput(ev)
	case types.InThinking:
		d.handleThinking(ev)
	case types.InToolUse:
		d.handleToolUse(ev)
	case types.InToolResult:
		d.handleToolResult(ev)
	case types.InUpdateTokens:
		d.handleUpdateTokens(ev)
	case types.InUpdateTotals:
		d.handleUpdateTotals(ev)
	case types.InPermissionRequest:
		d.handlePermissionRequest(ev)
	case types.InSetProcessing:
		d.handleSetProcessing(ev)
	case types.InError:
		d.handleError(ev)
	case types.InConversationList:
		d.handleConversationList(ev)
	case types.InConversationDeleted:
		d.handleConversationDeleted(ev)
	case types.InRestoreState:
		d.handleRestoreState(ev)
	case types.InCompactBoundary:
		d.handleCompactBoundary()
	case types.InUsageData:
		// Usage dashboards are a presentation concern; nothing to mutate.
		d.log.Debug().Msg("usageData ignored")
	default:
		d.log.Warn().Str("type", string(ev.Type)).Msg("unknown inbound event")
	}
}

func (d *Dispatcher) decode(ev types.InboundEvent, v any) bool {
	if err := ev.Decode(v); err != nil {
		d.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("malformed event payload")
		return false
	}
	return true
}

// append and updated publish clones, never the stored message: subscribers
// hand events to other goroutines (websocket writers, printers) while the
// dispatcher keeps mutating the original.
func (d *Dispatcher) append(m *types.Message) {
	if m.Timestamp == 0 {
		m.Timestamp = d.now().UnixMilli()
	}
	if d.store.Append(m) {
		d.bus.PublishSync(event.Event{
			Type: event.MessageCreated,
			Data: event.MessageCreatedData{Message: m.Clone()},
		})
	}
}

func (d *Dispatcher) updated(m *types.Message, delta string) {
	d.bus.PublishSync(event.Event{
		Type: event.MessageUpdated,
		Data: event.MessageUpdatedData{Message: m.Clone(), Delta: delta},
	})
}

func (d *Dispatcher) handleSessionInfo(ev types.InboundEvent) {
	var p types.SessionInfoEvent
	if !d.decode(ev, &p) {
		return
	}
	info := types.SessionInfo{
		SessionID:  p.SessionID,
		Tools:      p.Tools,
		MCPServers: p.MCPServers,
	}
	d.store.SetSessionInfo(info)
	d.append(&types.Message{
		ID:      session.NewID(),
		Kind:    types.KindSessionInfo,
		Session: &info,
	})
}

func (d *Dispatcher) handleAccountInfo(ev types.InboundEvent) {
	var p types.AccountInfoEvent
	if !d.decode(ev, &p) {
		return
	}
	d.store.SetAccount(p.Account)
}

// handleOutput appends a fragment to the open stream or starts a new one.
// A token snapshot captured before any assistant output existed attaches to
// the first output lacking usage, at most once.
func (d *Dispatcher) handleOutput(ev types.InboundEvent) {
	var p types.OutputEvent
	if !d.decode(ev, &p) {
		return
	}

	if m := d.store.AppendStreamText(p.Text); m != nil {
		if p.IsFinal {
			d.store.FinalizeStream()
		}
		d.updated(m, p.Text)
		return
	}

	m := &types.Message{
		ID:        session.NewID(),
		Kind:      types.KindAssistantOutput,
		Text:      p.Text,
		Streaming: !p.IsFinal,
	}
	d.store.AttachPendingUsage(m)
	d.append(m)
}

func (d *Dispatcher) handleThinking(ev types.InboundEvent) {
	var p types.ThinkingEvent
	if !d.decode(ev, &p) {
		return
	}
	d.append(&types.Message{
		ID:   session.NewID(),
		Kind: types.KindThinking,
		Text: p.Thinking,
	})
}

// handleToolUse closes the preceding text segment, then records the
// invocation. TodoWrite additionally replaces the turn's todo list.
func (d *Dispatcher) handleToolUse(ev types.InboundEvent) {
	var p types.ToolUseEvent
	if !d.decode(ev, &p) {
		return
	}

	if m := d.store.FinalizeStream(); m != nil {
		d.updated(m, "")
	}

	if p.ToolName == "TodoWrite" {
		todos := extractTodos(p.RawInput)
		d.store.SetTodos(todos)
		d.bus.PublishSync(event.Event{
			Type: event.TodosUpdated,
			Data: event.TodosUpdatedData{Todos: todos},
		})
	}

	d.append(&types.Message{
		ID:   session.NewID(),
		Kind: types.KindToolInvocation,
		Tool: &types.ToolCall{
			ToolUseID: p.ToolUseID,
			Name:      p.ToolName,
			Input:     p.RawInput,
			Status:    types.ToolPending,
		},
	})
}

// handleToolResult resolves the matching invocation (explicit id first,
// stack fallback otherwise) and appends a visible result unless hidden.
func (d *Dispatcher) handleToolResult(ev types.InboundEvent) {
	var p types.ToolResultEvent
	if !d.decode(ev, &p) {
		return
	}

	inv := d.store.FindToolInvocation(p.ToolUseID)
	if inv != nil && inv.Tool != nil {
		if p.IsError {
			inv.Tool.Status = types.ToolFailed
		} else {
			inv.Tool.Status = types.ToolCompleted
		}
		d.updated(inv, "")
	} else {
		d.log.Warn().Str("toolUseID", p.ToolUseID).Msg("tool result without invocation")
	}

	if p.Hidden {
		return
	}
	d.append(&types.Message{
		ID:   session.NewID(),
		Kind: types.KindToolResult,
		Result: &types.ToolOutcome{
			ToolUseID: p.ToolUseID,
			Content:   coerceContent(p.Content),
			IsError:   p.IsError,
		},
	})
}

func (d *Dispatcher) handleUpdateTokens(ev types.InboundEvent) {
	var p types.UpdateTokensEvent
	if !d.decode(ev, &p) {
		return
	}
	if m := d.store.Streaming(); m != nil {
		if m.Usage == nil {
			m.Usage = &p.Current
			d.updated(m, "")
		}
		return
	}
	d.store.SetPendingUsage(p.Current)
}

func (d *Dispatcher) handleUpdateTotals(ev types.InboundEvent) {
	var p types.UpdateTotalsEvent
	if !d.decode(ev, &p) {
		return
	}
	t := d.store.Totals()
	t.CostUSD = p.TotalCostUSD
	if p.TotalCost != nil {
		t.CostUSD = *p.TotalCost
	}
	t.DurationMS = p.DurationMS
	t.NumTurns = p.NumTurns
	if p.RequestCount != nil {
		t.RequestCount = *p.RequestCount
	}
	d.store.SetTotals(t)
}

// handlePermissionRequest runs policy first; only requests that stay pending
// become visible in the conversation.
func (d *Dispatcher) handlePermissionRequest(ev types.InboundEvent) {
	var p types.PermissionRequestEvent
	if !d.decode(ev, &p) {
		return
	}
	if p.RequestID == "" {
		d.log.Warn().Msg("permission request without requestId")
		return
	}

	status, fresh := d.perms.HandleRequest(p)
	if status != permission.StatusPending || !fresh {
		return
	}
	d.append(&types.Message{
		ID:   session.NewID(),
		Kind: types.KindPermissionRequest,
		Permission: &types.PermissionInfo{
			RequestID: p.RequestID,
			ToolName:  p.ToolName,
			Input:     p.Input,
		},
	})
}

func (d *Dispatcher) handleSetProcessing(ev types.InboundEvent) {
	var p types.SetProcessingEvent
	if !d.decode(ev, &p) {
		return
	}
	d.setProcessing(p.IsProcessing)
}

// setProcessing flips the turn boundary. Turning on resets the todo
// discipline; turning off closes any open stream and clears todos only when
// no TodoWrite ran during the turn.
func (d *Dispatcher) setProcessing(on bool) {
	if !d.store.SetProcessing(on) {
		return
	}

	if on {
		d.turnStarted = d.now()
		d.store.BeginTurn()
	} else {
		if m := d.store.FinalizeStream(); m != nil {
			d.updated(m, "")
		}
		if cleared := d.store.EndTurn(); cleared {
			d.bus.PublishSync(event.Event{
				Type: event.TodosUpdated,
				Data: event.TodosUpdatedData{Todos: nil},
			})
		}
		if !d.turnStarted.IsZero() {
			d.log.Debug().Dur("turn", d.now().Sub(d.turnStarted)).Msg("turn finished")
		}
	}

	d.bus.PublishSync(event.Event{
		Type: event.ProcessingChanged,
		Data: event.ProcessingChangedData{IsProcessing: on},
	})
}

// handleError surfaces an assistant-reported error and forces the session
// out of the processing state. The stream is finalized here, not only via
// the processing toggle, since an error can arrive while already idle.
func (d *Dispatcher) handleError(ev types.InboundEvent) {
	var p types.ErrorEvent
	if !d.decode(ev, &p) {
		return
	}

	if m := d.store.FinalizeStream(); m != nil {
		d.updated(m, "")
	}
	d.append(&types.Message{
		ID:   session.NewID(),
		Kind: types.KindError,
		Error: &types.ErrorInfo{
			Message:     p.Message,
			Code:        p.Code,
			Recoverable: p.Recoverable,
		},
	})
	d.bus.PublishSync(event.Event{
		Type: event.SessionError,
		Data: event.SessionErrorData{Message: p.Message, Code: p.Code, Recoverable: p.Recoverable},
	})
	d.setProcessing(false)
}

func (d *Dispatcher) handleConversationList(ev types.InboundEvent) {
	var p types.ConversationListEvent
	if !d.decode(ev, &p) {
		return
	}
	d.bus.PublishSync(event.Event{
		Type: event.ConversationsListed,
		Data: event.ConversationsListedData{Conversations: p.Entries()},
	})
}

func (d *Dispatcher) handleConversationDeleted(ev types.InboundEvent) {
	var p types.ConversationDeletedEvent
	if !d.decode(ev, &p) {
		return
	}
	d.bus.PublishSync(event.Event{
		Type: event.ConversationDeleted,
		Data: event.ConversationDeletedData{Filename: p.Filename},
	})
}

func (d *Dispatcher) handleRestoreState(ev types.InboundEvent) {
	var p types.RestoreStateEvent
	if !d.decode(ev, &p) {
		return
	}
	d.store.Restore(p.State)
	d.bus.PublishSync(event.Event{Type: event.SessionRestored, Data: nil})
	d.bus.PublishSync(event.Event{Type: event.TimelineInvalidated, Data: nil})
}

func (d *Dispatcher) handleCompactBoundary() {
	d.append(&types.Message{
		ID:   session.NewID(),
		Kind: types.KindCompactBoundary,
	})
}

// extractTodos pulls the todo list out of a TodoWrite input.
func extractTodos(input map[string]any) []types.TodoInfo {
	raw, ok := input["todos"].([]any)
	if !ok {
		return nil
	}
	todos := make([]types.TodoInfo, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		t := types.TodoInfo{}
		if v, ok := m["content"].(string); ok {
			t.Content = v
		}
		if v, ok := m["status"].(string); ok {
			t.Status = v
		}
		if v, ok := m["priority"].(string); ok {
			t.Priority = v
		}
		if t.Content != "" {
			todos = append(todos, t)
		}
	}
	return todos
}

// coerceContent renders a tool result payload as text. Strings come through
// unquoted; anything else keeps its JSON form.
func coerceContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
