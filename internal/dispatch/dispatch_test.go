package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpanel-ai/chatpanel/internal/event"
	"github.com/chatpanel-ai/chatpanel/internal/permission"
	"github.com/chatpanel-ai/chatpanel/internal/session"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

type fixture struct {
	store *session.Store
	perms *permission.Manager
	bus   *event.Bus
	d     *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRules(t, permission.Rules{})
}

func newFixtureWithRules(t *testing.T, rules permission.Rules) *fixture {
	t.Helper()
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	store := session.New()
	perms := permission.NewManager(bus, nil, permission.Config{Rules: rules})
	return &fixture{
		store: store,
		perms: perms,
		bus:   bus,
		d:     New(store, perms, bus),
	}
}

// ev builds an inbound event the way the transport does: from a JSON object.
func ev(t *testing.T, typ types.InboundType, fields map[string]any) types.InboundEvent {
	t.Helper()
	if fields == nil {
		fields = map[string]any{}
	}
	fields["type"] = string(typ)
	data, err := json.Marshal(fields)
	require.NoError(t, err)

	var e types.InboundEvent
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func (f *fixture) kinds() []types.MessageKind {
	msgs := f.store.Messages()
	kinds := make([]types.MessageKind, len(msgs))
	for i, m := range msgs {
		kinds[i] = m.Kind
	}
	return kinds
}

func TestOutputFragmentsConcatenate(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "Hel", "isFinal": false}))
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "lo, ", "isFinal": false}))
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "world", "isFinal": true}))

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello, world", msgs[0].Text)
	assert.False(t, msgs[0].Streaming)
	assert.Nil(t, f.store.Streaming())
}

func TestSingleFinalOutputCreatesFinalizedMessage(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "done", "isFinal": true}))

	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Streaming)
	assert.Nil(t, f.store.Streaming())
}

func TestEarlyTokenSnapshotAttachesOnce(t *testing.T) {
	f := newFixture(t)

	// Usage arrives before any assistant output exists.
	f.d.Dispatch(ev(t, types.InUpdateTokens, map[string]any{
		"current": map[string]any{"input": 12, "output": 3},
	}))
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "a", "isFinal": true}))
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "b", "isFinal": true}))

	msgs := f.store.Messages()
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].Usage)
	assert.Equal(t, 12, msgs[0].Usage.Input)
	assert.Nil(t, msgs[1].Usage, "snapshot attaches at most once")
}

func TestUpdateTokensOnOpenStream(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "a", "isFinal": false}))
	f.d.Dispatch(ev(t, types.InUpdateTokens, map[string]any{
		"current": map[string]any{"input": 7, "output": 2},
	}))

	m := f.store.Streaming()
	require.NotNil(t, m)
	require.NotNil(t, m.Usage)
	assert.Equal(t, 7, m.Usage.Input)
}

func TestToolUseClosesOpenStream(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "let me look", "isFinal": false}))
	f.d.Dispatch(ev(t, types.InToolUse, map[string]any{
		"toolUseId": "u1", "toolName": "Read", "rawInput": map[string]any{"path": "main.go"},
	}))

	msgs := f.store.Messages()
	require.Len(t, msgs, 2)
	assert.False(t, msgs[0].Streaming, "a tool call always closes the preceding text segment")
	assert.Nil(t, f.store.Streaming())
	require.NotNil(t, msgs[1].Tool)
	assert.Equal(t, types.ToolPending, msgs[1].Tool.Status)
}

func TestStackPairingBindsInOrder(t *testing.T) {
	f := newFixture(t)

	// Three invocations, then three results without correlation ids: stack
	// discipline resolves last opened first.
	for _, name := range []string{"Read", "Grep", "Glob"} {
		f.d.Dispatch(ev(t, types.InToolUse, map[string]any{"toolUseId": "", "toolName": name}))
	}
	for range 3 {
		f.d.Dispatch(ev(t, types.InToolResult, map[string]any{"content": "ok", "isError": false}))
	}

	msgs := f.store.Messages()
	require.Len(t, msgs, 6)
	for i := range 3 {
		require.NotNil(t, msgs[i].Tool)
		assert.Equal(t, types.ToolCompleted, msgs[i].Tool.Status)
	}
}

func TestToolResultByExplicitID(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InToolUse, map[string]any{"toolUseId": "t1", "toolName": "Read"}))
	f.d.Dispatch(ev(t, types.InToolResult, map[string]any{
		"toolUseId": "t1", "content": "file contents", "isError": false, "hidden": false,
	}))

	msgs := f.store.Messages()
	require.Len(t, msgs, 2, "invocation plus visible result")
	assert.Equal(t, types.ToolCompleted, msgs[0].Tool.Status)
	require.NotNil(t, msgs[1].Result)
	assert.Equal(t, "file contents", msgs[1].Result.Content)
}

func TestHiddenToolResult(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InToolUse, map[string]any{"toolUseId": "t1", "toolName": "Read"}))
	f.d.Dispatch(ev(t, types.InToolResult, map[string]any{
		"toolUseId": "t1", "content": "secret", "isError": false, "hidden": true,
	}))

	msgs := f.store.Messages()
	require.Len(t, msgs, 1, "hidden result appends no message")
	assert.Equal(t, types.ToolCompleted, msgs[0].Tool.Status)
}

func TestErrorToolResultMarksInvocationFailed(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InToolUse, map[string]any{"toolUseId": "t1", "toolName": "Bash"}))
	f.d.Dispatch(ev(t, types.InToolResult, map[string]any{
		"toolUseId": "t1", "content": "exit 1", "isError": true,
	}))

	msgs := f.store.Messages()
	assert.Equal(t, types.ToolFailed, msgs[0].Tool.Status)
	assert.True(t, msgs[1].Result.IsError)
}

func TestTodoWriteRetainedAcrossTurnEnd(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": true}))
	f.d.Dispatch(ev(t, types.InToolUse, map[string]any{
		"toolUseId": "t1",
		"toolName":  "TodoWrite",
		"rawInput": map[string]any{
			"todos": []any{
				map[string]any{"content": "step 1", "status": "completed"},
				map[string]any{"content": "step 2", "status": "pending"},
			},
		},
	}))
	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": false}))

	todos := f.store.Todos()
	require.Len(t, todos, 2)
	assert.Equal(t, "step 1", todos[0].Content)
}

func TestTurnWithoutTodoWriteClearsTodos(t *testing.T) {
	f := newFixture(t)

	// Leftovers from a previous turn.
	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": true}))
	f.d.Dispatch(ev(t, types.InToolUse, map[string]any{
		"toolUseId": "t1",
		"toolName":  "TodoWrite",
		"rawInput": map[string]any{
			"todos": []any{map[string]any{"content": "old", "status": "pending"}},
		},
	}))
	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": false}))
	require.Len(t, f.store.Todos(), 1)

	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": true}))
	require.Empty(t, f.store.Todos(), "new turn clears previous todos")
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "no todos here", "isFinal": true}))
	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": false}))

	assert.Empty(t, f.store.Todos())
}

func TestSetProcessingOffFinalizesStream(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": true}))
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "partial", "isFinal": false}))
	require.NotNil(t, f.store.Streaming())

	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": false}))
	assert.Nil(t, f.store.Streaming())
	assert.False(t, f.store.IsProcessing())
}

func TestErrorForcesProcessingOff(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InSetProcessing, map[string]any{"isProcessing": true}))
	f.d.Dispatch(ev(t, types.InError, map[string]any{"message": "provider unavailable", "code": "E503"}))

	assert.False(t, f.store.IsProcessing())
	kinds := f.kinds()
	require.Contains(t, kinds, types.KindError)

	var errMsg *types.Message
	for _, m := range f.store.Messages() {
		if m.Kind == types.KindError {
			errMsg = m
		}
	}
	require.NotNil(t, errMsg)
	assert.Equal(t, "provider unavailable", errMsg.Error.Message)
	assert.Equal(t, "E503", errMsg.Error.Code)
}

func TestPermissionRequestEnqueuedBecomesMessage(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InPermissionRequest, map[string]any{
		"requestId": "p1", "toolName": "Edit",
		"input": map[string]any{"path": "main.go"},
	}))

	require.Len(t, f.perms.Pending(), 1)
	msgs := f.store.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, types.KindPermissionRequest, msgs[0].Kind)
	assert.Equal(t, "p1", msgs[0].Permission.RequestID)
}

func TestAutoDeniedPermissionRequestLeavesNoTrace(t *testing.T) {
	f := newFixtureWithRules(t, permission.Rules{AutoDeny: []string{"Edit"}})

	f.d.Dispatch(ev(t, types.InPermissionRequest, map[string]any{
		"requestId": "p1", "toolName": "Edit",
	}))

	assert.Empty(t, f.perms.Pending())
	assert.Empty(t, f.store.Messages(), "auto-resolved requests never reach the conversation")
}

func TestRestoreStateReplacesConversation(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "old", "isFinal": true}))
	require.Equal(t, 1, f.store.Len())

	f.d.Dispatch(ev(t, types.InRestoreState, map[string]any{
		"state": map[string]any{
			"messages": []any{
				map[string]any{"id": "u1", "kind": "user_input", "text": "hi", "timestamp": 1},
				map[string]any{"id": "a1", "kind": "assistant_output", "text": "hello", "timestamp": 2},
			},
			"sessionId": "restored",
		},
	}))

	msgs := f.store.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "u1", msgs[0].ID)
	assert.Equal(t, "restored", f.store.SessionInfo().SessionID)
	assert.False(t, f.store.IsProcessing())
}

func TestUpdateTotals(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InUpdateTotals, map[string]any{
		"totalCostUsd": 0.42, "durationMs": 1500, "numTurns": 3, "requestCount": 7,
	}))

	totals := f.store.Totals()
	assert.Equal(t, 0.42, totals.CostUSD)
	assert.Equal(t, int64(1500), totals.DurationMS)
	assert.Equal(t, 3, totals.NumTurns)
	assert.Equal(t, 7, totals.RequestCount)
}

func TestSessionInfoRecordsMetadata(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InSessionInfo, map[string]any{
		"sessionId": "s1", "tools": []any{"Read", "Edit"}, "mcpServers": []any{"fs"},
	}))

	info := f.store.SessionInfo()
	assert.Equal(t, "s1", info.SessionID)
	assert.Equal(t, []string{"Read", "Edit"}, info.Tools)
	assert.Equal(t, []types.MessageKind{types.KindSessionInfo}, f.kinds())
}

func TestCompactBoundary(t *testing.T) {
	f := newFixture(t)
	f.d.Dispatch(ev(t, types.InCompactBoundary, nil))
	assert.Equal(t, []types.MessageKind{types.KindCompactBoundary}, f.kinds())
}

func TestPublishedMessagesAreClones(t *testing.T) {
	f := newFixture(t)

	var created *types.Message
	f.bus.Subscribe(event.MessageCreated, func(e event.Event) {
		if d, ok := e.Data.(event.MessageCreatedData); ok {
			created = d.Message
		}
	})
	var updated *types.Message
	f.bus.Subscribe(event.MessageUpdated, func(e event.Event) {
		if d, ok := e.Data.(event.MessageUpdatedData); ok {
			updated = d.Message
		}
	})

	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "Hel", "isFinal": false}))
	require.NotNil(t, created)
	stored := f.store.Messages()[0]
	require.NotSame(t, stored, created, "subscribers must never see the stored message")

	// Later mutations of the stored message must not reach the published copy.
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "lo", "isFinal": true}))
	assert.Equal(t, "Hel", created.Text)
	require.NotNil(t, updated)
	require.NotSame(t, stored, updated)

	f.d.Dispatch(ev(t, types.InToolUse, map[string]any{"toolUseId": "t1", "toolName": "Read"}))
	f.d.Dispatch(ev(t, types.InToolResult, map[string]any{"toolUseId": "t1", "content": "ok", "hidden": true}))
	require.NotNil(t, updated.Tool)
	inv := f.store.FindToolInvocation("t1")
	require.NotSame(t, inv.Tool, updated.Tool)
}

func TestErrorWhileIdleFinalizesStream(t *testing.T) {
	f := newFixture(t)

	// A stream can be open without setProcessing ever turning on.
	f.d.Dispatch(ev(t, types.InOutput, map[string]any{"text": "half", "isFinal": false}))
	require.NotNil(t, f.store.Streaming())
	require.False(t, f.store.IsProcessing())

	f.d.Dispatch(ev(t, types.InError, map[string]any{"message": "gone"}))
	assert.Nil(t, f.store.Streaming())
	assert.False(t, f.store.Messages()[0].Streaming)
}

func TestDuplicatePermissionRequestAppendsOneMessage(t *testing.T) {
	f := newFixture(t)

	f.d.Dispatch(ev(t, types.InPermissionRequest, map[string]any{
		"requestId": "p1", "toolName": "Edit",
	}))
	f.d.Dispatch(ev(t, types.InPermissionRequest, map[string]any{
		"requestId": "p1", "toolName": "Edit",
	}))

	require.Len(t, f.perms.Pending(), 1)
	assert.Len(t, f.store.Messages(), 1, "a redelivered request is not surfaced twice")
}

func TestMalformedPayloadIsDropped(t *testing.T) {
	f := newFixture(t)

	e := types.InboundEvent{Type: types.InOutput, Payload: json.RawMessage(`{"text": 42}`)}
	f.d.Dispatch(e)

	assert.Empty(t, f.store.Messages(), "one bad event must not corrupt the session")
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.d.Dispatch(ev(t, types.InboundType("somethingNew"), map[string]any{"x": 1}))
	assert.Empty(t, f.store.Messages())
}
