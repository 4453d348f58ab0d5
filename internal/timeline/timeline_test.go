package timeline

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

func msg(id string, kind types.MessageKind) *types.Message {
	return &types.Message{ID: id, Kind: kind}
}

func toolUse(id, useID string, status types.ToolStatus) *types.Message {
	return &types.Message{
		ID:   id,
		Kind: types.KindToolInvocation,
		Tool: &types.ToolCall{ToolUseID: useID, Name: "Read", Status: status},
	}
}

func toolResult(id, useID string, isError bool) *types.Message {
	return &types.Message{
		ID:     id,
		Kind:   types.KindToolResult,
		Result: &types.ToolOutcome{ToolUseID: useID, Content: "done", IsError: isError},
	}
}

func TestDeriveGroupsAssistantPlan(t *testing.T) {
	msgs := []*types.Message{
		msg("u1", types.KindUserInput),
		msg("th1", types.KindThinking),
		msg("a1", types.KindAssistantOutput),
		toolUse("t1", "use1", types.ToolCompleted),
		toolResult("r1", "use1", false),
	}

	entries := Derive(msgs, false)
	require.Len(t, entries, 3)

	assert.False(t, entries[0].IsPlan())
	assert.Equal(t, "u1", entries[0].Standalone.ID)

	// Thinking with no open plan opens one; assistant output flushes it.
	require.True(t, entries[1].IsPlan())
	assert.Equal(t, "th1", entries[1].Thinking.ID)
	assert.Nil(t, entries[1].Assistant)

	require.True(t, entries[2].IsPlan())
	assert.Equal(t, "a1", entries[2].Assistant.ID)
	require.Len(t, entries[2].Steps, 1)
	assert.Equal(t, "t1", entries[2].Steps[0].Invocation.ID)
	assert.Equal(t, "r1", entries[2].Steps[0].Result.ID)
	assert.Equal(t, StatusCompleted, entries[2].Status)
}

func TestDeriveThinkingAttachesToOpenPlan(t *testing.T) {
	msgs := []*types.Message{
		msg("a1", types.KindAssistantOutput),
		msg("th1", types.KindThinking),
	}

	entries := Derive(msgs, false)
	require.Len(t, entries, 1)
	assert.Equal(t, "a1", entries[0].Assistant.ID)
	assert.Equal(t, "th1", entries[0].Thinking.ID)
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name         string
		messages     []*types.Message
		isProcessing bool
		expected     PlanStatus
	}{
		{
			name:     "zero steps idle is completed",
			messages: []*types.Message{msg("a1", types.KindAssistantOutput)},
			expected: StatusCompleted,
		},
		{
			name:         "zero steps processing is executing",
			messages:     []*types.Message{msg("a1", types.KindAssistantOutput)},
			isProcessing: true,
			expected:     StatusExecuting,
		},
		{
			name: "unresolved step is executing",
			messages: []*types.Message{
				msg("a1", types.KindAssistantOutput),
				toolUse("t1", "u1", types.ToolPending),
			},
			expected: StatusExecuting,
		},
		{
			name: "error result is failed even while processing",
			messages: []*types.Message{
				msg("a1", types.KindAssistantOutput),
				toolUse("t1", "u1", types.ToolFailed),
				toolResult("r1", "u1", true),
			},
			isProcessing: true,
			expected:     StatusFailed,
		},
		{
			name: "all resolved idle is completed",
			messages: []*types.Message{
				msg("a1", types.KindAssistantOutput),
				toolUse("t1", "u1", types.ToolCompleted),
				toolResult("r1", "u1", false),
				toolUse("t2", "u2", types.ToolCompleted),
				toolResult("r2", "u2", false),
			},
			expected: StatusCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := Derive(tt.messages, tt.isProcessing)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.expected, entries[0].Status)
		})
	}
}

func TestDeriveOrphanResultBecomesUnresolvedStep(t *testing.T) {
	msgs := []*types.Message{
		toolResult("r1", "u1", false),
	}

	entries := Derive(msgs, false)
	require.Len(t, entries, 1)
	require.True(t, entries[0].IsPlan())
	require.Len(t, entries[0].Steps, 1)
	assert.Nil(t, entries[0].Steps[0].Invocation)
	assert.Equal(t, "r1", entries[0].Steps[0].Result.ID)
}

func TestDeriveResultBindsToLastOpenStep(t *testing.T) {
	msgs := []*types.Message{
		msg("a1", types.KindAssistantOutput),
		toolUse("t1", "u1", types.ToolPending),
		toolUse("t2", "u2", types.ToolPending),
		toolResult("r2", "u2", false),
	}

	entries := Derive(msgs, true)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Steps, 2)
	assert.Nil(t, entries[0].Steps[0].Result)
	require.NotNil(t, entries[0].Steps[1].Result)
	assert.Equal(t, "r2", entries[0].Steps[1].Result.ID)
}

func TestDeriveStandaloneKindsFlushPlan(t *testing.T) {
	flushing := []types.MessageKind{
		types.KindUserInput,
		types.KindError,
		types.KindPermissionRequest,
		types.KindRestorePoint,
		types.KindCompactBoundary,
		types.KindLoading,
	}

	for _, kind := range flushing {
		t.Run(string(kind), func(t *testing.T) {
			msgs := []*types.Message{
				msg("a1", types.KindAssistantOutput),
				msg("x1", kind),
			}
			entries := Derive(msgs, false)
			require.Len(t, entries, 2)
			assert.True(t, entries[0].IsPlan())
			assert.Equal(t, "x1", entries[1].Standalone.ID)
		})
	}
}

func TestDeriveDropsSessionInfo(t *testing.T) {
	msgs := []*types.Message{
		msg("a1", types.KindAssistantOutput),
		{ID: "s1", Kind: types.KindSessionInfo, Session: &types.SessionInfo{SessionID: "x"}},
	}

	entries := Derive(msgs, false)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsPlan())
}

func TestDeriveIsPure(t *testing.T) {
	msgs := []*types.Message{
		msg("u1", types.KindUserInput),
		msg("a1", types.KindAssistantOutput),
		toolUse("t1", "u1", types.ToolCompleted),
		toolResult("r1", "u1", false),
		msg("e1", types.KindError),
	}

	first := Derive(msgs, true)
	second := Derive(msgs, true)

	assert.True(t, reflect.DeepEqual(first, second), "identical inputs must yield structurally identical output")

	// Deriving must not mutate the input list.
	third := Derive(msgs, true)
	assert.True(t, reflect.DeepEqual(first, third))
}

func TestDeriveEmpty(t *testing.T) {
	assert.Empty(t, Derive(nil, false))
	assert.Empty(t, Derive([]*types.Message{}, true))
}
