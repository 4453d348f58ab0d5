package types

import "encoding/json"

// InboundType identifies a decoded inbound event from the assistant process.
type InboundType string

const (
	InSessionInfo         InboundType = "sessionInfo"
	InAccountInfo         InboundType = "accountInfo"
	InOutput              InboundType = "output"
	InThinking            InboundType = "thinking"
	InToolUse             InboundType = "toolUse"
	InToolResult          InboundType = "toolResult"
	InUpdateTokens        InboundType = "updateTokens"
	InUpdateTotals        InboundType = "updateTotals"
	InPermissionRequest   InboundType = "permissionRequest"
	InSetProcessing       InboundType = "setProcessing"
	InError               InboundType = "error"
	InConversationList    InboundType = "conversationList"
	InConversationDeleted InboundType = "conversationDeleted"
	InRestoreState        InboundType = "restoreState"
	InCompactBoundary     InboundType = "compactBoundary"
	InUsageData           InboundType = "usageData"
)

// InboundEvent is the wire envelope for events arriving from the transport.
// Payload holds the remaining fields undecoded; handlers decode into the
// per-kind structs below and ignore anything they do not recognize.
type InboundEvent struct {
	Type    InboundType
	Payload json.RawMessage
}

// UnmarshalJSON keeps the full object as the payload so per-kind decoding
// sees every field, not just the ones next to "type".
func (e *InboundEvent) UnmarshalJSON(data []byte) error {
	var head struct {
		Type InboundType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	e.Type = head.Type
	e.Payload = append(e.Payload[:0], data...)
	return nil
}

// Decode unmarshals the payload into v. A nil payload decodes to the zero
// value; malformed payloads surface as an error for the dispatcher to log.
func (e *InboundEvent) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Per-kind inbound payloads.

type SessionInfoEvent struct {
	SessionID  string   `json:"sessionId"`
	Tools      []string `json:"tools"`
	MCPServers []string `json:"mcpServers"`
}

type AccountInfoEvent struct {
	Account AccountInfo `json:"account"`
}

// AccountInfo describes the signed-in account, if any.
type AccountInfo struct {
	Email        string `json:"email,omitempty"`
	Organization string `json:"organization,omitempty"`
	Plan         string `json:"plan,omitempty"`
}

type OutputEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

type ThinkingEvent struct {
	Thinking string `json:"thinking"`
}

type ToolUseEvent struct {
	ToolUseID string         `json:"toolUseId"`
	ToolName  string         `json:"toolName"`
	RawInput  map[string]any `json:"rawInput"`
}

type ToolResultEvent struct {
	ToolUseID string          `json:"toolUseId"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"isError"`
	Hidden    bool            `json:"hidden"`
}

type UpdateTokensEvent struct {
	Current TokenUsage `json:"current"`
}

type UpdateTotalsEvent struct {
	TotalCostUSD float64  `json:"totalCostUsd"`
	DurationMS   int64    `json:"durationMs"`
	NumTurns     int      `json:"numTurns"`
	RequestCount *int     `json:"requestCount,omitempty"`
	TotalCost    *float64 `json:"totalCost,omitempty"`
}

type PermissionRequestEvent struct {
	RequestID   string                 `json:"requestId"`
	ToolUseID   string                 `json:"toolUseId"`
	ToolName    string                 `json:"toolName"`
	Input       map[string]any         `json:"input"`
	Description string                 `json:"description"`
	Suggestions []PermissionSuggestion `json:"suggestions"`
}

// PermissionSuggestion is one resolution option offered by the assistant
// alongside a permission request.
type PermissionSuggestion struct {
	Type  string `json:"type"` // "allow" | "allow_always" | "allow_session" | "allow_all" | "deny" | "explain"
	Label string `json:"label,omitempty"`
}

type SetProcessingEvent struct {
	IsProcessing bool `json:"isProcessing"`
}

type ErrorEvent struct {
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

type ConversationListEvent struct {
	Conversations []ConversationMeta `json:"conversations"`
	Data          []ConversationMeta `json:"data"` // legacy field name
}

// Entries returns whichever field the sender populated.
func (e *ConversationListEvent) Entries() []ConversationMeta {
	if len(e.Conversations) > 0 {
		return e.Conversations
	}
	return e.Data
}

// ConversationMeta describes one persisted conversation on disk.
type ConversationMeta struct {
	Filename  string `json:"filename"`
	Title     string `json:"title,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

type ConversationDeletedEvent struct {
	Filename string `json:"filename"`
}

type RestoreStateEvent struct {
	State Snapshot `json:"state"`
}

type UsageDataEvent struct {
	Data map[string]any `json:"data"`
}
