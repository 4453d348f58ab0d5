package event

import "github.com/chatpanel-ai/chatpanel/pkg/types"

// MessageCreatedData is the data for message.created events.
type MessageCreatedData struct {
	Message *types.Message `json:"message"`
}

// MessageUpdatedData is the data for message.updated events. Delta carries
// the appended text fragment for streaming updates.
type MessageUpdatedData struct {
	Message *types.Message `json:"message"`
	Delta   string         `json:"delta,omitempty"`
}

// ProcessingChangedData is the data for processing.changed events.
type ProcessingChangedData struct {
	IsProcessing bool `json:"isProcessing"`
}

// TodosUpdatedData is the data for todos.updated events.
type TodosUpdatedData struct {
	Todos []types.TodoInfo `json:"todos"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	RequestID   string   `json:"requestID"`
	ToolName    string   `json:"toolName"`
	Description string   `json:"description,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	RequestID string `json:"requestID"`
	Status    string `json:"status"` // "approved" | "denied" | "expired"
	Decision  string `json:"decision,omitempty"`
}

// ConversationsListedData is the data for conversations.listed events.
type ConversationsListedData struct {
	Conversations []types.ConversationMeta `json:"conversations"`
}

// ConversationDeletedData is the data for conversation.deleted events.
type ConversationDeletedData struct {
	Filename string `json:"filename"`
}

// SessionErrorData is the data for session.error events.
type SessionErrorData struct {
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}
