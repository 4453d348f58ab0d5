package types

// OutboundType identifies a command sent back to the assistant process.
type OutboundType string

const (
	OutSendMessage        OutboundType = "sendMessage"
	OutClearConversation  OutboundType = "clearConversation"
	OutPermissionResponse OutboundType = "permissionResponse"
	OutSaveConversation   OutboundType = "saveConversation"
	OutLoadConversation   OutboundType = "loadConversation"
	OutDeleteConversation OutboundType = "deleteConversation"
	OutListConversations  OutboundType = "listConversations"
	OutInterrupt          OutboundType = "interrupt"
)

// OutboundCommand is the wire envelope for commands leaving the engine.
type OutboundCommand struct {
	Type OutboundType `json:"type"`

	// sendMessage
	Text string `json:"text,omitempty"`

	// permissionResponse
	RequestID string         `json:"requestId,omitempty"`
	Decision  string         `json:"decision,omitempty"`
	ToolName  string         `json:"toolName,omitempty"`
	Input     map[string]any `json:"input,omitempty"`

	// saveConversation / loadConversation / deleteConversation
	Filename string    `json:"filename,omitempty"`
	State    *Snapshot `json:"state,omitempty"`
}
