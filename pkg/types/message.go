package types

// MessageKind identifies the variant of a conversation message.
type MessageKind string

const (
	KindUserInput         MessageKind = "user_input"
	KindAssistantOutput   MessageKind = "assistant_output"
	KindThinking          MessageKind = "thinking"
	KindToolInvocation    MessageKind = "tool_invocation"
	KindToolResult        MessageKind = "tool_result"
	KindError             MessageKind = "error"
	KindSessionInfo       MessageKind = "session_info"
	KindLoading           MessageKind = "loading"
	KindCompactBoundary   MessageKind = "compact_boundary"
	KindPermissionRequest MessageKind = "permission_request"
	KindRestorePoint      MessageKind = "restore_point"
)

// ToolStatus tracks the execution state of a tool invocation.
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// Message is one entry in the canonical conversation list. The list order is
// arrival order and is never re-sorted. Exactly one payload field is set,
// matching Kind.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	Timestamp int64       `json:"timestamp"` // unix millis

	// Streaming is true only for the single AssistantOutput message that is
	// still receiving text fragments.
	Streaming bool `json:"streaming,omitempty"`

	Text       string             `json:"text,omitempty"`       // UserInput, AssistantOutput, Thinking, Loading
	Tool       *ToolCall          `json:"tool,omitempty"`       // ToolInvocation
	Result     *ToolOutcome       `json:"result,omitempty"`     // ToolResult
	Error      *ErrorInfo         `json:"error,omitempty"`      // Error
	Session    *SessionInfo       `json:"session,omitempty"`    // SessionInfo
	Permission *PermissionInfo    `json:"permission,omitempty"` // PermissionRequest
	Restore    *RestorePointInfo  `json:"restore,omitempty"`    // RestorePoint
	Usage      *TokenUsage        `json:"usage,omitempty"`      // attached to AssistantOutput at most once
}

// ToolCall is the payload of a ToolInvocation message.
type ToolCall struct {
	ToolUseID string         `json:"toolUseID"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
	Status    ToolStatus     `json:"status"`
}

// ToolOutcome is the payload of a ToolResult message.
type ToolOutcome struct {
	ToolUseID string `json:"toolUseID,omitempty"`
	Content   string `json:"content"`
	IsError   bool   `json:"isError,omitempty"`
}

// ErrorInfo is the payload of an Error message.
type ErrorInfo struct {
	Message     string `json:"message"`
	Code        string `json:"code,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// SessionInfo carries session metadata announced by the assistant process.
type SessionInfo struct {
	SessionID  string   `json:"sessionID"`
	Tools      []string `json:"tools,omitempty"`
	MCPServers []string `json:"mcpServers,omitempty"`
}

// PermissionInfo is the payload of a PermissionRequest message.
type PermissionInfo struct {
	RequestID string         `json:"requestID"`
	ToolName  string         `json:"toolName"`
	Input     map[string]any `json:"input,omitempty"`
}

// RestorePointInfo marks a point the conversation can be rolled back to.
type RestorePointInfo struct {
	Label string `json:"label,omitempty"`
}

// TokenUsage contains token counters for one assistant response.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// TodoInfo is one entry of the turn-scoped todo list written by the
// TodoWrite tool.
type TodoInfo struct {
	Content  string `json:"content"`
	Status   string `json:"status"` // "pending" | "in_progress" | "completed"
	Priority string `json:"priority,omitempty"`
}

// Clone returns a deep copy of the message. Mutation paths that hand messages
// to subscribers copy first so the canonical list stays single-writer.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Tool != nil {
		tool := *m.Tool
		if m.Tool.Input != nil {
			tool.Input = make(map[string]any, len(m.Tool.Input))
			for k, v := range m.Tool.Input {
				tool.Input[k] = v
			}
		}
		c.Tool = &tool
	}
	if m.Result != nil {
		r := *m.Result
		c.Result = &r
	}
	if m.Error != nil {
		e := *m.Error
		c.Error = &e
	}
	if m.Session != nil {
		s := *m.Session
		s.Tools = append([]string(nil), m.Session.Tools...)
		s.MCPServers = append([]string(nil), m.Session.MCPServers...)
		c.Session = &s
	}
	if m.Permission != nil {
		p := *m.Permission
		if m.Permission.Input != nil {
			p.Input = make(map[string]any, len(m.Permission.Input))
			for k, v := range m.Permission.Input {
				p.Input[k] = v
			}
		}
		c.Permission = &p
	}
	if m.Restore != nil {
		r := *m.Restore
		c.Restore = &r
	}
	if m.Usage != nil {
		u := *m.Usage
		c.Usage = &u
	}
	return &c
}
