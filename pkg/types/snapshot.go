package types

// Snapshot is the persisted shape of a conversation, exchanged with the
// storage collaborator and with restoreState events. Messages reconstruct the
// canonical list in order; the optional fields restore counters and the
// processing flag.
type Snapshot struct {
	Messages     []*Message  `json:"messages"`
	SessionID    string      `json:"sessionId,omitempty"`
	TotalCost    *float64    `json:"totalCost,omitempty"`
	TotalTokens  *TokenUsage `json:"totalTokens,omitempty"`
	IsProcessing *bool       `json:"isProcessing,omitempty"`
}
