// Package session holds the canonical conversation state for one chat panel.
package session

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// Totals aggregates cost and usage counters across the conversation.
type Totals struct {
	CostUSD      float64
	DurationMS   int64
	NumTurns     int
	RequestCount int
	Tokens       types.TokenUsage
}

// Store is the canonical session state: the ordered message list, the
// processing flag, the streaming pointer and the running counters. It exposes
// data-level mutations only; the event protocol lives in the dispatcher.
type Store struct {
	mu sync.Mutex

	messages    []*types.Message
	byID        map[string]*types.Message
	processing  bool
	streamingID string

	// pendingUsage holds a token snapshot that arrived before any assistant
	// output existed; it attaches to the first output lacking usage.
	pendingUsage *types.TokenUsage

	totals  Totals
	session types.SessionInfo
	account types.AccountInfo

	todos        []types.TodoInfo
	todosTouched bool
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: make(map[string]*types.Message)}
}

// NewID returns a fresh message id.
func NewID() string {
	return ulid.Make().String()
}

// Append adds a message to the end of the list. Messages with duplicate ids
// are dropped; list order is arrival order and is never re-sorted.
func (s *Store) Append(m *types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = NewID()
	}
	if _, exists := s.byID[m.ID]; exists {
		return false
	}
	s.messages = append(s.messages, m)
	s.byID[m.ID] = m
	if m.Kind == types.KindAssistantOutput && m.Streaming {
		s.streamingID = m.ID
	}
	return true
}

// Messages returns the message list. The slice is a copy; the messages are
// shared and must be treated as read-only by callers outside this package.
func (s *Store) Messages() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// MessagesCloned returns deep copies of the message list, safe to hand to
// other goroutines while the dispatcher keeps writing the originals.
func (s *Store) MessagesCloned() []*types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Get returns the message with the given id, or nil.
func (s *Store) Get(id string) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[id]
}

// Streaming returns the message currently receiving stream fragments, or nil.
func (s *Store) Streaming() *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamingID == "" {
		return nil
	}
	return s.byID[s.streamingID]
}

// AppendStreamText appends a fragment to the streaming message. Returns the
// updated message, or nil when no stream is open.
func (s *Store) AppendStreamText(text string) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamingID == "" {
		return nil
	}
	m := s.byID[s.streamingID]
	if m == nil {
		s.streamingID = ""
		return nil
	}
	m.Text += text
	return m
}

// FinalizeStream clears the streaming flag and pointer. Idempotent: returns
// the finalized message on the first call, nil when no stream was open.
func (s *Store) FinalizeStream() *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamingID == "" {
		return nil
	}
	m := s.byID[s.streamingID]
	s.streamingID = ""
	if m == nil {
		return nil
	}
	m.Streaming = false
	return m
}

// AttachPendingUsage attaches a previously captured token snapshot to the
// given assistant output, at most once; the snapshot is cleared afterwards.
func (s *Store) AttachPendingUsage(m *types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingUsage == nil || m.Usage != nil {
		return
	}
	m.Usage = s.pendingUsage
	s.pendingUsage = nil
}

// SetPendingUsage records a token snapshot that arrived out of band, before
// the assistant output it belongs to exists.
func (s *Store) SetPendingUsage(u types.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingUsage = &u
}

// FindToolInvocation locates the invocation a result correlates to: explicit
// toolUseID match first, otherwise the most recently opened invocation still
// pending (stack discipline fallback).
func (s *Store) FindToolInvocation(toolUseID string) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if toolUseID != "" {
		for i := len(s.messages) - 1; i >= 0; i-- {
			m := s.messages[i]
			if m.Kind == types.KindToolInvocation && m.Tool != nil && m.Tool.ToolUseID == toolUseID {
				return m
			}
		}
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.Kind == types.KindToolInvocation && m.Tool != nil && m.Tool.Status == types.ToolPending {
			return m
		}
	}
	return nil
}

// SetProcessing sets the processing flag. Returns true when the value changed.
func (s *Store) SetProcessing(v bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing == v {
		return false
	}
	s.processing = v
	return true
}

// IsProcessing reports whether the assistant is mid-turn.
func (s *Store) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Totals returns the aggregated counters.
func (s *Store) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// SetTotals replaces the aggregated counters.
func (s *Store) SetTotals(t Totals) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals = t
}

// AddTokens accumulates a usage snapshot into the totals.
func (s *Store) AddTokens(u types.TokenUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals.Tokens.Input += u.Input
	s.totals.Tokens.Output += u.Output
}

// SetSessionInfo records session metadata from the assistant process.
func (s *Store) SetSessionInfo(info types.SessionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = info
}

// SessionInfo returns the recorded session metadata.
func (s *Store) SessionInfo() types.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetAccount records account metadata.
func (s *Store) SetAccount(a types.AccountInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = a
}

// Account returns the recorded account metadata.
func (s *Store) Account() types.AccountInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Reset clears the conversation back to empty.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.byID = make(map[string]*types.Message)
	s.processing = false
	s.streamingID = ""
	s.pendingUsage = nil
	s.totals = Totals{}
	s.todos = nil
	s.todosTouched = false
}
