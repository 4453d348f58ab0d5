package session

import "github.com/chatpanel-ai/chatpanel/pkg/types"

// Snapshot captures the conversation in its persisted shape.
func (s *Store) Snapshot() types.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]*types.Message, 0, len(s.messages))
	for _, m := range s.messages {
		msgs = append(msgs, m.Clone())
	}

	cost := s.totals.CostUSD
	tokens := s.totals.Tokens
	processing := s.processing
	return types.Snapshot{
		Messages:     msgs,
		SessionID:    s.session.SessionID,
		TotalCost:    &cost,
		TotalTokens:  &tokens,
		IsProcessing: &processing,
	}
}

// Checkpoint is an opaque full copy of the store state, covering the
// turn-scoped fields the persisted snapshot shape omits: the todo list, the
// todos-touched flag and the pending usage snapshot. Optimistic mutations
// capture one so a rejected mutation restores the exact pre-mutation state.
type Checkpoint struct {
	messages     []*types.Message
	processing   bool
	streamingID  string
	pendingUsage *types.TokenUsage
	totals       Totals
	session      types.SessionInfo
	account      types.AccountInfo
	todos        []types.TodoInfo
	todosTouched bool
}

// Checkpoint captures the complete store state.
func (s *Store) Checkpoint() *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Checkpoint{
		processing:   s.processing,
		streamingID:  s.streamingID,
		totals:       s.totals,
		session:      s.session,
		account:      s.account,
		todosTouched: s.todosTouched,
	}
	c.messages = make([]*types.Message, len(s.messages))
	for i, m := range s.messages {
		c.messages[i] = m.Clone()
	}
	if s.pendingUsage != nil {
		u := *s.pendingUsage
		c.pendingUsage = &u
	}
	c.todos = append([]types.TodoInfo(nil), s.todos...)
	return c
}

// RestoreCheckpoint replaces the full store state with a captured
// checkpoint. The checkpoint is single-use; do not restore it twice.
func (s *Store) RestoreCheckpoint(c *Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = c.messages
	s.byID = make(map[string]*types.Message, len(c.messages))
	for _, m := range c.messages {
		s.byID[m.ID] = m
	}
	s.processing = c.processing
	s.streamingID = c.streamingID
	s.pendingUsage = c.pendingUsage
	s.totals = c.totals
	s.session = c.session
	s.account = c.account
	s.todos = c.todos
	s.todosTouched = c.todosTouched
}

// Restore atomically replaces the conversation from a persisted snapshot.
// The streaming pointer is recomputed only when the snapshot itself claims to
// be mid-turn; a snapshot taken at rest never resurrects a stream.
func (s *Store) Restore(snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.byID = make(map[string]*types.Message)
	s.streamingID = ""
	s.pendingUsage = nil
	s.todos = nil
	s.todosTouched = false

	for _, m := range snap.Messages {
		if m == nil || m.ID == "" {
			continue
		}
		if _, exists := s.byID[m.ID]; exists {
			continue
		}
		c := m.Clone()
		s.messages = append(s.messages, c)
		s.byID[c.ID] = c
	}

	if snap.SessionID != "" {
		s.session.SessionID = snap.SessionID
	}
	if snap.TotalCost != nil {
		s.totals.CostUSD = *snap.TotalCost
	}
	if snap.TotalTokens != nil {
		s.totals.Tokens = *snap.TotalTokens
	}

	s.processing = snap.IsProcessing != nil && *snap.IsProcessing
	if s.processing {
		for i := len(s.messages) - 1; i >= 0; i-- {
			m := s.messages[i]
			if m.Kind == types.KindAssistantOutput && m.Streaming {
				s.streamingID = m.ID
				break
			}
		}
	} else {
		for _, m := range s.messages {
			m.Streaming = false
		}
	}
}
