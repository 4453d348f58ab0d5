package permission

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chatpanel-ai/chatpanel/internal/event"
	"github.com/chatpanel-ai/chatpanel/internal/logging"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// Sender delivers outbound commands to the assistant process.
type Sender interface {
	Send(cmd types.OutboundCommand) error
}

// ErrNotPending is returned when resolving a request that is not in the
// pending queue.
var ErrNotPending = fmt.Errorf("permission: request not pending")

// Config configures a Manager.
type Config struct {
	Rules Rules

	// DefaultTimeout starts an expiry timer for each enqueued request when
	// non-zero.
	DefaultTimeout time.Duration

	// SessionTTL bounds allow_session grants. Defaults to one hour.
	SessionTTL time.Duration

	// OnExpire runs after a request expires, once per request.
	OnExpire func(requestID string)

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Manager owns the pending-permission queue. Requests either resolve
// immediately against policy or wait in the queue for a manual, suggestion or
// timeout resolution; every request makes exactly one terminal transition.
type Manager struct {
	mu sync.Mutex

	bus *event.Bus
	out Sender
	cfg Config
	now func() time.Time
	log zerolog.Logger

	pending map[string]*Pending
	order   []string
	timers  map[string]*time.Timer
	history []Record
	grants  []Grant
}

// NewManager creates a manager publishing lifecycle events on bus and
// sending decisions through out.
func NewManager(bus *event.Bus, out Sender, cfg Config) *Manager {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		bus:     bus,
		out:     out,
		cfg:     cfg,
		now:     now,
		log:     logging.For("permission"),
		pending: make(map[string]*Pending),
		timers:  make(map[string]*time.Timer),
	}
}

// HandleRequest evaluates policy for an arriving request. Deny rules win over
// approve rules; only requests matching neither are enqueued and announced.
// Returns the resulting status and whether this call enqueued or resolved
// the request; a requestId already pending reports false so callers do not
// surface the same request twice.
func (m *Manager) HandleRequest(ev types.PermissionRequestEvent) (Status, bool) {
	if matchAny(m.cfg.Rules.AutoDeny, ev.ToolName, ev.Input) {
		m.mu.Lock()
		m.history = append(m.history, Record{
			RequestID:  ev.RequestID,
			ToolName:   ev.ToolName,
			Status:     StatusDenied,
			Decision:   DecisionDeny,
			ResolvedAt: m.now(),
		})
		m.mu.Unlock()
		m.log.Debug().Str("requestID", ev.RequestID).Str("tool", ev.ToolName).Msg("auto-denied by rule")
		m.publishResolved(ev.RequestID, StatusDenied, DecisionDeny)
		return StatusDenied, true
	}

	if matchAny(m.cfg.Rules.AutoApprove, ev.ToolName, ev.Input) || m.hasActiveGrant(ev.ToolName, ev.Input) {
		m.mu.Lock()
		m.history = append(m.history, Record{
			RequestID:  ev.RequestID,
			ToolName:   ev.ToolName,
			Status:     StatusApproved,
			Decision:   DecisionAllow,
			ResolvedAt: m.now(),
		})
		m.mu.Unlock()
		m.send(ev.RequestID, DecisionAllow, ev.ToolName, ev.Input)
		m.log.Debug().Str("requestID", ev.RequestID).Str("tool", ev.ToolName).Msg("auto-approved")
		m.publishResolved(ev.RequestID, StatusApproved, DecisionAllow)
		return StatusApproved, true
	}

	p := &Pending{
		RequestID:   ev.RequestID,
		ToolUseID:   ev.ToolUseID,
		ToolName:    ev.ToolName,
		Input:       ev.Input,
		Description: ev.Description,
		Suggestions: ev.Suggestions,
		Status:      StatusPending,
		Timestamp:   m.now(),
	}

	m.mu.Lock()
	if _, exists := m.pending[p.RequestID]; exists {
		m.mu.Unlock()
		return StatusPending, false
	}
	m.pending[p.RequestID] = p
	m.order = append(m.order, p.RequestID)

	if m.cfg.DefaultTimeout > 0 {
		p.Deadline = m.now().Add(m.cfg.DefaultTimeout)
		id := p.RequestID
		m.timers[id] = time.AfterFunc(m.cfg.DefaultTimeout, func() {
			m.expire(id)
		})
	}
	m.mu.Unlock()

	suggestions := make([]string, 0, len(ev.Suggestions))
	for _, s := range ev.Suggestions {
		suggestions = append(suggestions, s.Type)
	}
	m.bus.PublishSync(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			RequestID:   p.RequestID,
			ToolName:    p.ToolName,
			Description: p.Description,
			Suggestions: suggestions,
		},
	})
	return StatusPending, true
}

// Resolve finalizes a pending request with an explicit decision and emits it
// outbound. Decisions: allow, allow_always, allow_session, deny.
func (m *Manager) Resolve(requestID, decision string) error {
	p, err := m.take(requestID)
	if err != nil {
		return err
	}

	status := StatusDenied
	if Allows(decision) {
		status = StatusApproved
	}

	m.mu.Lock()
	switch decision {
	case DecisionAllowAlways:
		m.grants = append(m.grants, Grant{
			Pattern:   p.ToolName,
			Scope:     ScopeAlways,
			GrantedAt: m.now(),
		})
	case DecisionAllowSession:
		m.grants = append(m.grants, Grant{
			Pattern:   p.ToolName,
			Scope:     ScopeSession,
			GrantedAt: m.now(),
			ExpiresAt: m.now().Add(m.cfg.SessionTTL),
		})
	}
	m.history = append(m.history, Record{
		RequestID:  requestID,
		ToolName:   p.ToolName,
		Status:     status,
		Decision:   decision,
		ResolvedAt: m.now(),
	})
	m.mu.Unlock()

	m.send(requestID, decision, p.ToolName, p.Input)
	m.publishResolved(requestID, status, decision)
	return nil
}

// ResolveSuggestion finalizes a pending request by mapping an
// assistant-supplied suggestion kind to a decision.
func (m *Manager) ResolveSuggestion(requestID, suggestionKind string) error {
	return m.Resolve(requestID, MapSuggestion(suggestionKind))
}

// expire fires the timeout transition; a no-op if the request already
// resolved (Resolve cancels the timer, but the callback may already be
// in flight).
func (m *Manager) expire(requestID string) {
	p, err := m.take(requestID)
	if err != nil {
		return
	}

	m.mu.Lock()
	m.history = append(m.history, Record{
		RequestID:  requestID,
		ToolName:   p.ToolName,
		Status:     StatusExpired,
		ResolvedAt: m.now(),
	})
	m.mu.Unlock()

	m.log.Info().Str("requestID", requestID).Str("tool", p.ToolName).Msg("permission request expired")
	m.publishResolved(requestID, StatusExpired, "")
	if m.cfg.OnExpire != nil {
		m.cfg.OnExpire(requestID)
	}
}

// take removes a request from the pending queue and cancels its timer.
func (m *Manager) take(requestID string) (*Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[requestID]
	if !ok {
		return nil, ErrNotPending
	}
	delete(m.pending, requestID)
	for i, id := range m.order {
		if id == requestID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if t, ok := m.timers[requestID]; ok {
		t.Stop()
		delete(m.timers, requestID)
	}
	return p, nil
}

// Pending returns the queued requests in arrival order.
func (m *Manager) Pending() []Pending {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Pending, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.pending[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// History returns a copy of the resolution history, oldest first.
func (m *Manager) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.history...)
}

// Grants returns the active grants at the current instant.
func (m *Manager) Grants() []Grant {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []Grant
	for _, g := range m.grants {
		if g.Active(now) {
			out = append(out, g)
		}
	}
	return out
}

// Reset drops pending requests, timers and session grants; used when a new
// conversation starts. Always-scoped grants and history survive.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.pending = make(map[string]*Pending)
	m.order = nil
	kept := m.grants[:0]
	for _, g := range m.grants {
		if g.Scope == ScopeAlways {
			kept = append(kept, g)
		}
	}
	m.grants = kept
}

func (m *Manager) hasActiveGrant(toolName string, input map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for _, g := range m.grants {
		if g.Active(now) && MatchRule(g.Pattern, toolName, input) {
			return true
		}
	}
	return false
}

func (m *Manager) send(requestID, decision, toolName string, input map[string]any) {
	if m.out == nil {
		return
	}
	cmd := types.OutboundCommand{
		Type:      types.OutPermissionResponse,
		RequestID: requestID,
		Decision:  decision,
		ToolName:  toolName,
		Input:     input,
	}
	if err := m.out.Send(cmd); err != nil {
		m.log.Error().Err(err).Str("requestID", requestID).Msg("failed to send permission response")
	}
}

func (m *Manager) publishResolved(requestID string, status Status, decision string) {
	m.bus.PublishSync(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			RequestID: requestID,
			Status:    string(status),
			Decision:  decision,
		},
	})
}
