// Package permission governs the lifecycle of tool-permission requests:
// auto-approve/deny policy evaluation, the pending queue, timeout expiry and
// the append-only resolution history.
package permission

import (
	"time"

	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// Status is the lifecycle state of a permission request. Each request makes
// exactly one terminal transition.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Scope bounds how long a grant stays valid.
type Scope string

const (
	ScopeOnce    Scope = "once"
	ScopeSession Scope = "session"
	ScopeAlways  Scope = "always"
)

// Decision values carried on the outbound permissionResponse.
const (
	DecisionAllow        = "allow"
	DecisionAllowAlways  = "allow_always"
	DecisionAllowSession = "allow_session"
	DecisionDeny         = "deny"
)

// Pending is a permission request awaiting resolution.
type Pending struct {
	RequestID   string                       `json:"requestID"`
	ToolUseID   string                       `json:"toolUseID,omitempty"`
	ToolName    string                       `json:"toolName"`
	Input       map[string]any               `json:"input,omitempty"`
	Description string                       `json:"description,omitempty"`
	Suggestions []types.PermissionSuggestion `json:"suggestions,omitempty"`
	Status      Status                       `json:"status"`
	Timestamp   time.Time                    `json:"timestamp"`
	Deadline    time.Time                    `json:"deadline,omitempty"` // zero when no timeout
}

// Record is one finalized entry of the resolution history.
type Record struct {
	RequestID  string    `json:"requestID"`
	ToolName   string    `json:"toolName"`
	Status     Status    `json:"status"`
	Decision   string    `json:"decision,omitempty"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Grant is a cached allow decision. Session-scoped grants expire by
// wall-clock comparison, not a timer.
type Grant struct {
	Pattern   string    `json:"pattern"`
	Scope     Scope     `json:"scope"`
	GrantedAt time.Time `json:"grantedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"` // zero = never
}

// Active reports whether the grant is still valid at the given instant.
func (g Grant) Active(now time.Time) bool {
	if g.Scope == ScopeOnce {
		return false
	}
	return g.ExpiresAt.IsZero() || now.Before(g.ExpiresAt)
}

// MapSuggestion translates an assistant-supplied suggestion kind into the
// decision sent outbound. Unrecognized kinds default to allow; fail-open is
// the upstream protocol's choice, kept for compatibility.
func MapSuggestion(kind string) string {
	switch kind {
	case "allow":
		return DecisionAllow
	case "allow_always":
		return DecisionAllowAlways
	case "allow_session":
		return DecisionAllowSession
	case "allow_all":
		return DecisionAllow
	case "deny":
		return DecisionDeny
	case "explain":
		return DecisionDeny
	default:
		return DecisionAllow
	}
}

// Allows reports whether a decision grants the request.
func Allows(decision string) bool {
	switch decision {
	case DecisionAllow, DecisionAllowAlways, DecisionAllowSession:
		return true
	}
	return false
}
