package permission

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Rules configures the auto-resolution policy evaluated before a request is
// enqueued. Patterns are tool-name globs ("Read", "mcp__*") or composite
// Bash rules ("Bash(git *)") matched against the parsed command input.
type Rules struct {
	AutoApprove []string `json:"autoApprove" yaml:"autoApprove"`
	AutoDeny    []string `json:"autoDeny" yaml:"autoDeny"`
}

// MatchRule checks a request against one pattern.
func MatchRule(pattern, toolName string, input map[string]any) bool {
	if inner, ok := bashRuleInner(pattern); ok {
		return strings.EqualFold(toolName, "bash") && matchBashRule(inner, input)
	}
	ok, err := doublestar.Match(pattern, toolName)
	return err == nil && ok
}

// matchAny checks a request against a pattern list.
func matchAny(patterns []string, toolName string, input map[string]any) bool {
	for _, p := range patterns {
		if MatchRule(p, toolName, input) {
			return true
		}
	}
	return false
}

// bashRuleInner unwraps "Bash(git *)" into "git *".
func bashRuleInner(pattern string) (string, bool) {
	if !strings.HasPrefix(pattern, "Bash(") || !strings.HasSuffix(pattern, ")") {
		return "", false
	}
	return strings.TrimSpace(pattern[len("Bash(") : len(pattern)-1]), true
}
