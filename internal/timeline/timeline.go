// Package timeline derives the grouped, render-ready view of a conversation.
//
// Derive is a pure function over (messages, isProcessing): it never mutates
// its inputs and identical inputs always yield a structurally identical
// result, so the rendering layer can memoize on input identity.
package timeline

import "github.com/chatpanel-ai/chatpanel/pkg/types"

// PlanStatus is the derived execution state of a plan group.
type PlanStatus string

const (
	StatusExecuting PlanStatus = "executing"
	StatusCompleted PlanStatus = "completed"
	StatusFailed    PlanStatus = "failed"
)

// ToolStep pairs a tool invocation with its result, if one has arrived.
type ToolStep struct {
	Invocation *types.Message
	Result     *types.Message
}

// Entry is one element of the derived timeline: either a plan group rooted at
// an assistant response, or a standalone message.
type Entry struct {
	// Plan group fields. Set when Assistant or Steps is non-empty.
	ID        string
	Assistant *types.Message
	Thinking  *types.Message
	Steps     []ToolStep
	Status    PlanStatus

	// Standalone holds the message for non-grouped entries.
	Standalone *types.Message
}

// IsPlan reports whether the entry is a plan group.
func (e *Entry) IsPlan() bool {
	return e.Standalone == nil
}

// Derive scans the message list in order and produces the grouped timeline.
func Derive(messages []*types.Message, isProcessing bool) []Entry {
	var entries []Entry
	var plan *Entry

	flush := func() {
		if plan == nil {
			return
		}
		plan.Status = planStatus(plan, isProcessing)
		entries = append(entries, *plan)
		plan = nil
	}

	open := func(root *types.Message) {
		p := &Entry{Assistant: root}
		if root != nil {
			p.ID = root.ID
		}
		plan = p
	}

	for _, m := range messages {
		switch m.Kind {
		case types.KindAssistantOutput:
			flush()
			open(m)

		case types.KindThinking:
			if plan == nil {
				open(nil)
				plan.ID = m.ID
			}
			plan.Thinking = m

		case types.KindToolInvocation:
			if plan == nil {
				open(nil)
				plan.ID = m.ID
			}
			plan.Steps = append(plan.Steps, ToolStep{Invocation: m})

		case types.KindToolResult:
			if plan != nil {
				if step := lastOpenStep(plan); step != nil {
					step.Result = m
					continue
				}
			}
			// Out-of-order delivery: no invocation is waiting for this
			// result, so surface it as an unresolved standalone step.
			if plan == nil {
				open(nil)
				plan.ID = m.ID
			}
			plan.Steps = append(plan.Steps, ToolStep{Result: m})

		case types.KindSessionInfo:
			// Carries no timeline-visible content.

		default:
			// UserInput, Error, PermissionRequest, RestorePoint,
			// CompactBoundary, Loading.
			flush()
			entries = append(entries, Entry{Standalone: m})
		}
	}
	flush()

	return entries
}

// lastOpenStep returns the most recent step still lacking a result.
func lastOpenStep(plan *Entry) *ToolStep {
	for i := len(plan.Steps) - 1; i >= 0; i-- {
		step := &plan.Steps[i]
		if step.Invocation != nil && step.Result == nil {
			return step
		}
	}
	return nil
}

// planStatus derives the execution state of a plan group: failed if any step
// errored, completed when every step is resolved and the session is idle,
// executing otherwise.
func planStatus(plan *Entry, isProcessing bool) PlanStatus {
	allResolved := true
	for _, step := range plan.Steps {
		if step.Result == nil {
			allResolved = false
			continue
		}
		if step.Result.Result != nil && step.Result.Result.IsError {
			return StatusFailed
		}
	}
	if allResolved && !isProcessing {
		return StatusCompleted
	}
	return StatusExecuting
}
