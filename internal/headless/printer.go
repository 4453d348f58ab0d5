// Package headless renders the derived timeline to a terminal for the stdio
// run mode, without any editor attached.
package headless

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/chatpanel-ai/chatpanel/internal/event"
	"github.com/chatpanel-ai/chatpanel/internal/timeline"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

var (
	userStyle    = color.New(color.FgCyan, color.Bold)
	toolStyle    = color.New(color.FgYellow)
	errStyle     = color.New(color.FgRed, color.Bold)
	dimStyle     = color.New(color.Faint)
	permStyle    = color.New(color.FgMagenta, color.Bold)
	successStyle = color.New(color.FgGreen)
)

// Printer streams engine events to a writer as they happen.
type Printer struct {
	mu          sync.Mutex
	w           io.Writer
	verbose     bool
	unsubscribe func()
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, verbose bool) *Printer {
	return &Printer{w: w, verbose: verbose}
}

// Subscribe starts listening to bus events.
func (p *Printer) Subscribe(bus *event.Bus) {
	p.unsubscribe = bus.SubscribeAll(p.handle)
}

// Unsubscribe stops listening.
func (p *Printer) Unsubscribe() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *Printer) handle(ev event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case event.MessageCreated:
		if d, ok := ev.Data.(event.MessageCreatedData); ok {
			p.printMessage(d.Message)
		}
	case event.MessageUpdated:
		if d, ok := ev.Data.(event.MessageUpdatedData); ok && d.Delta != "" {
			fmt.Fprint(p.w, d.Delta)
		}
	case event.PermissionRequired:
		if d, ok := ev.Data.(event.PermissionRequiredData); ok {
			permStyle.Fprintf(p.w, "\n? permission: %s", d.ToolName)
			if d.Description != "" {
				dimStyle.Fprintf(p.w, " (%s)", d.Description)
			}
			fmt.Fprintln(p.w)
		}
	case event.PermissionResolved:
		if d, ok := ev.Data.(event.PermissionResolvedData); ok && p.verbose {
			dimStyle.Fprintf(p.w, "  permission %s: %s\n", d.RequestID, d.Status)
		}
	case event.SessionError:
		if d, ok := ev.Data.(event.SessionErrorData); ok {
			errStyle.Fprintf(p.w, "\nerror: %s\n", d.Message)
		}
	case event.ProcessingChanged:
		if d, ok := ev.Data.(event.ProcessingChangedData); ok && !d.IsProcessing {
			fmt.Fprintln(p.w)
		}
	}
}

func (p *Printer) printMessage(m *types.Message) {
	if m == nil {
		return
	}
	switch m.Kind {
	case types.KindUserInput:
		userStyle.Fprintf(p.w, "\n> %s\n", m.Text)
	case types.KindAssistantOutput:
		fmt.Fprint(p.w, m.Text)
	case types.KindThinking:
		if p.verbose {
			dimStyle.Fprintf(p.w, "\n[thinking] %s\n", m.Text)
		}
	case types.KindToolInvocation:
		if m.Tool != nil {
			toolStyle.Fprintf(p.w, "\n* %s\n", m.Tool.Name)
		}
	case types.KindToolResult:
		if p.verbose && m.Result != nil {
			dimStyle.Fprintf(p.w, "  %s\n", m.Result.Content)
		}
	case types.KindError:
		if m.Error != nil {
			errStyle.Fprintf(p.w, "\nerror: %s\n", m.Error.Message)
		}
	case types.KindCompactBoundary:
		dimStyle.Fprintln(p.w, "\n--- conversation compacted ---")
	}
}

// PrintTimeline renders a full derived timeline, used when loading an
// existing conversation.
func (p *Printer) PrintTimeline(entries []timeline.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range entries {
		if !e.IsPlan() {
			p.printMessage(e.Standalone)
			continue
		}
		if e.Assistant != nil {
			fmt.Fprintf(p.w, "%s\n", e.Assistant.Text)
		}
		for _, step := range e.Steps {
			if step.Invocation != nil && step.Invocation.Tool != nil {
				toolStyle.Fprintf(p.w, "* %s", step.Invocation.Tool.Name)
				switch {
				case step.Result != nil && step.Result.Result != nil && step.Result.Result.IsError:
					errStyle.Fprint(p.w, " ✗")
				case step.Result != nil:
					successStyle.Fprint(p.w, " ✓")
				}
				fmt.Fprintln(p.w)
			}
		}
		dimStyle.Fprintf(p.w, "[%s]\n", e.Status)
	}
}
