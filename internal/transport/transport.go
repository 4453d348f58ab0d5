// Package transport moves the engine's wire envelopes: inbound events from
// the assistant process in, outbound commands back out. The mechanism is
// pluggable; the engine only sees the two interfaces below.
package transport

import (
	"sync"

	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// Handler consumes one decoded inbound event. Implementations must call it
// sequentially: events are processed strictly in arrival order.
type Handler func(ev types.InboundEvent)

// Sender delivers outbound commands to the assistant process.
type Sender interface {
	Send(cmd types.OutboundCommand) error
}

// Recorder is a Sender that captures commands, for tests and headless
// inspection.
type Recorder struct {
	mu   sync.Mutex
	cmds []types.OutboundCommand
}

// Send records the command.
func (r *Recorder) Send(cmd types.OutboundCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

// Commands returns a copy of everything sent so far.
func (r *Recorder) Commands() []types.OutboundCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.OutboundCommand(nil), r.cmds...)
}

// Reset drops the recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = nil
}
