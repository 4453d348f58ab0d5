package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/chatpanel-ai/chatpanel/internal/logging"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// Stdio is a newline-delimited JSON transport over a reader/writer pair,
// typically the assistant process's stdout/stdin.
type Stdio struct {
	r io.Reader

	wmu sync.Mutex
	w   io.Writer

	handler Handler
}

// NewStdio creates a stdio transport delivering events to handler.
func NewStdio(r io.Reader, w io.Writer, handler Handler) *Stdio {
	return &Stdio{r: r, w: w, handler: handler}
}

// Run reads events until EOF or ctx cancellation. Malformed lines are logged
// and skipped; one bad line must not end the session.
func (s *Stdio) Run(ctx context.Context) error {
	log := logging.For("transport")
	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.InboundEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Warn().Err(err).Msg("malformed inbound line")
			continue
		}
		s.handler(ev)
	}
	return scanner.Err()
}

// Send writes one command as a JSON line.
func (s *Stdio) Send(cmd types.OutboundCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err = s.w.Write([]byte("\n"))
	return err
}
