package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/chatpanel-ai/chatpanel/internal/logging"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

// WS is a websocket transport carrying the same JSON envelopes as Stdio,
// one message per frame. Used when the assistant process attaches over a
// socket instead of a pipe.
type WS struct {
	conn *websocket.Conn

	wmu sync.Mutex

	handler Handler
}

// NewWS wraps an established websocket connection.
func NewWS(conn *websocket.Conn, handler Handler) *WS {
	return &WS{conn: conn, handler: handler}
}

// Run reads events until the connection closes or ctx is cancelled.
func (t *WS) Run(ctx context.Context) error {
	log := logging.For("transport")

	go func() {
		<-ctx.Done()
		_ = t.conn.Close()
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var ev types.InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn().Err(err).Msg("malformed inbound frame")
			continue
		}
		t.handler(ev)
	}
}

// Send writes one command as a text frame.
func (t *WS) Send(cmd types.OutboundCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	t.wmu.Lock()
	defer t.wmu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}
