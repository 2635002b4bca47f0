package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *Conn) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "bridge").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "bridge").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "bridge").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "bridge").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "bridge").Msg("writePump ping failed")
				return
			}
		}
	}
}

// ReadPump reads page messages until the socket fails. Acks are handled
// inline; commands go through a queue so a blocked command never delays an
// ack the launcher is waiting for.
func (c *Conn) ReadPump(ctx context.Context, cmds Commands) {
	defer log.Debug().Str("module", "bridge").Msg("readPump closing")

	queue := make(chan string, sendBuffer)
	defer close(queue)
	go c.dispatch(ctx, cmds, queue)

	pongWait := c.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "bridge").Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(queue, data)
	}
}

func (c *Conn) dispatch(ctx context.Context, cmds Commands, queue <-chan string) {
	for typ := range queue {
		var err error
		switch typ {
		case TypeJoin:
			err = cmds.Trigger(ctx)
		case TypeCancel:
			err = cmds.Cancel(ctx)
		case TypeReset:
			err = cmds.Reset(ctx)
		}
		if err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("module", "bridge").Str("type", typ).Msg("command failed")
			c.ShowError(err)
		}
	}
}

func (c *Conn) handle(queue chan<- string, data []byte) {
	var env struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("bad json")
		_ = c.sendJSON(map[string]any{"type": TypeError, "error": "bad_payload"})
		return
	}

	switch env.Type {
	case TypeJoin, TypeCancel, TypeReset:
		select {
		case queue <- env.Type:
		default:
			c.ShowError(ErrBackpressure)
		}
	case TypeJoined:
		c.resolve(TypeJoinSession, nil)
	case TypeJoinFailed:
		c.resolve(TypeJoinSession, &ToolkitError{Op: "join", Reason: reason(env.Error)})
	case TypeClosed:
		c.resolve(TypeCloseSession, nil)
	case TypeCloseFailed:
		c.resolve(TypeCloseSession, &ToolkitError{Op: "close", Reason: reason(env.Error)})
	case TypeSessionClosed:
		c.sessionClosed()
	case TypePing:
		_ = c.sendJSON(map[string]any{"type": TypePong})
	default:
		log.Warn().Str("module", "bridge").Str("type", env.Type).Msg("unknown message")
	}
}

func reason(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
