package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// writePump drains the send queue onto the socket. It owns closing the
// connection, which also unblocks the read side.
func (c *WsSignalConn) writePump(ctx context.Context, l zerolog.Logger) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				l.Warn().Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				l.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump hands every text frame to handle until the socket fails.
func (c *WsSignalConn) readPump(ctx context.Context, l zerolog.Logger, handle func([]byte)) error {
	defer func() {
		l.Info().Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			l.Info().Msg("readPump ctx done")
			return ctx.Err()
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					l.Info().Msg("readPump peer closed")
				} else {
					l.Error().Err(err).Msg("readPump read error")
				}
				return err
			}
			handle(data)
		}
	}
}
