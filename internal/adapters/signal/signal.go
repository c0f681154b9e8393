package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/dkeye/CallBridge/internal/app"
	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const DefaultSendBuffer = 32

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Requests is the host call system as seen from the link controller.
type Requests interface {
	Submit(sid core.SessionID, req domain.Request) error
	LinkDropped(sid core.SessionID)
}

type SignalWSController struct {
	Registry   *app.Registry
	Calls      Requests
	Limiter    *RequestRateLimiter
	ReadLimit  int64
	SendBuffer int
}

func NewSignalWSController(reg *app.Registry, calls Requests) *SignalWSController {
	return &SignalWSController{
		Registry:   reg,
		Calls:      calls,
		SendBuffer: DefaultSendBuffer,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, buffer),
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades an application link and registers it, with its phone
// account, against the client token of the request.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	l := log.With().Str("module", "signal").Str("sid", string(sid)).Logger()
	l.Info().Msg("new WS connection")

	// the token cookie set by the middleware is not part of the hijacked response
	hdr := http.Header{}
	for _, v := range c.Writer.Header().Values("Set-Cookie") {
		hdr.Add("Set-Cookie", v)
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, hdr)
	if err != nil {
		l.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}
	conn := newWsSignalConn(ws, ctl.SendBuffer)

	acct := ctl.Registry.GetOrCreateAccount(sid)
	if label := c.Query("label"); label != "" {
		if err := ctl.Registry.UpdateLabel(sid, label); err != nil {
			l.Warn().Err(err).Str("label", label).Msg("label rejected")
		}
	}
	link := core.NewLinkSession(acct).UpdateSignal(conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Registry.BindLink(sid, link, cancel)
	ctl.handleWhoAmI(sid, conn)

	go conn.writePump(ctx, l)
	go func() {
		_ = conn.readPump(ctx, l, func(data []byte) { ctl.handleSignal(sid, conn, data) })
		cancel()
		if ctl.Registry.Unbind(sid, link) {
			ctl.Calls.LinkDropped(sid)
		}
	}()
}

// LinkEmitter delivers host events to application links in a Registry.
type LinkEmitter struct {
	Registry *app.Registry
}

func (e LinkEmitter) Emit(sid core.SessionID, ev domain.Event) {
	l := log.With().Str("module", "signal").Str("sid", string(sid)).Str("kind", string(ev.Kind())).Logger()
	link, ok := e.Registry.GetLink(sid)
	if !ok || link.Signal() == nil {
		l.Warn().Msg("no link for event, dropped")
		return
	}
	f, err := EncodeEvent(ev)
	if err != nil {
		l.Error().Err(err).Msg("encode event")
		return
	}
	if err := link.Signal().TrySend(f); err != nil {
		l.Warn().Err(err).Msg("event not sent")
	}
}
