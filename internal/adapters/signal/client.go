package signal

import (
	"context"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultReconnectInterval = 2 * time.Second
	DefaultPingPeriod        = 54 * time.Second
)

// Deliverer accepts raw host events; app.Channel implements it.
type Deliverer interface {
	Deliver(kind domain.EventKind, room domain.RoomURL)
}

// Client is the application end of the host link. It keeps the link up,
// feeds incoming host events to a Deliverer and sends outbound requests.
type Client struct {
	url        string
	label      string
	events     Deliverer
	dialer     *websocket.Dialer
	reconnect  time.Duration
	ping       time.Duration
	readLimit  int64
	sendBuffer int
	log        zerolog.Logger

	mu      sync.RWMutex
	conn    *WsSignalConn
	account *domain.Account
}

type ClientOption func(c *Client)

func WithClientLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

func WithReconnectInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.reconnect = d
		}
	}
}

// WithPingPeriod sets the keepalive period; zero disables pings.
func WithPingPeriod(d time.Duration) ClientOption {
	return func(c *Client) { c.ping = d }
}

func WithReadLimit(n int64) ClientOption {
	return func(c *Client) { c.readLimit = n }
}

func WithSendBuffer(n int) ClientOption {
	return func(c *Client) { c.sendBuffer = n }
}

// WithLabel names the phone account the host registers for this link.
func WithLabel(label string) ClientOption {
	return func(c *Client) { c.label = label }
}

func NewClient(rawURL string, events Deliverer, opts ...ClientOption) *Client {
	jar, _ := cookiejar.New(nil)
	c := &Client{
		url:        rawURL,
		events:     events,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Jar: jar},
		reconnect:  DefaultReconnectInterval,
		ping:       DefaultPingPeriod,
		sendBuffer: DefaultSendBuffer,
		log:        log.With().Str("module", "signal.client").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.label != "" {
		if u, err := url.Parse(c.url); err == nil {
			q := u.Query()
			q.Set("label", c.label)
			u.RawQuery = q.Encode()
			c.url = u.String()
		}
	}
	return c
}

// Run keeps the link connected until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.log.Info().Msg("host link stopped")
			return nil
		}
		c.log.Warn().Err(err).Dur("retry_in", c.reconnect).Msg("host link down")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnect):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	if c.readLimit > 0 {
		ws.SetReadLimit(c.readLimit)
	}
	conn := newWsSignalConn(ws, c.sendBuffer)
	c.setConn(conn)
	defer c.clearConn(conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.log.Info().Str("url", c.url).Msg("host link connected")
	go conn.writePump(ctx, c.log)
	if c.ping > 0 {
		go c.keepAlive(ctx, conn)
	}
	return conn.readPump(ctx, c.log, c.handle)
}

func (c *Client) keepAlive(ctx context.Context, conn *WsSignalConn) {
	frame, _ := encode(Message{Type: TypePing})
	t := time.NewTicker(c.ping)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.TrySend(frame); err != nil {
				c.log.Warn().Err(err).Msg("ping not sent")
				return
			}
		}
	}
}

func (c *Client) handle(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		c.log.Warn().Err(err).Msg("bad json from host")
		return
	}
	switch msg.Type {
	case TypePong:
		c.log.Debug().Msg("pong")
	case TypeWhoAmI:
		if msg.Account != nil {
			c.mu.Lock()
			acct := *msg.Account
			c.account = &acct
			c.mu.Unlock()
			c.log.Info().Str("account", string(acct.ID)).Str("label", acct.Label).Msg("registered with host")
		}
	case TypeError:
		c.log.Warn().Str("error", msg.Error).Msg("host reported error")
	default:
		c.events.Deliver(domain.EventKind(msg.Type), msg.RoomURL)
	}
}

// Send forwards req over the link. With the link down the request is
// dropped and logged.
func (c *Client) Send(req domain.Request) {
	l := c.log.With().Str("method", string(req.Method)).Str("room", req.Room.String()).Logger()
	conn := c.current()
	if conn == nil {
		l.Warn().Msg("host link down, request dropped")
		return
	}
	f, err := EncodeRequest(req)
	if err != nil {
		l.Error().Err(err).Msg("encode request")
		return
	}
	if err := conn.TrySend(f); err != nil {
		l.Warn().Err(err).Msg("request not sent")
		return
	}
	l.Debug().Msg("request sent")
}

// Reporter exposes the link as the application's outbound reporter.
func (c *Client) Reporter() core.Reporter {
	return core.ReporterFunc(c.Send)
}

func (c *Client) Connected() bool {
	return c.current() != nil
}

// Account returns the phone account the host registered for this link.
func (c *Client) Account() (domain.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.account == nil {
		return domain.Account{}, false
	}
	return *c.account, true
}

func (c *Client) current() *WsSignalConn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setConn(conn *WsSignalConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) clearConn(conn *WsSignalConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}
