// Package callsystem simulates the host platform's call-management facility:
// it arbitrates outgoing calls requested by application links, keeps the
// platform connection for the current call and tells the application when it
// may start or must end a call.
package callsystem

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/CallBridge/internal/app"
	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrInboxFull = errors.New("call system inbox full")
	ErrStopped   = errors.New("call system stopped")
	ErrNoCall    = errors.New("no current call")
)

const DefaultInboxSize = 64

// Emitter delivers a host event to the application behind a link.
type Emitter interface {
	Emit(sid core.SessionID, ev domain.Event)
}

type EmitterFunc func(sid core.SessionID, ev domain.Event)

func (f EmitterFunc) Emit(sid core.SessionID, ev domain.Event) { f(sid, ev) }

// AccountSource resolves the phone account a link places calls from.
type AccountSource interface {
	GetOrCreateAccount(sid core.SessionID) *domain.Account
}

type op int

const (
	opRequest op = iota
	opHangup
	opLinkDropped
)

type envelope struct {
	op  op
	sid core.SessionID
	req domain.Request
}

type current struct {
	sid  core.SessionID
	conn *domain.Connection
}

// CallView is the host's view of the current call.
type CallView struct {
	Link    core.SessionID         `json:"link"`
	Room    domain.RoomURL         `json:"room_url"`
	Account domain.AccountID       `json:"account_id"`
	Label   string                 `json:"account_label"`
	State   string                 `json:"state"`
	Cause   domain.DisconnectCause `json:"cause,omitempty"`
}

type System struct {
	inbox    chan envelope
	emitter  Emitter
	accounts AccountSource
	allow    atomic.Bool
	stopped  atomic.Bool
	log      zerolog.Logger
	size     int

	mu  sync.RWMutex
	cur *current
}

type Option func(s *System)

func WithLogger(l zerolog.Logger) Option {
	return func(s *System) { s.log = l }
}

func WithAccounts(a AccountSource) Option {
	return func(s *System) {
		if a != nil {
			s.accounts = a
		}
	}
}

// WithAllowCalls sets whether the platform permits placing calls at all.
func WithAllowCalls(allow bool) Option {
	return func(s *System) { s.allow.Store(allow) }
}

func WithInboxSize(n int) Option {
	return func(s *System) {
		if n > 0 {
			s.size = n
		}
	}
}

func New(emitter Emitter, opts ...Option) *System {
	s := &System{
		emitter:  emitter,
		accounts: app.NewRegistry(),
		log:      log.With().Str("module", "app.callsystem").Logger(),
		size:     DefaultInboxSize,
	}
	s.allow.Store(true)
	for _, o := range opts {
		o(s)
	}
	s.inbox = make(chan envelope, s.size)
	return s
}

// Submit queues an outbound request from the application behind sid. It
// never blocks, so it is safe to call from inside a Reporter.
func (s *System) Submit(sid core.SessionID, req domain.Request) error {
	return s.enqueue(envelope{op: opRequest, sid: sid, req: req})
}

// Reporter returns the Reporter an in-process application uses to talk to
// the system as link sid.
func (s *System) Reporter(sid core.SessionID) core.Reporter {
	return core.ReporterFunc(func(req domain.Request) {
		if err := s.Submit(sid, req); err != nil {
			s.log.Warn().Err(err).Str("sid", string(sid)).Str("method", string(req.Method)).Msg("dropped request")
		}
	})
}

// Disconnect hangs up the current call from the platform side, the way the
// system call UI would.
func (s *System) Disconnect() error {
	if _, ok := s.Current(); !ok {
		return ErrNoCall
	}
	return s.enqueue(envelope{op: opHangup})
}

// LinkDropped tells the system the application behind sid went away.
func (s *System) LinkDropped(sid core.SessionID) {
	if err := s.enqueue(envelope{op: opLinkDropped, sid: sid}); err != nil {
		s.log.Warn().Err(err).Str("sid", string(sid)).Msg("link drop not processed")
	}
}

func (s *System) SetAllowCalls(allow bool) {
	s.allow.Store(allow)
	s.log.Info().Bool("allow_calls", allow).Msg("call permission changed")
}

func (s *System) Current() (CallView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		return CallView{}, false
	}
	c := s.cur.conn
	v := CallView{
		Link:  s.cur.sid,
		Room:  c.Room,
		State: c.State.String(),
		Cause: c.Cause,
	}
	if c.Account != nil {
		v.Account = c.Account.ID
		v.Label = c.Account.Label
	}
	return v, true
}

func (s *System) enqueue(e envelope) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	select {
	case s.inbox <- e:
		return nil
	default:
		return ErrInboxFull
	}
}

// Run processes requests one at a time until ctx is done.
func (s *System) Run(ctx context.Context) error {
	s.log.Info().Bool("allow_calls", s.allow.Load()).Msg("call system running")
	defer s.stopped.Store(true)
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("call system stopped")
			return nil
		case e := <-s.inbox:
			s.process(e)
		}
	}
}

func (s *System) process(e envelope) {
	switch e.op {
	case opHangup:
		s.hangup()
	case opLinkDropped:
		s.linkDropped(e.sid)
	case opRequest:
		s.handleRequest(e.sid, e.req)
	}
}

func (s *System) handleRequest(sid core.SessionID, req domain.Request) {
	l := s.log.With().Str("sid", string(sid)).Str("method", string(req.Method)).Str("room", req.Room.String()).Logger()
	l.Info().Msg("request")

	switch req.Method {
	case domain.MethodAskToStartCall:
		s.askToStartCall(sid, req.Room)
	case domain.MethodAskToEndCall:
		s.askToEndCall(req.Room)
	case domain.MethodReportCallStarted:
		if c := s.matching(req.Room); c != nil {
			s.update(func() { c.conn.SetActive() })
		}
	case domain.MethodReportCallFailed:
		if c := s.matching(req.Room); c != nil {
			s.update(func() { c.conn.SetDisconnected(domain.CauseError) })
		}
	case domain.MethodReportCallEnded:
		if c := s.matching(req.Room); c != nil {
			s.update(func() { c.conn.SetDisconnected(domain.CauseRemote) })
			s.clear(c)
		}
	default:
		l.Warn().Msg("unknown request")
	}
}

func (s *System) askToStartCall(sid core.SessionID, room domain.RoomURL) {
	if room.IsZero() {
		s.log.Warn().Str("sid", string(sid)).Msg("start requested without room")
		return
	}
	if !s.allow.Load() {
		s.log.Warn().Str("sid", string(sid)).Str("room", room.String()).Msg("outgoing call not permitted")
		s.emit(sid, domain.AbortStartingCall{RoomURL: room})
		return
	}

	s.mu.Lock()
	if s.cur != nil && s.cur.conn.Live() {
		busy := s.cur.conn.Room
		s.mu.Unlock()
		s.log.Warn().Str("sid", string(sid)).Str("room", room.String()).Str("busy_room", busy.String()).Msg("outgoing call failed, line busy")
		s.emit(sid, domain.AbortStartingCall{RoomURL: room})
		return
	}
	conn := domain.NewConnection(room, s.accounts.GetOrCreateAccount(sid))
	s.cur = &current{sid: sid, conn: conn}
	s.mu.Unlock()

	s.log.Info().Str("sid", string(sid)).Str("room", room.String()).Msg("outgoing connection created")
	s.emit(sid, domain.StartCall{RoomURL: room})
}

func (s *System) askToEndCall(room domain.RoomURL) {
	c := s.matching(room)
	if c == nil {
		return
	}
	s.update(func() { c.conn.SetDisconnected(domain.CauseLocal) })
	s.clear(c)
	s.log.Info().Str("sid", string(c.sid)).Str("room", room.String()).Msg("connection destroyed")
	s.emit(c.sid, domain.EndCall{RoomURL: room})
}

func (s *System) hangup() {
	s.mu.RLock()
	c := s.cur
	s.mu.RUnlock()
	if c == nil || !c.conn.Live() {
		s.log.Debug().Msg("hangup without live call")
		return
	}
	s.log.Info().Str("room", c.conn.Room.String()).Msg("call disconnected by platform")
	s.askToEndCall(c.conn.Room)
}

func (s *System) linkDropped(sid core.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil || s.cur.sid != sid {
		return
	}
	s.cur.conn.SetDisconnected(domain.CauseError)
	s.log.Warn().Str("sid", string(sid)).Str("room", s.cur.conn.Room.String()).Msg("link dropped during call")
	s.cur = nil
}

// matching returns the current call if it is for room.
func (s *System) matching(room domain.RoomURL) *current {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur == nil {
		s.log.Debug().Str("room", room.String()).Msg("no current call")
		return nil
	}
	if !s.cur.conn.Room.Matches(room) {
		s.log.Debug().Str("room", room.String()).Str("current_room", s.cur.conn.Room.String()).Msg("room mismatch")
		return nil
	}
	return s.cur
}

func (s *System) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *System) clear(c *current) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == c {
		s.cur = nil
	}
}

func (s *System) emit(sid core.SessionID, ev domain.Event) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(sid, ev)
}
