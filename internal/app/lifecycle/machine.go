// Package lifecycle drives one application call through room creation, host
// approval, join, leave and teardown, keeping the host call system informed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/CallBridge/internal/app"
	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrCallInProgress     = errors.New("a call is already in progress")
	ErrStartQueued        = errors.New("start queued behind the current call")
	ErrInvalidState       = errors.New("operation not allowed in current state")
	ErrTeardownInProgress = errors.New("call teardown already in progress")
	ErrEmptyRoom          = errors.New("empty room url")
	ErrRoomCreation       = errors.New("unable to create room")
	ErrCallFailed         = errors.New("call failed")
	ErrClosed             = errors.New("call machine closed")
)

const DefaultOpTimeout = 15 * time.Second

// startRequest with a zero room asks for a provisioned room.
type startRequest struct {
	room domain.RoomURL
}

type registration struct {
	event core.EngineEvent
	id    core.HandlerID
}

var subscribedEvents = []core.EngineEvent{
	core.EventJoinedMeeting,
	core.EventLeftMeeting,
	core.EventError,
	core.EventParticipantJoined,
	core.EventParticipantUpdated,
	core.EventParticipantLeft,
	core.EventAppMessage,
}

// Machine is the application-side call state machine. All transitions run
// under one mutex; engine commands are issued from a per-call lane.
type Machine struct {
	ctx    context.Context
	cancel context.CancelFunc

	engine    core.CallEngine
	rooms     core.RoomProvisioner
	reporter  core.Reporter
	policy    app.Policy
	log       zerolog.Logger
	opTimeout time.Duration

	mu           sync.Mutex
	state        State
	room         domain.RoomURL
	session      uint64
	call         core.CallObject
	lane         *lane
	handlers     []registration
	tearingDown  bool
	participants map[string]struct{}
	queued       *startRequest
	lastErr      error
	closed       bool
}

type Option func(m *Machine)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) {
		m.log = l
	}
}

func WithPolicy(p app.Policy) Option {
	return func(m *Machine) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithOpTimeout bounds room creation and each engine command.
func WithOpTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.opTimeout = d
		}
	}
}

func New(engine core.CallEngine, rooms core.RoomProvisioner, reporter core.Reporter, opts ...Option) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		ctx:          ctx,
		cancel:       cancel,
		engine:       engine,
		rooms:        rooms,
		reporter:     reporter,
		policy:       app.RejectPolicy{},
		log:          log.With().Str("module", "app.lifecycle").Logger(),
		opTimeout:    DefaultOpTimeout,
		participants: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Attach subscribes the machine to every host event kind on ch.
func (m *Machine) Attach(ch *app.Channel) { ch.SubscribeAll(m) }

func (m *Machine) Detach(ch *app.Channel) { ch.UnsubscribeAll(m) }

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		State:        m.state,
		StateName:    m.state.String(),
		Room:         m.room,
		Participants: len(m.participants),
		HasCall:      m.call != nil,
		Queued:       m.queued != nil,
	}
	if m.call != nil {
		s.MeetingState = m.call.MeetingState()
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// StartCall starts a call in a freshly provisioned room.
func (m *Machine) StartCall() error {
	return m.start(startRequest{})
}

// StartCallIn starts a call in a room the user already has.
func (m *Machine) StartCallIn(room domain.RoomURL) error {
	if room.IsZero() {
		return ErrEmptyRoom
	}
	return m.start(startRequest{room: room})
}

// EndCall is the local "end call" intent. From Joined it asks the host for
// permission to end; from Error it tears the call object down directly.
func (m *Machine) EndCall() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Joined:
		m.setStateLocked(AwaitingEndInstruction)
		m.reporter.RequestEnd(m.room)
		return nil
	case Error:
		if m.tearingDown {
			return ErrTeardownInProgress
		}
		if m.call == nil {
			m.toIdleLocked()
			return nil
		}
		m.releaseLocked(false)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, m.state)
}

// Close rejects further starts and tears down any live call.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.queued = nil
	m.cancel()
	switch {
	case m.call != nil:
		m.releaseLocked(m.state.started())
	case m.state == AwaitingStartInstruction:
		m.toIdleLocked()
	}
	m.log.Info().Str("state", m.state.String()).Msg("machine closed")
}

func (m *Machine) start(req startRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state != Idle {
		if m.queued == nil && m.policy.OnBusyStart(m.room, req.room) == app.QueueStart {
			m.queued = &req
			m.log.Info().Str("room", m.room.String()).Str("requested", req.room.String()).Msg("start queued")
			return ErrStartQueued
		}
		m.log.Info().Str("state", m.state.String()).Msg("start rejected, call in progress")
		return ErrCallInProgress
	}
	m.beginLocked(req)
	return nil
}

func (m *Machine) beginLocked(req startRequest) {
	m.session++
	m.lastErr = nil
	if !req.room.IsZero() {
		m.room = req.room
		m.setStateLocked(AwaitingStartInstruction)
		m.reporter.RequestStart(m.room)
		return
	}
	m.setStateLocked(CreatingRoom)
	go m.createRoom(m.session)
}

func (m *Machine) createRoom(sess uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opTimeout)
	defer cancel()
	url, err := m.rooms.CreateRoom(ctx)
	m.roomCreated(sess, url, err)
}

func (m *Machine) roomCreated(sess uint64, url domain.RoomURL, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess != m.session || m.state != CreatingRoom {
		m.log.Debug().Uint64("session", sess).Msg("stale room creation result")
		return
	}
	if err == nil && url.IsZero() {
		err = ErrEmptyRoom
	}
	if err != nil {
		m.lastErr = fmt.Errorf("%w: %v", ErrRoomCreation, err)
		m.log.Warn().Err(err).Msg("room creation failed")
		m.toIdleLocked()
		return
	}
	m.room = url
	m.setStateLocked(AwaitingStartInstruction)
	m.reporter.RequestStart(url)
}

// attachCallLocked creates the call object for the current session and
// subscribes to its events. Handlers carry the session and handle so late
// events from a released call object are dropped.
func (m *Machine) attachCallLocked() {
	call := m.engine.CreateCallObject()
	sess := m.session
	m.call = call
	m.lane = newLane(m.opTimeout)
	m.handlers = m.handlers[:0]
	for _, ev := range subscribedEvents {
		id := call.On(ev, func(d core.EngineEventData) {
			m.onEngineEvent(sess, call, d)
		})
		m.handlers = append(m.handlers, registration{event: ev, id: id})
	}
	m.participants = make(map[string]struct{})
}

// releaseLocked destroys the call object. Ownership is given up only once
// Destroy has returned.
func (m *Machine) releaseLocked(reportEnded bool) {
	if m.tearingDown || m.call == nil {
		return
	}
	m.tearingDown = true
	sess, call, room := m.session, m.call, m.room
	ok := m.lane.submit(func(ctx context.Context) {
		if err := call.Destroy(ctx); err != nil {
			m.log.Warn().Err(err).Str("room", room.String()).Msg("destroy call object")
		}
		m.destroyed(sess, room, reportEnded)
	})
	if !ok {
		m.log.Error().Str("room", room.String()).Msg("command lane rejected destroy")
		m.tearingDown = false
	}
}

func (m *Machine) destroyed(sess uint64, room domain.RoomURL, reportEnded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess != m.session || m.call == nil {
		return
	}
	for _, h := range m.handlers {
		m.call.Off(h.event, h.id)
	}
	m.handlers = m.handlers[:0]
	m.call = nil
	m.lane.stop()
	m.lane = nil
	m.tearingDown = false
	if reportEnded {
		m.reporter.ReportEnded(room)
	}
	m.toIdleLocked()
}

func (m *Machine) failLocked(cause error) {
	m.lastErr = fmt.Errorf("%w: %v", ErrCallFailed, cause)
	m.setStateLocked(Error)
	m.reporter.ReportFailed(m.room)
}

func (m *Machine) toIdleLocked() {
	m.setStateLocked(Idle)
	m.room = ""
	m.participants = make(map[string]struct{})
	if m.queued != nil && !m.closed {
		req := *m.queued
		m.queued = nil
		m.log.Info().Str("requested", req.room.String()).Msg("starting queued call")
		m.beginLocked(req)
	}
}

func (m *Machine) setStateLocked(next State) {
	if m.state == next {
		return
	}
	m.log.Info().
		Str("from", m.state.String()).
		Str("to", next.String()).
		Str("room", m.room.String()).
		Msg("transition")
	m.state = next
}
