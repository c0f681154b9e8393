package rtc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

const dispatchDepth = 64

// CallObject is one meeting handle. Handlers run on a dispatch goroutine,
// never from inside On, Off or an engine command.
type CallObject struct {
	engine *Engine
	log    zerolog.Logger

	mu        sync.Mutex
	state     core.MeetingState
	handlers  map[core.EngineEvent]map[core.HandlerID]core.EngineHandler
	nextID    core.HandlerID
	local     *WebRTCConnection
	remote    *WebRTCConnection
	remoteID  string
	leaving   bool
	destroyed bool

	events chan core.EngineEventData
	done   chan struct{}
}

func newCallObject(e *Engine) *CallObject {
	c := &CallObject{
		engine:   e,
		log:      e.log,
		state:    core.MeetingNew,
		handlers: make(map[core.EngineEvent]map[core.HandlerID]core.EngineHandler),
		events:   make(chan core.EngineEventData, dispatchDepth),
		done:     make(chan struct{}),
	}
	go c.dispatch()
	return c
}

func (c *CallObject) On(ev core.EngineEvent, h core.EngineHandler) core.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[ev] == nil {
		c.handlers[ev] = make(map[core.HandlerID]core.EngineHandler)
	}
	c.handlers[ev][c.nextID] = h
	return c.nextID
}

func (c *CallObject) Off(ev core.EngineEvent, id core.HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers[ev], id)
}

func (c *CallObject) MeetingState() core.MeetingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CallObject) Join(ctx context.Context, room domain.RoomURL) error {
	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case c.state != core.MeetingNew && c.state != core.MeetingLeft:
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = core.MeetingJoining
	c.leaving = false
	c.remoteID = "remote-" + uuid.NewString()[:8]
	c.mu.Unlock()

	c.log.Info().Str("room", room.String()).Msg("joining meeting")
	c.emit(core.EngineEventData{Event: core.EventJoiningMeeting})

	ctx, cancel := context.WithTimeout(ctx, c.engine.joinTimeout)
	defer cancel()
	if err := c.connect(ctx, room); err != nil {
		c.log.Error().Err(err).Str("room", room.String()).Msg("join failed")
		c.closePeers()
		c.fail(err.Error())
		return err
	}
	return nil
}

func (c *CallObject) connect(ctx context.Context, room domain.RoomURL) error {
	local, err := NewWebRTCConnection(c.engine.api, c.engine.cfg, "local")
	if err != nil {
		return err
	}
	remote, err := NewWebRTCConnection(c.engine.api, c.engine.cfg, room.String())
	if err != nil {
		local.Close()
		return err
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		local.Close()
		remote.Close()
		return ErrDestroyed
	}
	c.local, c.remote = local, remote
	peerID := c.remoteID
	c.mu.Unlock()

	remote.OnDataChannel(func(dc *webrtc.DataChannel) {
		dc.OnOpen(func() {
			greeting, _ := json.Marshal(map[string]string{"type": "welcome", "room": room.String()})
			if err := dc.SendText(string(greeting)); err != nil {
				c.log.Warn().Err(err).Msg("remote greeting")
			}
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			_ = dc.Send(msg.Data)
		})
	})

	dc, err := local.CreateDataChannel("meeting")
	if err != nil {
		return err
	}
	opened := make(chan struct{})
	var once sync.Once
	dc.OnOpen(func() { once.Do(func() { close(opened) }) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.emit(core.EngineEventData{Event: core.EventAppMessage, ParticipantID: peerID, Data: msg.Data})
	})

	offer, err := local.CreateOffer(ctx)
	if err != nil {
		return err
	}
	answer, err := remote.ApplyOfferAndCreateAnswer(ctx, *offer)
	if err != nil {
		return err
	}
	if err := local.ApplyAnswer(*answer); err != nil {
		return err
	}
	if err := wait(ctx, opened); err != nil {
		return err
	}
	local.OnClosed(c.connectionLost)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.state = core.MeetingJoined
	c.mu.Unlock()

	c.log.Info().Str("room", room.String()).Str("participant", peerID).Msg("joined meeting")
	c.emit(core.EngineEventData{Event: core.EventJoinedMeeting})
	c.emit(core.EngineEventData{Event: core.EventParticipantJoined, ParticipantID: peerID})
	return nil
}

func (c *CallObject) Leave(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.destroyed:
		c.mu.Unlock()
		return ErrDestroyed
	case c.state != core.MeetingJoined:
		c.mu.Unlock()
		return ErrNotJoined
	}
	c.leaving = true
	peerID := c.remoteID
	c.mu.Unlock()

	c.closePeers()

	c.mu.Lock()
	c.state = core.MeetingLeft
	c.mu.Unlock()

	c.log.Info().Msg("left meeting")
	c.emit(core.EngineEventData{Event: core.EventParticipantLeft, ParticipantID: peerID})
	c.emit(core.EngineEventData{Event: core.EventLeftMeeting})
	return nil
}

// Destroy releases the handle. It is idempotent and no handler runs after it
// returns.
func (c *CallObject) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.handlers = make(map[core.EngineEvent]map[core.HandlerID]core.EngineHandler)
	c.mu.Unlock()

	close(c.done)
	c.closePeers()
	c.log.Info().Msg("call object destroyed")
	return nil
}

// connectionLost fires when the local peer connection fails outside a
// requested leave.
func (c *CallObject) connectionLost() {
	c.mu.Lock()
	if c.leaving || c.destroyed || c.state != core.MeetingJoined {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.log.Warn().Msg("meeting connection lost")
	c.fail("connection lost")
}

func (c *CallObject) fail(msg string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state = core.MeetingError
	c.mu.Unlock()
	c.emit(core.EngineEventData{Event: core.EventError, ErrorMsg: msg})
}

func (c *CallObject) closePeers() {
	c.mu.Lock()
	local, remote := c.local, c.remote
	c.local, c.remote = nil, nil
	c.mu.Unlock()
	if local != nil {
		local.Close()
	}
	if remote != nil {
		remote.Close()
	}
}

func (c *CallObject) emit(d core.EngineEventData) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.events <- d:
	default:
		c.log.Warn().Str("event", string(d.Event)).Msg("dispatch queue full, event dropped")
	}
}

func (c *CallObject) dispatch() {
	for {
		select {
		case <-c.done:
			return
		case d := <-c.events:
			for _, h := range c.handlersFor(d.Event) {
				h(d)
			}
		}
	}
}

func (c *CallObject) handlersFor(ev core.EngineEvent) []core.EngineHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	hs := make([]core.EngineHandler, 0, len(c.handlers[ev]))
	for _, h := range c.handlers[ev] {
		hs = append(hs, h)
	}
	return hs
}
