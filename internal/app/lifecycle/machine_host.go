package lifecycle

import (
	"context"

	"github.com/dkeye/CallBridge/internal/domain"
)

// HandleCallEvent applies a host call system instruction. Instructions for
// another room, or arriving in a state that does not expect them, are
// ignored.
func (m *Machine) HandleCallEvent(ev domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch e := ev.(type) {
	case domain.StartCall:
		m.onStartCallLocked(e)
	case domain.AbortStartingCall:
		m.onAbortStartingCallLocked(e)
	case domain.EndCall:
		m.onEndCallLocked(e)
	}
}

func (m *Machine) ignoreLocked(ev domain.Event, reason string) {
	m.log.Debug().
		Str("kind", string(ev.Kind())).
		Str("room", ev.Room().String()).
		Str("tracked_room", m.room.String()).
		Str("state", m.state.String()).
		Str("reason", reason).
		Msg("ignoring host event")
}

func (m *Machine) onStartCallLocked(e domain.StartCall) {
	switch {
	case m.state != AwaitingStartInstruction:
		m.ignoreLocked(e, "unexpected state")
		return
	case !m.room.Matches(e.RoomURL):
		m.ignoreLocked(e, "room mismatch")
		return
	case m.call != nil:
		m.ignoreLocked(e, "call object exists")
		return
	}

	m.attachCallLocked()
	m.setStateLocked(Joining)

	sess, call, room := m.session, m.call, m.room
	ok := m.lane.submit(func(ctx context.Context) {
		// a failed join is normally also reported as an engine error event;
		// whichever arrives first moves the call to Error
		if err := call.Join(ctx, room); err != nil {
			m.commandFailed(sess, "join", err)
		}
	})
	if !ok {
		m.log.Error().Str("room", room.String()).Msg("command lane rejected join")
	}
}

func (m *Machine) onAbortStartingCallLocked(e domain.AbortStartingCall) {
	switch {
	case m.state != AwaitingStartInstruction:
		m.ignoreLocked(e, "unexpected state")
		return
	case !m.room.Matches(e.RoomURL):
		m.ignoreLocked(e, "room mismatch")
		return
	}
	m.log.Info().Str("room", m.room.String()).Msg("host aborted starting call")
	m.toIdleLocked()
}

func (m *Machine) onEndCallLocked(e domain.EndCall) {
	switch {
	case m.state != AwaitingEndInstruction:
		m.ignoreLocked(e, "unexpected state")
		return
	case !m.room.Matches(e.RoomURL):
		m.ignoreLocked(e, "room mismatch")
		return
	case m.call == nil:
		m.ignoreLocked(e, "no call object")
		return
	}

	m.setStateLocked(Leaving)

	sess, call := m.session, m.call
	ok := m.lane.submit(func(ctx context.Context) {
		if err := call.Leave(ctx); err != nil {
			m.commandFailed(sess, "leave", err)
		}
	})
	if !ok {
		m.log.Error().Str("room", m.room.String()).Msg("command lane rejected leave")
	}
}
