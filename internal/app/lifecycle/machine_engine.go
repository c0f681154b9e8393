package lifecycle

import (
	"errors"

	"github.com/dkeye/CallBridge/internal/core"
)

var errEngine = errors.New("call engine error")

func (m *Machine) onEngineEvent(sess uint64, call core.CallObject, d core.EngineEventData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess != m.session || call != m.call {
		m.log.Debug().Str("event", string(d.Event)).Uint64("session", sess).Msg("event from released call object")
		return
	}

	switch d.Event {
	case core.EventJoinedMeeting:
		if m.state != Joining {
			return
		}
		m.setStateLocked(Joined)
		m.reporter.ReportStarted(m.room)

	case core.EventLeftMeeting:
		switch m.state {
		case Leaving:
			m.releaseLocked(true)
		case Joined, AwaitingEndInstruction:
			// left without being asked: the room ended or we were removed
			m.log.Info().Str("room", m.room.String()).Msg("left meeting remotely")
			m.setStateLocked(Leaving)
			m.releaseLocked(true)
		}

	case core.EventError:
		// once a destroy is queued the call ends through that destroy
		if !m.state.active() || m.tearingDown {
			return
		}
		cause := errEngine
		if d.ErrorMsg != "" {
			cause = errors.New(d.ErrorMsg)
		}
		m.log.Error().Err(cause).Str("room", m.room.String()).Msg("fatal call engine error")
		m.failLocked(cause)

	case core.EventParticipantJoined, core.EventParticipantUpdated:
		if d.ParticipantID != "" {
			m.participants[d.ParticipantID] = struct{}{}
		}

	case core.EventParticipantLeft:
		delete(m.participants, d.ParticipantID)

	case core.EventAppMessage:
		m.log.Info().Str("from", d.ParticipantID).Bytes("data", d.Data).Msg("received app message")
	}
}

// commandFailed handles an engine command that returned an error without a
// matching engine event having moved the call on.
func (m *Machine) commandFailed(sess uint64, op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess != m.session || !m.state.active() || m.tearingDown {
		m.log.Debug().Err(err).Str("op", op).Msg("ignoring command failure")
		return
	}
	m.log.Error().Err(err).Str("op", op).Str("room", m.room.String()).Msg("call command failed")
	m.failLocked(err)
}
