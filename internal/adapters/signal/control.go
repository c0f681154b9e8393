package signal

import (
	"encoding/json"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c core.SignalConnection, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch msg.Type {
	case TypePing:
		ctl.handlePing(c)
	case TypeWhoAmI:
		ctl.handleWhoAmI(sid, c)
	case TypeRename:
		ctl.handleRename(sid, c, msg.Label)
	default:
		ctl.handleRequest(sid, c, msg)
	}
}

func (ctl *SignalWSController) handlePing(c core.SignalConnection) {
	ctl.sendJSON(c, Message{Type: TypePong})
}

// handleRequest forwards one of the five call system operations. A start
// that cannot be accepted is answered with an abort so the application does
// not wait for an instruction that never comes.
func (ctl *SignalWSController) handleRequest(sid core.SessionID, c core.SignalConnection, msg Message) {
	l := log.With().Str("module", "signal").Str("sid", string(sid)).Str("type", msg.Type).Logger()

	req, err := domain.NewRequest(domain.Method(msg.Type), msg.RoomURL)
	if err != nil {
		l.Warn().Err(err).Msg("unknown signal")
		ctl.sendError(c, "bad_request")
		return
	}

	start := req.Method == domain.MethodAskToStartCall
	if start && ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		l.Warn().Str("room", req.Room.String()).Msg("start rate limited")
		ctl.sendJSON(c, Message{Type: string(domain.KindAbortStartingCall), RoomURL: req.Room})
		return
	}

	if err := ctl.Calls.Submit(sid, req); err != nil {
		l.Error().Err(err).Msg("submit request")
		if start {
			ctl.sendJSON(c, Message{Type: string(domain.KindAbortStartingCall), RoomURL: req.Room})
			return
		}
		ctl.sendError(c, "unavailable")
	}
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, reason string) {
	ctl.sendJSON(c, Message{Type: TypeError, Error: reason})
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
