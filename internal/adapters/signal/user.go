package signal

import (
	"github.com/dkeye/CallBridge/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleRename(
	sid core.SessionID,
	conn core.SignalConnection,
	label string,
) {
	if label == "" {
		ctl.sendError(conn, "empty label")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("label", label).Msg("rename")
	if err := ctl.Registry.UpdateLabel(sid, label); err != nil {
		ctl.sendError(conn, "invalid_label")
		return
	}
	ctl.handleWhoAmI(sid, conn)
}

func (ctl *SignalWSController) handleWhoAmI(
	sid core.SessionID,
	conn core.SignalConnection,
) {
	acct := *ctl.Registry.GetOrCreateAccount(sid)
	ctl.sendJSON(conn, Message{Type: TypeWhoAmI, Account: &acct})
}
