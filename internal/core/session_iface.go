package core

import "github.com/dkeye/CallBridge/internal/domain"

type SessionID string

// LinkSession binds the phone account of one application link to its
// transport endpoint. This is what the host call system emits events to.
type LinkSession interface {
	Account() *domain.Account
	Signal() SignalConnection
	UpdateSignal(SignalConnection) LinkSession
}
