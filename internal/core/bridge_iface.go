package core

import (
	"context"

	"github.com/dkeye/CallBridge/internal/domain"
)

// Reporter forwards application intents and outcomes to the host call system.
// Calls are best-effort: implementations must return promptly, must not
// surface transport failures, and must not call back into the caller
// synchronously.
type Reporter interface {
	RequestStart(room domain.RoomURL)
	RequestEnd(room domain.RoomURL)
	ReportStarted(room domain.RoomURL)
	ReportFailed(room domain.RoomURL)
	ReportEnded(room domain.RoomURL)
}

// Listener receives host call system events. Listeners are registered and
// removed by identity, so the dynamic type must be comparable; pointer types
// are the usual choice.
type Listener interface {
	HandleCallEvent(ev domain.Event)
}

// RoomProvisioner creates rooms for locally initiated calls.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context) (domain.RoomURL, error)
}

// ReporterFunc adapts a request sink to Reporter.
type ReporterFunc func(domain.Request)

func (f ReporterFunc) RequestStart(room domain.RoomURL) {
	f(domain.Request{Method: domain.MethodAskToStartCall, Room: room})
}

func (f ReporterFunc) RequestEnd(room domain.RoomURL) {
	f(domain.Request{Method: domain.MethodAskToEndCall, Room: room})
}

func (f ReporterFunc) ReportStarted(room domain.RoomURL) {
	f(domain.Request{Method: domain.MethodReportCallStarted, Room: room})
}

func (f ReporterFunc) ReportFailed(room domain.RoomURL) {
	f(domain.Request{Method: domain.MethodReportCallFailed, Room: room})
}

func (f ReporterFunc) ReportEnded(room domain.RoomURL) {
	f(domain.Request{Method: domain.MethodReportCallEnded, Room: room})
}
