package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent   = errors.New("unknown call system event")
	ErrMalformedEvent = errors.New("malformed call system event")
)

// EventKind names an instruction sent by the host call system to the application.
type EventKind string

const (
	KindStartCall         EventKind = "EventStartCall"
	KindAbortStartingCall EventKind = "EventAbortStartingCall"
	KindEndCall           EventKind = "EventEndCall"
)

// EventKinds lists every inbound kind in a stable order.
var EventKinds = []EventKind{KindStartCall, KindAbortStartingCall, KindEndCall}

func (k EventKind) Valid() bool {
	switch k {
	case KindStartCall, KindAbortStartingCall, KindEndCall:
		return true
	}
	return false
}

// Event is the closed set of host instructions. Only the types in this
// package implement it.
type Event interface {
	Kind() EventKind
	Room() RoomURL
	isEvent()
}

// StartCall tells the application it may begin joining the room.
type StartCall struct{ RoomURL RoomURL }

// AbortStartingCall tells the application to drop a pending start.
type AbortStartingCall struct{ RoomURL RoomURL }

// EndCall tells the application to leave the room.
type EndCall struct{ RoomURL RoomURL }

func (StartCall) Kind() EventKind         { return KindStartCall }
func (AbortStartingCall) Kind() EventKind { return KindAbortStartingCall }
func (EndCall) Kind() EventKind           { return KindEndCall }

func (e StartCall) Room() RoomURL         { return e.RoomURL }
func (e AbortStartingCall) Room() RoomURL { return e.RoomURL }
func (e EndCall) Room() RoomURL           { return e.RoomURL }

func (StartCall) isEvent()         {}
func (AbortStartingCall) isEvent() {}
func (EndCall) isEvent()           {}

// NewEvent validates a raw kind and room and returns the matching Event.
func NewEvent(kind EventKind, room RoomURL) (Event, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, string(kind))
	}
	if room.IsZero() {
		return nil, fmt.Errorf("%w: %s without room url", ErrMalformedEvent, kind)
	}
	switch kind {
	case KindStartCall:
		return StartCall{RoomURL: room}, nil
	case KindAbortStartingCall:
		return AbortStartingCall{RoomURL: room}, nil
	default:
		return EndCall{RoomURL: room}, nil
	}
}
