package core

import (
	"context"

	"github.com/dkeye/CallBridge/internal/domain"
)

// MeetingState mirrors the call engine's own view of a call object.
type MeetingState string

const (
	MeetingNew     MeetingState = "new"
	MeetingJoining MeetingState = "joining-meeting"
	MeetingJoined  MeetingState = "joined-meeting"
	MeetingLeft    MeetingState = "left-meeting"
	MeetingError   MeetingState = "error"
)

type EngineEvent string

const (
	EventJoiningMeeting     EngineEvent = "joining-meeting"
	EventJoinedMeeting      EngineEvent = "joined-meeting"
	EventLeftMeeting        EngineEvent = "left-meeting"
	EventError              EngineEvent = "error"
	EventParticipantJoined  EngineEvent = "participant-joined"
	EventParticipantUpdated EngineEvent = "participant-updated"
	EventParticipantLeft    EngineEvent = "participant-left"
	EventAppMessage         EngineEvent = "app-message"
)

// EngineEventData is the payload handed to engine event handlers.
type EngineEventData struct {
	Event         EngineEvent
	ParticipantID string
	Data          []byte
	ErrorMsg      string
}

type EngineHandler func(EngineEventData)

// HandlerID identifies a registration made with CallObject.On.
type HandlerID uint64

// CallEngine creates call objects. One call object manages one media session.
type CallEngine interface {
	CreateCallObject() CallObject
}

// CallObject is an opaque, asynchronous handle onto one call.
// Implementations must not invoke handlers synchronously from On, Off or
// MeetingState.
type CallObject interface {
	// Join starts joining the room. It returns once the engine has either
	// joined or given up; the outcome is also delivered as an event.
	Join(ctx context.Context, room domain.RoomURL) error
	// Leave leaves the room; completion is signaled by EventLeftMeeting.
	Leave(ctx context.Context) error
	// Destroy releases every engine resource. No command may follow it.
	Destroy(ctx context.Context) error
	MeetingState() MeetingState
	On(ev EngineEvent, h EngineHandler) HandlerID
	Off(ev EngineEvent, id HandlerID)
}
