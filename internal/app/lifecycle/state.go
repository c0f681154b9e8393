package lifecycle

import (
	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
)

type State int

const (
	Idle State = iota
	CreatingRoom
	AwaitingStartInstruction
	Joining
	Joined
	AwaitingEndInstruction
	Leaving
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CreatingRoom:
		return "creating-room"
	case AwaitingStartInstruction:
		return "awaiting-start-instruction"
	case Joining:
		return "joining"
	case Joined:
		return "joined"
	case AwaitingEndInstruction:
		return "awaiting-end-instruction"
	case Leaving:
		return "leaving"
	case Error:
		return "error"
	}
	return "unknown"
}

// active reports whether the state owns a live call object that an engine
// error can fail.
func (s State) active() bool {
	switch s {
	case Joining, Joined, AwaitingEndInstruction, Leaving:
		return true
	}
	return false
}

// started reports whether the host was told the call started.
func (s State) started() bool {
	switch s {
	case Joined, AwaitingEndInstruction, Leaving:
		return true
	}
	return false
}

// Snapshot is a read-only view for the UI layer.
type Snapshot struct {
	State        State             `json:"-"`
	StateName    string            `json:"state"`
	Room         domain.RoomURL    `json:"room_url,omitempty"`
	MeetingState core.MeetingState `json:"meeting_state,omitempty"`
	Participants int               `json:"participants"`
	HasCall      bool              `json:"has_call"`
	Queued       bool              `json:"queued"`
	LastError    string            `json:"last_error,omitempty"`
}
