package domain

import (
	"strings"

	"github.com/google/uuid"
)

type (
	RoomName string
	RoomID   string
)

// RoomURL identifies a call session and correlates host instructions with the
// application's tracked call. Two RoomURLs refer to the same room only if they
// are byte-for-byte equal.
type RoomURL string

func (u RoomURL) String() string { return string(u) }

func (u RoomURL) IsZero() bool { return u == "" }

// Matches reports whether other names the same room as u. A zero RoomURL never
// matches anything.
func (u RoomURL) Matches(other RoomURL) bool {
	return u != "" && u == other
}

type Room struct {
	ID   RoomID
	Name RoomName
	URL  RoomURL
}

// NewRoom builds the room URL by joining base and name with a single slash.
func NewRoom(id RoomID, name RoomName, base string) *Room {
	url := strings.TrimSuffix(base, "/") + "/" + string(name)
	return &Room{ID: id, Name: name, URL: RoomURL(url)}
}

// GenerateRoomName returns a short random room name.
func GenerateRoomName() RoomName {
	return RoomName("room-" + uuid.NewString()[:8])
}
