package rooms

import (
	"context"

	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/google/uuid"
)

// Local provisions rooms in-process under BaseURL, for running without a
// room service.
type Local struct {
	BaseURL string
}

func (l Local) CreateRoom(ctx context.Context) (domain.RoomURL, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	room := domain.NewRoom(domain.RoomID(uuid.NewString()), domain.GenerateRoomName(), l.BaseURL)
	return room.URL, nil
}
