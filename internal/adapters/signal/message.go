package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
)

var ErrBadMessage = errors.New("bad host link message")

// Control message types. Host events and requests use their kind and method
// names as the type.
const (
	TypePing   = "ping"
	TypePong   = "pong"
	TypeWhoAmI = "whoami"
	TypeRename = "rename"
	TypeError  = "error"
)

// Message is the single envelope used in both directions on a host link.
type Message struct {
	Type    string          `json:"type"`
	RoomURL domain.RoomURL  `json:"roomUrl,omitempty"`
	Label   string          `json:"label,omitempty"`
	Account *domain.Account `json:"account,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func EncodeEvent(ev domain.Event) (core.Frame, error) {
	return encode(Message{Type: string(ev.Kind()), RoomURL: ev.Room()})
}

func EncodeRequest(req domain.Request) (core.Frame, error) {
	return encode(Message{Type: string(req.Method), RoomURL: req.Room})
}

func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errors.Join(ErrBadMessage, err)
	}
	if m.Type == "" {
		return Message{}, ErrBadMessage
	}
	return m, nil
}

func encode(m Message) (core.Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}
