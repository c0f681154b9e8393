package domain

type ConnectionState int

const (
	ConnectionDialing ConnectionState = iota
	ConnectionActive
	ConnectionDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDialing:
		return "dialing"
	case ConnectionActive:
		return "active"
	case ConnectionDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type DisconnectCause string

const (
	CauseNone   DisconnectCause = ""
	CauseLocal  DisconnectCause = "LOCAL"
	CauseRemote DisconnectCause = "REMOTE"
	CauseError  DisconnectCause = "ERROR"
)

// Connection is the host call system's record of one self-managed call.
// No transport or lifecycle logic here.
type Connection struct {
	Room        RoomURL         `json:"room_url"`
	Account     *Account        `json:"account,omitempty"`
	State       ConnectionState `json:"-"`
	Cause       DisconnectCause `json:"cause,omitempty"`
	SelfManaged bool            `json:"self_managed"`
	Video       bool            `json:"video"`
}

func NewConnection(room RoomURL, account *Account) *Connection {
	return &Connection{
		Room:        room,
		Account:     account,
		State:       ConnectionDialing,
		SelfManaged: true,
		Video:       true,
	}
}

func (c *Connection) SetActive() {
	if c.State == ConnectionDialing {
		c.State = ConnectionActive
	}
}

func (c *Connection) SetDisconnected(cause DisconnectCause) {
	if c.State == ConnectionDisconnected {
		return
	}
	c.State = ConnectionDisconnected
	c.Cause = cause
}

func (c *Connection) Live() bool { return c.State != ConnectionDisconnected }
