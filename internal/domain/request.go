package domain

import (
	"errors"
	"fmt"
)

var ErrUnknownMethod = errors.New("unknown call system method")

// Method names an operation the application invokes on the host call system.
type Method string

const (
	MethodAskToStartCall    Method = "askToStartCall"
	MethodAskToEndCall      Method = "askToEndCall"
	MethodReportCallStarted Method = "reportCallStarted"
	MethodReportCallFailed  Method = "reportCallFailed"
	MethodReportCallEnded   Method = "reportCallEnded"
)

func (m Method) Valid() bool {
	switch m {
	case MethodAskToStartCall, MethodAskToEndCall,
		MethodReportCallStarted, MethodReportCallFailed, MethodReportCallEnded:
		return true
	}
	return false
}

// Request is one outbound operation addressed to the host call system.
type Request struct {
	Method Method
	Room   RoomURL
}

func NewRequest(method Method, room RoomURL) (Request, error) {
	if !method.Valid() {
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownMethod, string(method))
	}
	if room.IsZero() {
		return Request{}, fmt.Errorf("%w: %s without room url", ErrMalformedEvent, method)
	}
	return Request{Method: method, Room: room}, nil
}
