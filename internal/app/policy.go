package app

import (
	"fmt"

	"github.com/dkeye/CallBridge/internal/domain"
)

// BusyAction decides what happens to a start request made while a call is
// already in progress.
type BusyAction int

const (
	RejectStart BusyAction = iota
	QueueStart
)

func (a BusyAction) String() string {
	switch a {
	case RejectStart:
		return "reject"
	case QueueStart:
		return "queue"
	}
	return "unknown"
}

type Policy interface {
	OnBusyStart(active, requested domain.RoomURL) BusyAction
}

type RejectPolicy struct{}

func (RejectPolicy) OnBusyStart(active, requested domain.RoomURL) BusyAction {
	return RejectStart
}

// QueuePolicy defers a start until the current call is over.
type QueuePolicy struct{}

func (QueuePolicy) OnBusyStart(active, requested domain.RoomURL) BusyAction {
	return QueueStart
}

func PolicyFromName(name string) (Policy, error) {
	switch name {
	case "", "reject":
		return RejectPolicy{}, nil
	case "queue":
		return QueuePolicy{}, nil
	}
	return nil, fmt.Errorf("unknown busy policy %q", name)
}
