package lifecycle

import (
	"context"
	"sync"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
)

type fakeCall struct {
	mu       sync.Mutex
	state    core.MeetingState
	handlers map[core.EngineEvent]map[core.HandlerID]core.EngineHandler
	nextID   core.HandlerID
	joined   []domain.RoomURL
	joinErr  error
	leaveErr error
	leaves   int
	destroys int

	// destroyGate, when set, holds Destroy until it is closed.
	destroyGate chan struct{}
}

func newFakeCall() *fakeCall {
	return &fakeCall{
		state:    core.MeetingNew,
		handlers: make(map[core.EngineEvent]map[core.HandlerID]core.EngineHandler),
	}
}

func (c *fakeCall) Join(ctx context.Context, room domain.RoomURL) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, room)
	c.state = core.MeetingJoining
	return c.joinErr
}

func (c *fakeCall) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaves++
	return c.leaveErr
}

func (c *fakeCall) Destroy(ctx context.Context) error {
	c.mu.Lock()
	gate := c.destroyGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroys++
	return nil
}

func (c *fakeCall) MeetingState() core.MeetingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeCall) On(ev core.EngineEvent, h core.EngineHandler) core.HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[ev] == nil {
		c.handlers[ev] = make(map[core.HandlerID]core.EngineHandler)
	}
	c.handlers[ev][c.nextID] = h
	return c.nextID
}

func (c *fakeCall) Off(ev core.EngineEvent, id core.HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers[ev], id)
}

// emit delivers d to the registered handlers from the caller's goroutine,
// the way an engine callback would arrive.
func (c *fakeCall) emit(d core.EngineEventData) {
	c.mu.Lock()
	switch d.Event {
	case core.EventJoinedMeeting:
		c.state = core.MeetingJoined
	case core.EventLeftMeeting:
		c.state = core.MeetingLeft
	case core.EventError:
		c.state = core.MeetingError
	}
	hs := make([]core.EngineHandler, 0, len(c.handlers[d.Event]))
	for _, h := range c.handlers[d.Event] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(d)
	}
}

func (c *fakeCall) emitEvent(ev core.EngineEvent) {
	c.emit(core.EngineEventData{Event: ev})
}

func (c *fakeCall) joinedRooms() []domain.RoomURL {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.RoomURL(nil), c.joined...)
}

func (c *fakeCall) counts() (leaves, destroys int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaves, c.destroys
}

func (c *fakeCall) handlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, hs := range c.handlers {
		n += len(hs)
	}
	return n
}

type fakeEngine struct {
	mu       sync.Mutex
	calls    []*fakeCall
	joinErr     error
	leaveErr    error
	destroyGate chan struct{}
}

func (e *fakeEngine) CreateCallObject() core.CallObject {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := newFakeCall()
	c.joinErr = e.joinErr
	c.leaveErr = e.leaveErr
	c.destroyGate = e.destroyGate
	e.calls = append(e.calls, c)
	return c
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) last() *fakeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.calls) == 0 {
		return nil
	}
	return e.calls[len(e.calls)-1]
}

type recordingReporter struct {
	mu   sync.Mutex
	reqs []domain.Request
}

func (r *recordingReporter) add(m domain.Method, room domain.RoomURL) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, domain.Request{Method: m, Room: room})
}

func (r *recordingReporter) RequestStart(room domain.RoomURL) {
	r.add(domain.MethodAskToStartCall, room)
}

func (r *recordingReporter) RequestEnd(room domain.RoomURL) {
	r.add(domain.MethodAskToEndCall, room)
}

func (r *recordingReporter) ReportStarted(room domain.RoomURL) {
	r.add(domain.MethodReportCallStarted, room)
}

func (r *recordingReporter) ReportFailed(room domain.RoomURL) {
	r.add(domain.MethodReportCallFailed, room)
}

func (r *recordingReporter) ReportEnded(room domain.RoomURL) {
	r.add(domain.MethodReportCallEnded, room)
}

func (r *recordingReporter) count(m domain.Method, room domain.RoomURL) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, req := range r.reqs {
		if req.Method == m && req.Room == room {
			n++
		}
	}
	return n
}

func (r *recordingReporter) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

type fakeRooms struct {
	mu    sync.Mutex
	urls  []domain.RoomURL
	err   error
	gate  chan struct{}
	calls int
}

func (f *fakeRooms) CreateRoom(ctx context.Context) (domain.RoomURL, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.urls) == 0 {
		return "", nil
	}
	url := f.urls[0]
	if len(f.urls) > 1 {
		f.urls = f.urls[1:]
	}
	return url, nil
}
