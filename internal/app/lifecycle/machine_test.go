package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/CallBridge/internal/app"
	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	roomA domain.RoomURL = "https://rooms.test/R1"
	roomB domain.RoomURL = "https://rooms.test/R2"
)

func newTestMachine(t *testing.T, rooms core.RoomProvisioner, opts ...Option) (*Machine, *fakeEngine, *recordingReporter) {
	t.Helper()
	eng := &fakeEngine{}
	rep := &recordingReporter{}
	opts = append([]Option{WithLogger(zerolog.Nop()), WithOpTimeout(time.Second)}, opts...)
	m := New(eng, rooms, rep, opts...)
	t.Cleanup(m.Close)
	return m, eng, rep
}

func waitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, 2*time.Second, 5*time.Millisecond,
		"want state %s, have %s", want, m.State())
}

// awaitingStart drives m to AwaitingStartInstruction for a provisioned room.
func awaitingStart(t *testing.T, m *Machine) {
	t.Helper()
	require.NoError(t, m.StartCall())
	waitState(t, m, AwaitingStartInstruction)
}

// joining drives m to Joining and waits for the join command to reach the call.
func joining(t *testing.T, m *Machine, eng *fakeEngine, room domain.RoomURL) *fakeCall {
	t.Helper()
	awaitingStart(t, m)
	m.HandleCallEvent(domain.StartCall{RoomURL: room})
	require.Equal(t, Joining, m.State())
	require.Eventually(t, func() bool {
		c := eng.last()
		return c != nil && len(c.joinedRooms()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	return eng.last()
}

func joined(t *testing.T, m *Machine, eng *fakeEngine, room domain.RoomURL) *fakeCall {
	t.Helper()
	call := joining(t, m, eng, room)
	call.emitEvent(core.EventJoinedMeeting)
	require.Equal(t, Joined, m.State())
	return call
}

func TestStartCall_HappyPath(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})

	awaitingStart(t, m)
	assert.Equal(t, 1, rep.count(domain.MethodAskToStartCall, roomA))
	assert.Equal(t, 0, eng.count(), "no call object before the host approves")

	call := joining(t, m, eng, roomA)
	assert.Equal(t, []domain.RoomURL{roomA}, call.joinedRooms())

	call.emitEvent(core.EventJoinedMeeting)
	assert.Equal(t, Joined, m.State())
	assert.Equal(t, 1, rep.count(domain.MethodReportCallStarted, roomA))

	s := m.Snapshot()
	assert.Equal(t, "joined", s.StateName)
	assert.Equal(t, roomA, s.Room)
	assert.True(t, s.HasCall)
	assert.Equal(t, core.MeetingJoined, s.MeetingState)
}

func TestStartCall_HostAborts(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	awaitingStart(t, m)

	m.HandleCallEvent(domain.AbortStartingCall{RoomURL: roomA})

	assert.Equal(t, Idle, m.State())
	assert.Equal(t, 0, eng.count())
	assert.Equal(t, 0, rep.count(domain.MethodReportCallStarted, roomA))
	assert.Equal(t, 0, rep.count(domain.MethodReportCallFailed, roomA))
	assert.Empty(t, m.Snapshot().Room)
}

func TestStartCall_OtherRoomIgnored(t *testing.T) {
	m, eng, _ := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	awaitingStart(t, m)

	m.HandleCallEvent(domain.StartCall{RoomURL: roomB})
	m.HandleCallEvent(domain.AbortStartingCall{RoomURL: roomB})

	assert.Equal(t, AwaitingStartInstruction, m.State())
	assert.Equal(t, roomA, m.Snapshot().Room)
	assert.Equal(t, 0, eng.count())
}

func TestEndCall_HostApproves(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	call := joined(t, m, eng, roomA)

	require.NoError(t, m.EndCall())
	assert.Equal(t, AwaitingEndInstruction, m.State())
	assert.Equal(t, 1, rep.count(domain.MethodAskToEndCall, roomA))

	m.HandleCallEvent(domain.EndCall{RoomURL: roomA})
	assert.Equal(t, Leaving, m.State())
	require.Eventually(t, func() bool {
		leaves, _ := call.counts()
		return leaves == 1
	}, 2*time.Second, 5*time.Millisecond)

	call.emitEvent(core.EventLeftMeeting)
	waitState(t, m, Idle)

	_, destroys := call.counts()
	assert.Equal(t, 1, destroys)
	assert.Equal(t, 1, rep.count(domain.MethodReportCallEnded, roomA))
	assert.Equal(t, 0, call.handlerCount(), "handlers must be removed on release")
	assert.False(t, m.Snapshot().HasCall)
}

func TestEndCall_AfterEngineError(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	call := joining(t, m, eng, roomA)

	call.emit(core.EngineEventData{Event: core.EventError, ErrorMsg: "network down"})
	assert.Equal(t, Error, m.State())
	assert.Equal(t, 1, rep.count(domain.MethodReportCallFailed, roomA))
	assert.Contains(t, m.Snapshot().LastError, "network down")

	require.NoError(t, m.EndCall())
	waitState(t, m, Idle)

	_, destroys := call.counts()
	assert.Equal(t, 1, destroys)
	assert.Equal(t, 0, rep.count(domain.MethodReportCallEnded, roomA))
	assert.Equal(t, 1, rep.count(domain.MethodReportCallFailed, roomA))

	assert.ErrorIs(t, m.EndCall(), ErrInvalidState)
}

func TestEndCall_NotJoined(t *testing.T) {
	m, _, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	assert.ErrorIs(t, m.EndCall(), ErrInvalidState)

	awaitingStart(t, m)
	assert.ErrorIs(t, m.EndCall(), ErrInvalidState)
	assert.Equal(t, 0, rep.count(domain.MethodAskToEndCall, roomA))
}

func TestEndCall_WhileAwaitingEnd(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	joined(t, m, eng, roomA)

	require.NoError(t, m.EndCall())
	assert.ErrorIs(t, m.EndCall(), ErrInvalidState)
	assert.Equal(t, 1, rep.count(domain.MethodAskToEndCall, roomA))
}

func TestHostEvents_OtherRoomIgnoredInEveryState(t *testing.T) {
	foreign := []domain.Event{
		domain.StartCall{RoomURL: roomB},
		domain.AbortStartingCall{RoomURL: roomB},
		domain.EndCall{RoomURL: roomB},
	}

	setups := map[State]func(t *testing.T, m *Machine, eng *fakeEngine){
		Idle:                     func(t *testing.T, m *Machine, eng *fakeEngine) {},
		AwaitingStartInstruction: func(t *testing.T, m *Machine, eng *fakeEngine) { awaitingStart(t, m) },
		Joining:                  func(t *testing.T, m *Machine, eng *fakeEngine) { joining(t, m, eng, roomA) },
		Joined:                   func(t *testing.T, m *Machine, eng *fakeEngine) { joined(t, m, eng, roomA) },
		AwaitingEndInstruction: func(t *testing.T, m *Machine, eng *fakeEngine) {
			joined(t, m, eng, roomA)
			require.NoError(t, m.EndCall())
		},
		Leaving: func(t *testing.T, m *Machine, eng *fakeEngine) {
			joined(t, m, eng, roomA)
			require.NoError(t, m.EndCall())
			m.HandleCallEvent(domain.EndCall{RoomURL: roomA})
		},
		Error: func(t *testing.T, m *Machine, eng *fakeEngine) {
			joining(t, m, eng, roomA).emitEvent(core.EventError)
		},
	}

	for state, setup := range setups {
		t.Run(state.String(), func(t *testing.T) {
			m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
			setup(t, m, eng)
			require.Equal(t, state, m.State())
			calls, reports := eng.count(), rep.total()

			for _, ev := range foreign {
				m.HandleCallEvent(ev)
			}

			assert.Equal(t, state, m.State())
			assert.Equal(t, calls, eng.count())
			assert.Equal(t, reports, rep.total())
		})
	}
}

func TestHostEvents_UnexpectedStateIgnored(t *testing.T) {
	m, eng, _ := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	joining(t, m, eng, roomA)

	m.HandleCallEvent(domain.StartCall{RoomURL: roomA})
	m.HandleCallEvent(domain.AbortStartingCall{RoomURL: roomA})
	m.HandleCallEvent(domain.EndCall{RoomURL: roomA})

	assert.Equal(t, Joining, m.State())
	assert.Equal(t, 1, eng.count(), "a repeated start must not create a second call object")
}

func TestRoomCreationFailure(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{err: errors.New("provider unavailable")})

	require.NoError(t, m.StartCall())
	waitState(t, m, Idle)

	s := m.Snapshot()
	assert.Contains(t, s.LastError, ErrRoomCreation.Error())
	assert.Equal(t, 0, rep.total(), "nothing is reported to the host")
	assert.Equal(t, 0, eng.count())
}

func TestRoomCreationEmptyURL(t *testing.T) {
	m, _, rep := newTestMachine(t, &fakeRooms{})

	require.NoError(t, m.StartCall())
	waitState(t, m, Idle)
	assert.Contains(t, m.Snapshot().LastError, ErrEmptyRoom.Error())
	assert.Equal(t, 0, rep.total())
}

func TestStartCallIn(t *testing.T) {
	rooms := &fakeRooms{}
	m, _, rep := newTestMachine(t, rooms)

	assert.ErrorIs(t, m.StartCallIn(""), ErrEmptyRoom)

	require.NoError(t, m.StartCallIn(roomB))
	assert.Equal(t, AwaitingStartInstruction, m.State())
	assert.Equal(t, 1, rep.count(domain.MethodAskToStartCall, roomB))
	assert.Equal(t, 0, rooms.calls, "a known room is not provisioned")
}

func TestBusyReject(t *testing.T) {
	gate := make(chan struct{})
	m, _, _ := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}, gate: gate})

	require.NoError(t, m.StartCall())
	assert.Equal(t, CreatingRoom, m.State())
	assert.ErrorIs(t, m.StartCall(), ErrCallInProgress)
	assert.ErrorIs(t, m.StartCallIn(roomB), ErrCallInProgress)

	close(gate)
	waitState(t, m, AwaitingStartInstruction)
	assert.ErrorIs(t, m.StartCall(), ErrCallInProgress)
	assert.False(t, m.Snapshot().Queued)
}

func TestBusyQueue(t *testing.T) {
	m, _, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}}, WithPolicy(app.QueuePolicy{}))
	awaitingStart(t, m)

	assert.ErrorIs(t, m.StartCallIn(roomB), ErrStartQueued)
	assert.True(t, m.Snapshot().Queued)
	assert.ErrorIs(t, m.StartCall(), ErrCallInProgress, "only one start may wait")

	m.HandleCallEvent(domain.AbortStartingCall{RoomURL: roomA})

	assert.Equal(t, AwaitingStartInstruction, m.State())
	s := m.Snapshot()
	assert.Equal(t, roomB, s.Room)
	assert.False(t, s.Queued)
	assert.Equal(t, 1, rep.count(domain.MethodAskToStartCall, roomB))
}

func TestJoinCommandError(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	eng.joinErr = errors.New("join rejected")

	awaitingStart(t, m)
	m.HandleCallEvent(domain.StartCall{RoomURL: roomA})
	waitState(t, m, Error)
	assert.Equal(t, 1, rep.count(domain.MethodReportCallFailed, roomA))

	// the engine's own error event for the same failure is not reported twice
	eng.last().emitEvent(core.EventError)
	assert.Equal(t, 1, rep.count(domain.MethodReportCallFailed, roomA))
}

func TestLeaveCommandError(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	eng.leaveErr = errors.New("leave failed")
	joined(t, m, eng, roomA)

	require.NoError(t, m.EndCall())
	m.HandleCallEvent(domain.EndCall{RoomURL: roomA})
	waitState(t, m, Error)
	assert.Equal(t, 1, rep.count(domain.MethodReportCallFailed, roomA))

	require.NoError(t, m.EndCall())
	waitState(t, m, Idle)
}

func TestRemoteLeftMeeting(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	call := joined(t, m, eng, roomA)

	call.emitEvent(core.EventLeftMeeting)
	waitState(t, m, Idle)

	_, destroys := call.counts()
	assert.Equal(t, 1, destroys)
	assert.Equal(t, 1, rep.count(domain.MethodReportCallEnded, roomA))
	assert.Equal(t, 0, rep.count(domain.MethodAskToEndCall, roomA))
}

func TestEngineErrorDuringTeardown(t *testing.T) {
	cases := map[string]func(t *testing.T, m *Machine, call *fakeCall){
		"requested leave": func(t *testing.T, m *Machine, call *fakeCall) {
			require.NoError(t, m.EndCall())
			m.HandleCallEvent(domain.EndCall{RoomURL: roomA})
			require.Eventually(t, func() bool {
				leaves, _ := call.counts()
				return leaves == 1
			}, 2*time.Second, 5*time.Millisecond)
			call.emitEvent(core.EventLeftMeeting)
		},
		"remote leave": func(t *testing.T, m *Machine, call *fakeCall) {
			call.emitEvent(core.EventLeftMeeting)
		},
	}
	for name, leave := range cases {
		t.Run(name, func(t *testing.T) {
			m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
			gate := make(chan struct{})
			eng.destroyGate = gate
			call := joined(t, m, eng, roomA)

			leave(t, m, call)
			require.Equal(t, Leaving, m.State())

			call.emit(core.EngineEventData{Event: core.EventError, ErrorMsg: "transport closed"})
			m.mu.Lock()
			sess := m.session
			m.mu.Unlock()
			m.commandFailed(sess, "leave", errors.New("leave after close"))

			assert.Equal(t, Leaving, m.State())
			assert.Equal(t, 0, rep.count(domain.MethodReportCallFailed, roomA))
			assert.ErrorIs(t, m.EndCall(), ErrInvalidState)

			close(gate)
			waitState(t, m, Idle)
			assert.Equal(t, 1, rep.count(domain.MethodReportCallEnded, roomA))
			assert.Equal(t, 0, rep.count(domain.MethodReportCallFailed, roomA))
			_, destroys := call.counts()
			assert.Equal(t, 1, destroys)
		})
	}
}

func TestReleasedCallEventsIgnored(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA, roomB}})
	first := joined(t, m, eng, roomA)
	first.emitEvent(core.EventLeftMeeting)
	waitState(t, m, Idle)

	// first's handlers were removed on release; feed a late event directly
	second := joined(t, m, eng, roomB)
	require.NotSame(t, first, second)
	m.onEngineEvent(1, first, core.EngineEventData{Event: core.EventError})

	assert.Equal(t, Joined, m.State())
	assert.Equal(t, 0, rep.count(domain.MethodReportCallFailed, roomB))
}

func TestSingleCallObject(t *testing.T) {
	m, eng, _ := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA, roomB}})

	for _, room := range []domain.RoomURL{roomA, roomB} {
		call := joined(t, m, eng, room)
		require.NoError(t, m.EndCall())
		m.HandleCallEvent(domain.EndCall{RoomURL: room})
		call.emitEvent(core.EventLeftMeeting)
		waitState(t, m, Idle)
		_, destroys := call.counts()
		assert.Equal(t, 1, destroys)
	}
	assert.Equal(t, 2, eng.count())
}

func TestParticipantsTracked(t *testing.T) {
	m, eng, _ := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	call := joined(t, m, eng, roomA)

	call.emit(core.EngineEventData{Event: core.EventParticipantJoined, ParticipantID: "p1"})
	call.emit(core.EngineEventData{Event: core.EventParticipantJoined, ParticipantID: "p2"})
	call.emit(core.EngineEventData{Event: core.EventParticipantUpdated, ParticipantID: "p2"})
	call.emit(core.EngineEventData{Event: core.EventAppMessage, ParticipantID: "p2", Data: []byte(`{"hi":1}`)})
	assert.Equal(t, 2, m.Snapshot().Participants)

	call.emit(core.EngineEventData{Event: core.EventParticipantLeft, ParticipantID: "p1"})
	assert.Equal(t, 1, m.Snapshot().Participants)
	assert.Equal(t, Joined, m.State())
}

func TestClose(t *testing.T) {
	m, eng, rep := newTestMachine(t, &fakeRooms{urls: []domain.RoomURL{roomA}})
	call := joined(t, m, eng, roomA)

	m.Close()
	waitState(t, m, Idle)

	_, destroys := call.counts()
	assert.Equal(t, 1, destroys)
	assert.Equal(t, 1, rep.count(domain.MethodReportCallEnded, roomA))
	assert.ErrorIs(t, m.StartCall(), ErrClosed)
}

func TestAttachToChannel(t *testing.T) {
	m, _, _ := newTestMachine(t, &fakeRooms{})
	ch := app.NewChannel(app.WithChannelLogger(zerolog.Nop()))

	m.Attach(ch)
	for _, k := range domain.EventKinds {
		assert.Equal(t, 1, ch.Listeners(k))
	}

	require.NoError(t, m.StartCallIn(roomA))
	ch.Deliver(domain.KindAbortStartingCall, roomA)
	assert.Equal(t, Idle, m.State())

	m.Detach(ch)
	for _, k := range domain.EventKinds {
		assert.Zero(t, ch.Listeners(k))
	}
}
