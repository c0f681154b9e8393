package lifecycle

import (
	"context"
	"sync"
	"time"
)

// laneDepth covers join, leave and destroy with room to spare.
const laneDepth = 4

// lane issues commands to one call object strictly one after another.
type lane struct {
	cmds    chan func(context.Context)
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

func newLane(timeout time.Duration) *lane {
	l := &lane{
		cmds:    make(chan func(context.Context), laneDepth),
		done:    make(chan struct{}),
		timeout: timeout,
	}
	go l.run()
	return l
}

func (l *lane) run() {
	for {
		select {
		case <-l.done:
			return
		case fn := <-l.cmds:
			ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
			fn(ctx)
			cancel()
		}
	}
}

// submit never blocks; it reports false when the lane is stopped or full.
func (l *lane) submit(fn func(context.Context)) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.cmds <- fn:
		return true
	default:
		return false
	}
}

// stop may be called from inside a running command.
func (l *lane) stop() {
	l.once.Do(func() { close(l.done) })
}
