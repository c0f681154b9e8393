package app

import (
	"reflect"
	"sync"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/dkeye/CallBridge/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Channel carries host call system events to in-process listeners.
// It holds no call state; it only fans events out.
type Channel struct {
	mu        sync.RWMutex
	listeners map[domain.EventKind][]core.Listener
	log       zerolog.Logger
}

type ChannelOption func(c *Channel)

func WithChannelLogger(l zerolog.Logger) ChannelOption {
	return func(c *Channel) {
		c.log = l
	}
}

func NewChannel(opts ...ChannelOption) *Channel {
	c := &Channel{
		listeners: make(map[domain.EventKind][]core.Listener),
		log:       log.With().Str("module", "app.events").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// hasIdentity reports whether l can be matched by identity. Listeners backed
// by slices, maps or funcs cannot.
func hasIdentity(l core.Listener) bool {
	return l != nil && reflect.TypeOf(l).Comparable()
}

// Subscribe registers l for kind. Registering the same listener twice is a
// no-op. Listeners that cannot be compared are rejected.
func (c *Channel) Subscribe(kind domain.EventKind, l core.Listener) {
	if !kind.Valid() {
		return
	}
	if !hasIdentity(l) {
		c.log.Warn().Str("kind", string(kind)).Type("listener", l).Msg("rejecting listener without identity")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cur := range c.listeners[kind] {
		if cur == l {
			return
		}
	}
	c.listeners[kind] = append(c.listeners[kind], l)
}

// Unsubscribe removes l from kind. Removing an absent listener is a no-op.
func (c *Channel) Unsubscribe(kind domain.EventKind, l core.Listener) {
	if !hasIdentity(l) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.listeners[kind]
	for i, existing := range cur {
		if existing == l {
			// copy so snapshots taken by Publish stay intact
			next := make([]core.Listener, 0, len(cur)-1)
			next = append(next, cur[:i]...)
			next = append(next, cur[i+1:]...)
			c.listeners[kind] = next
			return
		}
	}
}

func (c *Channel) SubscribeAll(l core.Listener) {
	for _, k := range domain.EventKinds {
		c.Subscribe(k, l)
	}
}

func (c *Channel) UnsubscribeAll(l core.Listener) {
	for _, k := range domain.EventKinds {
		c.Unsubscribe(k, l)
	}
}

// Listeners returns how many listeners are registered for kind.
func (c *Channel) Listeners(kind domain.EventKind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.listeners[kind])
}

// Deliver validates a raw host event and publishes it. Malformed events are
// logged and dropped.
func (c *Channel) Deliver(kind domain.EventKind, room domain.RoomURL) {
	ev, err := domain.NewEvent(kind, room)
	if err != nil {
		c.log.Warn().Err(err).Str("kind", string(kind)).Msg("dropping host event")
		return
	}
	c.Publish(ev)
}

// Publish invokes every listener registered for the event's kind, in
// registration order. It returns the number of listeners that returned
// normally; a panicking listener does not stop delivery to the rest.
func (c *Channel) Publish(ev domain.Event) int {
	c.mu.RLock()
	snapshot := c.listeners[ev.Kind()]
	c.mu.RUnlock()

	c.log.Debug().Str("kind", string(ev.Kind())).Str("room", ev.Room().String()).Int("listeners", len(snapshot)).Msg("publish")
	delivered := 0
	for _, l := range snapshot {
		if c.deliverOne(l, ev) {
			delivered++
		}
	}
	return delivered
}

func (c *Channel) deliverOne(l core.Listener, ev domain.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("kind", string(ev.Kind())).Msg("listener panicked")
			ok = false
		}
	}()
	l.HandleCallEvent(ev)
	return true
}
