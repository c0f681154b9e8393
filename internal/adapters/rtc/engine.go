// Package rtc is a loopback call engine. Joining a room connects two
// in-process pion peer connections over a data channel; the far peer stands
// in for the remote meeting and greets the caller with an app message.
package rtc

import (
	"errors"
	"time"

	"github.com/dkeye/CallBridge/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrDestroyed = errors.New("call object destroyed")
	ErrNotJoined = errors.New("not in a meeting")
	ErrBusy      = errors.New("call object already in a meeting")
)

const DefaultJoinTimeout = 10 * time.Second

type Engine struct {
	api         *webrtc.API
	cfg         webrtc.Configuration
	joinTimeout time.Duration
	log         zerolog.Logger
}

type EngineOption func(e *Engine)

func WithEngineLogger(l zerolog.Logger) EngineOption {
	return func(e *Engine) { e.log = l }
}

func WithJoinTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.joinTimeout = d
		}
	}
}

func WithICEServers(urls ...string) EngineOption {
	return func(e *Engine) { e.cfg = DefaultWebRTCConfig(urls...) }
}

func NewEngine(opts ...EngineOption) *Engine {
	se := webrtc.SettingEngine{}
	// both peers live in this process
	se.SetIncludeLoopbackCandidate(true)

	e := &Engine{
		api:         webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cfg:         DefaultWebRTCConfig(),
		joinTimeout: DefaultJoinTimeout,
		log:         log.With().Str("module", "adapters.rtc").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) CreateCallObject() core.CallObject {
	return newCallObject(e)
}
