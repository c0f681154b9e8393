package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// WebRTCConnection wraps one peer connection of a loopback call.
type WebRTCConnection struct {
	pc   *webrtc.PeerConnection
	peer string

	mu       sync.Mutex
	onClosed func()
	closed   bool
}

// DefaultWebRTCConfig builds a configuration from STUN/TURN urls. With no
// urls only host candidates are gathered, which is all a loopback call needs.
func DefaultWebRTCConfig(iceServers ...string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, peer string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, peer: peer}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("peer", peer).Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer", peer).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			c.fireClosed()
		}
	})
	return c, nil
}

// CreateOffer sets a local offer and waits for ICE gathering so the returned
// description carries every candidate.
func (c *WebRTCConnection) CreateOffer(ctx context.Context) (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	if err := wait(ctx, gatherComplete); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyOfferAndCreateAnswer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	if err := wait(ctx, gatherComplete); err != nil {
		return nil, err
	}

	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) CreateDataChannel(label string) (*webrtc.DataChannel, error) {
	return c.pc.CreateDataChannel(label, nil)
}

func (c *WebRTCConnection) OnDataChannel(fn func(*webrtc.DataChannel)) {
	c.pc.OnDataChannel(fn)
}

// OnClosed sets a callback run once when the connection fails or closes.
func (c *WebRTCConnection) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *WebRTCConnection) Close() {
	c.mu.Lock()
	c.onClosed = nil
	c.mu.Unlock()
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("peer", c.peer).Msg("close error")
		return
	}
	log.Info().Str("module", "webrtc").Str("peer", c.peer).Msg("closed")
}

func (c *WebRTCConnection) fireClosed() {
	c.mu.Lock()
	fn := c.onClosed
	if c.closed {
		fn = nil
	}
	c.closed = true
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func wait(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
