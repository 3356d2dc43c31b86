// Package transport holds the two realtime channel bindings: a WebSocket
// carrying audio inside JSON events, and a WebRTC peer connection carrying
// events on a data channel and audio on media tracks.
package transport

import (
	"fmt"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
)

var (
	_ realtime.Dialer  = (*WebSocketDialer)(nil)
	_ realtime.Dialer  = (*WebRTCDialer)(nil)
	_ realtime.Channel = (*wsChannel)(nil)
	_ realtime.Channel = (*rtcChannel)(nil)
)

// NewDialer selects the binding named by cfg.Transport. The choice is fixed
// for every session created with the returned dialer.
func NewDialer(logger shared.LoggerAdapter, cfg *shared.Config) (realtime.Dialer, error) {
	if cfg == nil {
		return nil, shared.ErrNoConfig
	}
	switch cfg.Transport {
	case shared.TransportWebSocket:
		return NewWebSocketDialer(logger, cfg.Realtime.WebSocketURL)
	case shared.TransportWebRTC:
		return NewWebRTCDialer(logger, cfg.Realtime.Endpoint, cfg.Realtime.Model, cfg.Audio.FrameDuration())
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
