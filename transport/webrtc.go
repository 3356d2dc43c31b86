package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/bt-bridge/shopguide-realtime/tools"
	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Largest opus packet is 120 ms.
const maxOpusFrameMs = 120

// WebRTCDialer negotiates a peer connection with the realtime endpoint by
// POSTing the SDP offer with the ephemeral key. Events travel on the "oai"
// data channel; microphone audio goes out as an opus track and the remote
// track is decoded back to PCM16 frames.
type WebRTCDialer struct {
	logger        shared.LoggerAdapter
	endpoint      *url.URL
	model         string
	frameDuration time.Duration
	http          *fasthttp.Client
}

func NewWebRTCDialer(logger shared.LoggerAdapter, endpoint, model string, frameDuration time.Duration) (*WebRTCDialer, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing realtime endpoint: %w", err)
	}
	if frameDuration <= 0 {
		frameDuration = shared.DefaultFrameDurationMs * time.Millisecond
	}
	return &WebRTCDialer{
		logger:        logger,
		endpoint:      u,
		model:         model,
		frameDuration: frameDuration,
		http:          shared.NewHTTPClient(shared.DefaultHTTPTimeout),
	}, nil
}

// SDPURL is the offer endpoint with the model query parameter.
func (d *WebRTCDialer) SDPURL() string {
	u := *d.endpoint
	q := u.Query()
	if d.model != "" {
		q.Set("model", d.model)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *WebRTCDialer) Dial(ctx context.Context, cred realtime.Credential) (realtime.Channel, error) {
	if cred.EphemeralKey == "" {
		return nil, fmt.Errorf("%w: webrtc transport requires an ephemeral key", shared.ErrCredential)
	}
	c, err := newRTCChannel(d.logger.With(zap.String("session_id", cred.SessionID)), d.frameDuration)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrHandshake, err)
	}
	if err := c.connect(ctx, d.http, d.SDPURL(), cred.EphemeralKey); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

type rtcChannel struct {
	logger       shared.LoggerAdapter
	pc           *webrtc.PeerConnection
	dc           *webrtc.DataChannel
	audioL       *webrtc.TrackLocalStaticSample
	frameLength  time.Duration
	frameSamples int

	// encMu guards the encoder and the partial capture frame.
	encMu   sync.Mutex
	encoder *opus.Encoder
	pending []int16
	packet  []byte

	mu    sync.Mutex
	state webrtc.PeerConnectionState

	opened    chan struct{}
	openOnce  sync.Once
	broken    chan struct{}
	inbound   chan realtime.Frame
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	errOnce   sync.Once
}

func newRTCChannel(logger shared.LoggerAdapter, frameLength time.Duration) (c *rtcChannel, err error) {
	c = &rtcChannel{
		logger:       logger,
		frameLength:  frameLength,
		frameSamples: tools.FrameSamples(frameLength, realtime.SampleRate, realtime.Channels),
		packet:       make([]byte, 4000),
		opened:       make(chan struct{}),
		broken:       make(chan struct{}),
		inbound:      make(chan realtime.Frame, 64),
		done:         make(chan struct{}),
	}
	c.encoder, err = opus.NewEncoder(realtime.SampleRate, realtime.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}

	c.pc, err = webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	c.pc.OnConnectionStateChange(c.onConnectionStateChange)
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			go c.readRemoteAudio(track)
		}
	})

	c.audioL, err = webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		"audio",
		"mic",
	)
	if err != nil {
		_ = c.pc.Close()
		return nil, fmt.Errorf("creating local audio track: %w", err)
	}
	if _, err = c.pc.AddTrack(c.audioL); err != nil {
		_ = c.pc.Close()
		return nil, fmt.Errorf("adding audio track to peer connection: %w", err)
	}

	c.dc, err = c.pc.CreateDataChannel("oai", nil)
	if err != nil {
		_ = c.pc.Close()
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	c.dc.OnOpen(func() {
		c.openOnce.Do(func() { close(c.opened) })
		c.logger.Debug("data channel opened")
	})
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			c.logger.Warn("received non-string message on data channel")
			return
		}
		c.emit(realtime.Frame{Data: append([]byte(nil), msg.Data...)})
	})
	c.dc.OnClose(func() {
		c.terminate(fmt.Errorf("%w: data channel closed", shared.ErrChannelClosed))
	})
	return c, nil
}

func (c *rtcChannel) onConnectionStateChange(state webrtc.PeerConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = state
	c.mu.Unlock()
	c.logger.Trace(
		"peer connection state changed",
		zap.String("prev", prev.String()),
		zap.String("new", state.String()),
	)
	switch state {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		c.terminate(fmt.Errorf("peer connection state is %s", state))
	}
}

func (c *rtcChannel) connect(ctx context.Context, client *fasthttp.Client, sdpURL, key string) error {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: creating offer: %w", shared.ErrHandshake, err)
	}
	gathered := webrtc.GatheringCompletePromise(c.pc)
	if err = c.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: setting local description: %w", shared.ErrHandshake, err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return fmt.Errorf("%w: gathering candidates: %w", shared.ErrHandshake, context.Cause(ctx))
	}

	answer, err := postOffer(ctx, client, sdpURL, key, c.pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return fmt.Errorf("%w: setting remote description: %w", shared.ErrHandshake, err)
	}

	select {
	case <-c.opened:
		return nil
	case <-c.broken:
		return fmt.Errorf("%w: peer connection failed before the data channel opened", shared.ErrHandshake)
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for data channel: %w", shared.ErrHandshake, context.Cause(ctx))
	}
}

// postOffer exchanges the SDP offer for the answer.
func postOffer(ctx context.Context, client *fasthttp.Client, sdpURL, key, offer string) (string, error) {
	req := &fasthttp.Request{}
	resp := &fasthttp.Response{}
	req.SetRequestURI(sdpURL)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.SetContentType("application/sdp")
	req.SetBodyString(offer)

	if err := shared.DoContext(ctx, client, req, resp); err != nil {
		return "", fmt.Errorf("%w: posting offer: %w", shared.ErrHandshake, err)
	}
	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated:
	case fasthttp.StatusUnauthorized:
		return "", fmt.Errorf("%w: %w: sdp exchange rejected", shared.ErrHandshake, shared.ErrUnauthorized)
	case fasthttp.StatusForbidden:
		return "", fmt.Errorf("%w: %w: sdp exchange rejected", shared.ErrHandshake, shared.ErrForbidden)
	default:
		return "", fmt.Errorf("%w: unexpected status code: %d, body: %s", shared.ErrHandshake, resp.StatusCode(), resp.Body())
	}
	answer := string(resp.Body())
	if answer == "" {
		return "", fmt.Errorf("%w: empty sdp answer", shared.ErrHandshake)
	}
	return answer, nil
}

func (c *rtcChannel) Inbound() <-chan realtime.Frame {
	return c.inbound
}

func (c *rtcChannel) Send(event *realtime.ClientEvent) error {
	if c.closed.Load() {
		return shared.ErrChannelClosed
	}
	data, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", event.Type, err)
	}
	if err := c.dc.SendText(string(data)); err != nil {
		if c.closed.Load() {
			return shared.ErrChannelClosed
		}
		return fmt.Errorf("sending %s: %w", event.Type, err)
	}
	return nil
}

// SendAudio buffers samples into whole frames, encodes each to opus and
// writes it to the local track.
func (c *rtcChannel) SendAudio(samples []float32) error {
	if c.closed.Load() {
		return shared.ErrChannelClosed
	}
	c.encMu.Lock()
	defer c.encMu.Unlock()
	c.pending = append(c.pending, realtime.Float32ToInt16(samples)...)
	for len(c.pending) >= c.frameSamples {
		frame := c.pending[:c.frameSamples]
		n, err := c.encoder.Encode(frame, c.packet)
		if err != nil {
			return fmt.Errorf("encoding opus: %w", err)
		}
		if err := c.audioL.WriteSample(media.Sample{
			Data:     append([]byte(nil), c.packet[:n]...),
			Duration: c.frameLength,
		}); err != nil {
			return fmt.Errorf("writing sample to track: %w", err)
		}
		c.pending = c.pending[c.frameSamples:]
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
	return nil
}

func (c *rtcChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if err := c.pc.Close(); err != nil {
			c.logger.Error("closing peer connection failed", err)
		}
	})
	return nil
}

func (c *rtcChannel) readRemoteAudio(track *webrtc.TrackRemote) {
	codec := track.Codec()
	c.logger.Info("receiving remote audio",
		zap.String("codec", codec.MimeType),
		zap.Int("clock_rate", int(codec.ClockRate)),
	)
	decoder, err := opus.NewDecoder(realtime.SampleRate, realtime.Channels)
	if err != nil {
		c.terminate(fmt.Errorf("creating opus decoder: %w", err))
		return
	}
	pcm := make([]int16, tools.FrameSamples(maxOpusFrameMs*time.Millisecond, realtime.SampleRate, realtime.Channels))
	for {
		packet, _, err := track.ReadRTP()
		if err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) {
				c.logger.Error("reading RTP packet", err)
			}
			return
		}
		if len(packet.Payload) == 0 {
			continue
		}
		n, err := decoder.Decode(packet.Payload, pcm)
		if err != nil {
			c.logger.Warn("decoding opus", zap.Error(err))
			continue
		}
		if !c.emit(realtime.Frame{Audio: int16ToBytes(pcm[:n*realtime.Channels])}) {
			return
		}
	}
}

// terminate reports the first transport failure to the consumer.
func (c *rtcChannel) terminate(err error) {
	if c.closed.Load() {
		return
	}
	c.errOnce.Do(func() {
		close(c.broken)
		c.emit(realtime.Frame{Err: err})
	})
}

func (c *rtcChannel) emit(frame realtime.Frame) bool {
	select {
	case c.inbound <- frame:
		return true
	case <-c.done:
		return false
	}
}

func int16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
