// Package mock provides test doubles for the realtime capability interfaces.
package mock

import (
	"context"
	"io"
	"sync"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
)

// Interface compliance checks.
var (
	_ realtime.Channel          = (*Channel)(nil)
	_ realtime.Dialer           = (*Dialer)(nil)
	_ realtime.CredentialSource = (*CredentialSource)(nil)
	_ realtime.MicrophoneSource = (*MicrophoneSource)(nil)
	_ realtime.Microphone       = (*Microphone)(nil)
	_ realtime.Player           = (*Player)(nil)
)

// Dialer is a test double for realtime.Dialer.
// Set DialFn before calling Dial.
type Dialer struct {
	DialFn func(ctx context.Context, cred realtime.Credential) (realtime.Channel, error)
}

// Dial delegates to DialFn.
func (d *Dialer) Dial(ctx context.Context, cred realtime.Credential) (realtime.Channel, error) {
	return d.DialFn(ctx, cred)
}

// CredentialSource is a test double for realtime.CredentialSource.
type CredentialSource struct {
	CreateRealtimeSessionFn func(ctx context.Context) (realtime.Credential, error)
}

func (s *CredentialSource) CreateRealtimeSession(ctx context.Context) (realtime.Credential, error) {
	return s.CreateRealtimeSessionFn(ctx)
}

// MicrophoneSource is a test double for realtime.MicrophoneSource.
type MicrophoneSource struct {
	OpenFn func(ctx context.Context) (realtime.Microphone, error)
}

func (s *MicrophoneSource) Open(ctx context.Context) (realtime.Microphone, error) {
	return s.OpenFn(ctx)
}

// Player is a test double for realtime.Player.
// Set PlayFn and StopFn for the methods you need.
type Player struct {
	PlayFn func(chunk realtime.AudioChunk, done func())
	StopFn func()
}

// Play delegates to PlayFn.
func (p *Player) Play(chunk realtime.AudioChunk, done func()) {
	p.PlayFn(chunk, done)
}

// Stop delegates to StopFn.
func (p *Player) Stop() {
	p.StopFn()
}

// Channel is an in-memory realtime.Channel. Inbound frames are injected with
// Push; everything sent is recorded in order.
type Channel struct {
	// SendFn, when set, can fail a Send after it is recorded.
	SendFn func(event *realtime.ClientEvent) error

	in chan realtime.Frame

	mu     sync.Mutex
	sent   []*realtime.ClientEvent
	closed bool
}

func NewChannel() *Channel {
	return &Channel{in: make(chan realtime.Frame, 64)}
}

func (c *Channel) Send(event *realtime.ClientEvent) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return shared.ErrChannelClosed
	}
	c.sent = append(c.sent, event)
	c.mu.Unlock()
	if c.SendFn != nil {
		return c.SendFn(event)
	}
	return nil
}

// SendAudio records samples as the input_audio_buffer.append event the
// WebSocket binding would send.
func (c *Channel) SendAudio(samples []float32) error {
	return c.Send(realtime.NewInputAudioBufferAppendEvent(samples))
}

func (c *Channel) Inbound() <-chan realtime.Frame {
	return c.in
}

// Push delivers a frame to the consumer of Inbound.
func (c *Channel) Push(frame realtime.Frame) {
	c.in <- frame
}

// PushEvent delivers a raw JSON event.
func (c *Channel) PushEvent(data string) {
	c.Push(realtime.Frame{Data: []byte(data)})
}

func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Sent returns a copy of the events sent so far.
func (c *Channel) Sent() []*realtime.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*realtime.ClientEvent(nil), c.sent...)
}

// SentTypes returns the types of the events sent so far, in order.
func (c *Channel) SentTypes() []realtime.ClientEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]realtime.ClientEventType, len(c.sent))
	for i, e := range c.sent {
		types[i] = e.Type
	}
	return types
}

// Microphone is an in-memory realtime.Microphone fed with Feed.
type Microphone struct {
	frames chan []float32
	done   chan struct{}
	once   sync.Once
}

func NewMicrophone() *Microphone {
	return &Microphone{
		frames: make(chan []float32),
		done:   make(chan struct{}),
	}
}

// Feed blocks until the frame is read or the microphone is closed. It
// reports whether the frame was read.
func (m *Microphone) Feed(samples []float32) bool {
	select {
	case m.frames <- samples:
		return true
	case <-m.done:
		return false
	}
}

func (m *Microphone) ReadFrame() ([]float32, error) {
	select {
	case <-m.done:
		return nil, io.EOF
	case f := <-m.frames:
		return f, nil
	}
}

func (m *Microphone) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *Microphone) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
