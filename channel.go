package realtime

import (
	"context"
)

// Frame is one inbound item from a Channel, in arrival order. Exactly one of
// Data, Audio or Err is set.
type Frame struct {
	// Data is a JSON event envelope.
	Data []byte
	// Audio is PCM16 little endian at SampleRate, mono.
	Audio []byte
	// Err is terminal; no further frames follow it.
	Err error
}

// Channel is an open realtime transport. Send and SendAudio fail with
// shared.ErrChannelClosed once the channel is not open. Close is idempotent.
type Channel interface {
	Send(event *ClientEvent) error
	SendAudio(samples []float32) error
	Inbound() <-chan Frame
	Close() error
}

// Credential authorizes one attempt against the realtime endpoint.
type Credential struct {
	SessionID    string
	EphemeralKey string
}

func (c Credential) Empty() bool {
	return c.SessionID == "" && c.EphemeralKey == ""
}

type CredentialSource interface {
	CreateRealtimeSession(ctx context.Context) (Credential, error)
}

type CredentialSourceFunc func(ctx context.Context) (Credential, error)

func (f CredentialSourceFunc) CreateRealtimeSession(ctx context.Context) (Credential, error) {
	return f(ctx)
}

// Dialer performs the transport handshake for a credential.
type Dialer interface {
	Dial(ctx context.Context, cred Credential) (Channel, error)
}

// Microphone yields capture frames. ReadFrame blocks until a frame is ready
// and returns io.EOF after Close.
type Microphone interface {
	ReadFrame() ([]float32, error)
	Close() error
}

type MicrophoneSource interface {
	Open(ctx context.Context) (Microphone, error)
}

// Player is the playback sink behind a PlaybackQueue. Play starts chunk and
// calls done once it has finished. Stop aborts whatever is playing; done may
// or may not be called for the aborted chunk.
type Player interface {
	Play(chunk AudioChunk, done func())
	Stop()
}
