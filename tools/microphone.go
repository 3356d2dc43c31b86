package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/pion/mediadevices"
	audioio "github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"go.uber.org/zap"

	// Registers the default capture driver.
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

var (
	_ realtime.MicrophoneSource = (*MicrophoneSource)(nil)
	_ realtime.Microphone       = (*Microphone)(nil)
)

// MicrophoneSource opens the default capture device as 24 kHz mono PCM16.
type MicrophoneSource struct {
	logger shared.LoggerAdapter
}

func NewMicrophoneSource(logger shared.LoggerAdapter) (*MicrophoneSource, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	return &MicrophoneSource{logger: logger}, nil
}

func (s *MicrophoneSource) Open(ctx context.Context) (realtime.Microphone, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(realtime.SampleRate)
			c.ChannelCount = prop.Int(realtime.Channels)
			c.SampleSize = prop.Int(16)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting microphone stream: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no audio track found in microphone stream")
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		_ = tracks[0].Close()
		return nil, fmt.Errorf("unexpected microphone track type %T", tracks[0])
	}
	s.logger.Info("microphone opened", zap.String("track", track.ID()))
	return newMicrophone(track.NewReader(false), track), nil
}

// Microphone reads raw capture chunks and hands them out as float samples.
type Microphone struct {
	reader audioio.Reader
	track  io.Closer

	mu     sync.Mutex
	closed bool
}

func newMicrophone(reader audioio.Reader, track io.Closer) *Microphone {
	return &Microphone{reader: reader, track: track}
}

func (m *Microphone) ReadFrame() ([]float32, error) {
	for {
		if m.isClosed() {
			return nil, io.EOF
		}
		chunk, release, err := m.reader.Read()
		if err != nil {
			if release != nil {
				release()
			}
			if m.isClosed() || errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("reading microphone: %w", err)
		}
		samples, err := ToMono(chunk)
		if release != nil {
			release()
		}
		if err != nil {
			return nil, err
		}
		if len(samples) == 0 {
			continue
		}
		return samples, nil
	}
}

func (m *Microphone) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.track.Close()
}

// ToMono converts a capture chunk to float samples, keeping the first
// channel of interleaved input.
func ToMono(chunk wave.Audio) ([]float32, error) {
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		channels := max(c.Size.Channels, 1)
		out := make([]float32, 0, len(c.Data)/channels)
		for i := 0; i < len(c.Data); i += channels {
			out = append(out, float32(c.Data[i])/32768)
		}
		return out, nil
	case *wave.Float32Interleaved:
		channels := max(c.Size.Channels, 1)
		out := make([]float32, 0, len(c.Data)/channels)
		for i := 0; i < len(c.Data); i += channels {
			out = append(out, c.Data[i])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported microphone chunk type %T", chunk)
	}
}
