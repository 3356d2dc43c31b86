package tools

import (
	"fmt"
	"io"
	"sync"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/ebitengine/oto/v3"
	"go.uber.org/zap"
)

var _ realtime.Player = (*Speaker)(nil)

// voice is the part of *oto.Player a Speaker drives.
type voice interface {
	Play()
	Pause()
	Close() error
}

// Speaker plays PCM16 chunks on the default output device. Consecutive chunks
// are fed to one output stream so there is no gap between them.
type Speaker struct {
	logger   shared.LoggerAdapter
	newVoice func(r io.Reader) voice

	mu     sync.Mutex
	voice  voice
	stream *pcmStream
}

// NewSpeaker opens the output device at 24 kHz mono. oto allows a single
// context per process, so one Speaker should be shared.
func NewSpeaker(logger shared.LoggerAdapter, bufferMs int) (*Speaker, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   realtime.SampleRate,
		ChannelCount: realtime.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(bufferMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("opening audio output: %w", err)
	}
	<-ready
	return newSpeaker(logger, func(r io.Reader) voice { return otoCtx.NewPlayer(r) }), nil
}

func newSpeaker(logger shared.LoggerAdapter, newVoice func(r io.Reader) voice) *Speaker {
	return &Speaker{logger: logger, newVoice: newVoice}
}

// Play appends chunk to the output stream. done runs once the device has
// taken the last of the chunk's bytes.
func (s *Speaker) Play(chunk realtime.AudioChunk, done func()) {
	data := realtime.EncodePCM16(chunk.Samples)

	s.mu.Lock()
	stream, v, fresh := s.stream, s.voice, false
	if stream == nil {
		stream = newPCMStream()
		v = s.newVoice(stream)
		s.stream, s.voice, fresh = stream, v, true
	}
	s.mu.Unlock()

	stream.push(data, done)
	if fresh {
		s.logger.Debug("audio output stream started", zap.Uint64("seq", chunk.Seq))
		v.Play()
	}
}

// Stop silences the output and drops what was not played. Pending done
// callbacks are not called.
func (s *Speaker) Stop() {
	s.mu.Lock()
	stream, v := s.stream, s.voice
	s.stream, s.voice = nil, nil
	s.mu.Unlock()

	if stream == nil {
		return
	}
	// The device may be blocked in Read; closing the stream releases it first.
	stream.close()
	v.Pause()
	if err := v.Close(); err != nil {
		s.logger.Warn("closing audio player", zap.Error(err))
	}
}

type segment struct {
	data []byte
	done func()
}

// pcmStream is the reader behind the output device. Read blocks until a chunk
// arrives and returns io.EOF once closed.
type pcmStream struct {
	mu       sync.Mutex
	cond     *sync.Cond
	segments []segment
	closed   bool
}

func newPCMStream() *pcmStream {
	ps := &pcmStream{}
	ps.cond = sync.NewCond(&ps.mu)
	return ps
}

func (ps *pcmStream) push(data []byte, done func()) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return
	}
	ps.segments = append(ps.segments, segment{data: data, done: done})
	ps.cond.Signal()
}

func (ps *pcmStream) Read(p []byte) (int, error) {
	ps.mu.Lock()
	for len(ps.segments) == 0 && !ps.closed {
		ps.cond.Wait()
	}
	if ps.closed {
		ps.mu.Unlock()
		return 0, io.EOF
	}

	var (
		n        int
		finished []func()
	)
	for n < len(p) && len(ps.segments) > 0 {
		seg := &ps.segments[0]
		c := copy(p[n:], seg.data)
		n += c
		seg.data = seg.data[c:]
		if len(seg.data) > 0 {
			break
		}
		if seg.done != nil {
			finished = append(finished, seg.done)
		}
		ps.segments[0] = segment{}
		ps.segments = ps.segments[1:]
	}
	ps.mu.Unlock()

	// The next chunk is pushed from done, so it is queued before the
	// device asks for more.
	for _, done := range finished {
		done()
	}
	return n, nil
}

func (ps *pcmStream) close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.closed = true
	ps.segments = nil
	ps.cond.Broadcast()
}
