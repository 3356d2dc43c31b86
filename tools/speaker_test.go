package tools

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	realtime "github.com/bt-bridge/shopguide-realtime"
	"github.com/bt-bridge/shopguide-realtime/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVoice stands in for the output device; tests pull from src the way
// the device would.
type fakeVoice struct {
	src    io.Reader
	plays  atomic.Int32
	paused atomic.Bool
	closes atomic.Int32
}

func (v *fakeVoice) Play()        { v.plays.Add(1) }
func (v *fakeVoice) Pause()       { v.paused.Store(true) }
func (v *fakeVoice) Close() error { v.closes.Add(1); return nil }

type readResult struct {
	data []byte
	err  error
}

// read pulls up to n bytes, failing the test if nothing arrives in time.
func (v *fakeVoice) read(t *testing.T, n int) readResult {
	t.Helper()
	got := make(chan readResult, 1)
	go func() {
		buf := make([]byte, n)
		k, err := v.src.Read(buf)
		got <- readResult{data: buf[:k], err: err}
	}()
	select {
	case r := <-got:
		return r
	case <-time.After(time.Second):
		t.Fatal("read blocked")
		return readResult{}
	}
}

type fakeOutput struct {
	mu     sync.Mutex
	voices []*fakeVoice
}

func (o *fakeOutput) newVoice(r io.Reader) voice {
	v := &fakeVoice{src: r}
	o.mu.Lock()
	o.voices = append(o.voices, v)
	o.mu.Unlock()
	return v
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.voices)
}

func (o *fakeOutput) voice(i int) *fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.voices) {
		return nil
	}
	return o.voices[i]
}

func newTestSpeaker() (*Speaker, *fakeOutput) {
	out := &fakeOutput{}
	return newSpeaker(shared.NewNopLogger(), out.newVoice), out
}

func TestSpeakerPlayCallsDoneWhenConsumed(t *testing.T) {
	s, out := newTestSpeaker()
	var done atomic.Bool

	s.Play(realtime.AudioChunk{Seq: 1, Samples: []float32{-1, 0}}, func() { done.Store(true) })
	v := out.voice(0)
	require.NotNil(t, v)
	assert.Equal(t, int32(1), v.plays.Load())

	r := v.read(t, 2)
	require.NoError(t, r.err)
	assert.Equal(t, []byte{0x00, 0x80}, r.data)
	assert.False(t, done.Load(), "half the chunk is still unread")

	r = v.read(t, 16)
	require.NoError(t, r.err)
	assert.Equal(t, []byte{0x00, 0x00}, r.data)
	assert.True(t, done.Load())
}

func TestSpeakerStreamsChunksWithoutGaps(t *testing.T) {
	s, out := newTestSpeaker()
	q := realtime.NewPlaybackQueue(s)

	q.Enqueue([]float32{0.5})
	q.Enqueue([]float32{-0.5})
	q.Enqueue([]float32{-1})
	assert.Equal(t, 2, q.Pending())
	require.Equal(t, 1, out.count())
	v := out.voice(0)

	// Each chunk is on the stream as soon as the previous one is consumed.
	for _, want := range [][]byte{{0x00, 0x40}, {0x00, 0xc0}, {0x00, 0x80}} {
		r := v.read(t, 64)
		require.NoError(t, r.err)
		assert.Equal(t, want, r.data)
	}
	assert.False(t, q.Playing())
	assert.Equal(t, 1, out.count(), "one output stream serves every chunk")
	assert.Equal(t, int32(1), v.plays.Load())
}

func TestSpeakerReadSpansChunks(t *testing.T) {
	s, out := newTestSpeaker()
	var dones atomic.Int32

	s.Play(realtime.AudioChunk{Seq: 1, Samples: []float32{0.5}}, func() { dones.Add(1) })
	s.Play(realtime.AudioChunk{Seq: 2, Samples: []float32{-0.5, -1}}, func() { dones.Add(1) })

	r := out.voice(0).read(t, 4)
	require.NoError(t, r.err)
	assert.Equal(t, []byte{0x00, 0x40, 0x00, 0xc0}, r.data)
	assert.Equal(t, int32(1), dones.Load())
}

func TestSpeakerStop(t *testing.T) {
	s, out := newTestSpeaker()
	var done atomic.Bool

	s.Play(realtime.AudioChunk{Seq: 1, Samples: []float32{0.5}}, func() { done.Store(true) })
	v := out.voice(0)
	s.Stop()
	s.Stop()

	assert.True(t, v.paused.Load())
	assert.Equal(t, int32(1), v.closes.Load())
	r := v.read(t, 16)
	assert.ErrorIs(t, r.err, io.EOF)
	assert.False(t, done.Load())

	s.Play(realtime.AudioChunk{Seq: 2, Samples: []float32{-1}}, func() {})
	require.Equal(t, 2, out.count())
	r = out.voice(1).read(t, 16)
	require.NoError(t, r.err)
	assert.Equal(t, []byte{0x00, 0x80}, r.data)
}

func TestSpeakerStopReleasesBlockedRead(t *testing.T) {
	s, out := newTestSpeaker()
	s.Play(realtime.AudioChunk{Seq: 1}, func() {})
	v := out.voice(0)
	r := v.read(t, 16)
	require.NoError(t, r.err)
	assert.Empty(t, r.data)

	blocked := make(chan error, 1)
	go func() {
		_, err := v.src.Read(make([]byte, 16))
		blocked <- err
	}()
	select {
	case err := <-blocked:
		t.Fatalf("read returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	s.Stop()
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("read still blocked after Stop")
	}
}
