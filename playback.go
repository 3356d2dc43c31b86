package realtime

import "sync"

// AudioChunk is a decoded buffer tagged with its arrival order.
type AudioChunk struct {
	Seq     uint64
	Samples []float32
}

// PlaybackQueue plays chunks strictly one at a time in arrival order. The next
// chunk starts only from the previous chunk's done callback.
type PlaybackQueue struct {
	player Player

	mu      sync.Mutex
	pending []AudioChunk
	playing bool
	seq     uint64
	// generation invalidates done callbacks issued before a Clear.
	generation uint64
}

func NewPlaybackQueue(player Player) *PlaybackQueue {
	return &PlaybackQueue{player: player}
}

// Enqueue appends samples and returns the chunk's sequence number.
func (q *PlaybackQueue) Enqueue(samples []float32) uint64 {
	q.mu.Lock()
	seq, _ := q.enqueue(q.generation, samples)
	return seq
}

// EnqueueIn appends samples only while gen, as returned by Clear, is still
// current. Chunks arriving after a later Clear are dropped.
func (q *PlaybackQueue) EnqueueIn(gen uint64, samples []float32) (uint64, bool) {
	q.mu.Lock()
	return q.enqueue(gen, samples)
}

// enqueue is called with q.mu held and releases it.
func (q *PlaybackQueue) enqueue(gen uint64, samples []float32) (uint64, bool) {
	if gen != q.generation {
		q.mu.Unlock()
		return 0, false
	}
	q.seq++
	chunk := AudioChunk{Seq: q.seq, Samples: samples}
	if q.playing {
		q.pending = append(q.pending, chunk)
		q.mu.Unlock()
		return chunk.Seq, true
	}
	q.playing = true
	q.mu.Unlock()

	q.play(chunk, gen)
	return chunk.Seq, true
}

func (q *PlaybackQueue) play(chunk AudioChunk, gen uint64) {
	q.player.Play(chunk, func() { q.playNext(gen) })
}

func (q *PlaybackQueue) playNext(gen uint64) {
	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		return
	}
	if len(q.pending) == 0 {
		q.playing = false
		q.mu.Unlock()
		return
	}
	chunk := q.pending[0]
	q.pending[0] = AudioChunk{}
	q.pending = q.pending[1:]
	q.mu.Unlock()

	q.play(chunk, gen)
}

// Pending is the number of chunks waiting behind the one playing.
func (q *PlaybackQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *PlaybackQueue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// Clear drops queued chunks, stops the one playing and returns the new
// generation.
func (q *PlaybackQueue) Clear() uint64 {
	q.mu.Lock()
	return q.clear()
}

// ClearIn clears only while gen is still current, so a late teardown cannot
// wipe a newer generation. It reports whether it cleared.
func (q *PlaybackQueue) ClearIn(gen uint64) bool {
	q.mu.Lock()
	if gen != q.generation {
		q.mu.Unlock()
		return false
	}
	q.clear()
	return true
}

// clear is called with q.mu held and releases it.
func (q *PlaybackQueue) clear() uint64 {
	q.generation++
	gen := q.generation
	q.pending = nil
	wasPlaying := q.playing
	q.playing = false
	q.mu.Unlock()

	if wasPlaying {
		q.player.Stop()
	}
	return gen
}
