// Package tools holds the local audio devices behind a voice session: the
// microphone capture source and the speaker sink, plus frame size helpers.
package tools

import "time"

// FrameSamples is the number of interleaved samples in one frame of duration.
func FrameSamples(duration time.Duration, rate, channels int) int {
	return int(duration.Seconds() * float64(channels) * float64(rate))
}
