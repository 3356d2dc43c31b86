package realtime

import (
	"encoding/binary"
	"math"

	"github.com/cloudwego/base64x"
)

// Wire audio is 24 kHz mono PCM16 on both ends.
const (
	SampleRate = 24000
	Channels   = 1
)

// EncodePCM16 converts float samples in [-1, 1] to little-endian signed 16-bit
// PCM. Out of range samples are clamped. Negative values scale by 32768 and
// round to nearest; positive values scale by 32767 and round up.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to float samples,
// dividing by 32768. A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// Int16ToFloat32 converts decoded codec output to float samples.
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

// Float32ToInt16 is the sample-slice form of EncodePCM16.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = floatToInt16(s)
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	// Rounding up keeps the decoded value, q/32768, within one step of v.
	return int16(math.Ceil(v * 32767))
}

func ToBase64(b []byte) string {
	return base64x.StdEncoding.EncodeToString(b)
}

func FromBase64(s string) ([]byte, error) {
	return base64x.StdEncoding.DecodeString(s)
}
