package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// QuantizePCM16 converts normalised float samples to little-endian signed
// 16-bit PCM. Each sample is clamped to [-1, 1] and scaled by 32767; the
// fractional part is truncated toward zero. NaN samples encode as silence.
func QuantizePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case s != s: // NaN
			v = 0
		case s >= 1:
			v = math.MaxInt16
		case s <= -1:
			v = -math.MaxInt16
		default:
			v = int16(s * math.MaxInt16)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Buffer is decoded, de-interleaved float audio ready for scheduling on a
// [Sink]. Every channel slice has the same length.
type Buffer struct {
	SampleRate int
	Data       [][]float32
}

// Channels returns the channel count of b.
func (b Buffer) Channels() int { return len(b.Data) }

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the buffer length in seconds.
func (b Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Mono returns the buffer down-mixed to a single channel. A mono buffer is
// returned without copying.
func (b Buffer) Mono() []float32 {
	switch len(b.Data) {
	case 0:
		return nil
	case 1:
		return b.Data[0]
	}
	out := make([]float32, b.Frames())
	for _, ch := range b.Data {
		for i, s := range ch {
			out[i] += s
		}
	}
	n := float32(len(b.Data))
	for i := range out {
		out[i] /= n
	}
	return out
}

// DecodePCM16 decodes little-endian interleaved signed 16-bit PCM into a
// [Buffer] with the given sample rate and channel count. Samples are divided
// by 32768 so the result lies in [-1, 1).
func DecodePCM16(data []byte, sampleRate, channels int) (Buffer, error) {
	if channels <= 0 {
		return Buffer{}, fmt.Errorf("audio: decode pcm16: invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("audio: decode pcm16: invalid sample rate %d", sampleRate)
	}
	if len(data)%(2*channels) != 0 {
		return Buffer{}, fmt.Errorf("audio: decode pcm16: %d bytes is not a whole number of %d-channel frames", len(data), channels)
	}

	frames := len(data) / (2 * channels)
	buf := Buffer{SampleRate: sampleRate, Data: make([][]float32, channels)}
	for ch := range channels {
		buf.Data[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Data[ch][i] = float32(v) / 32768.0
		}
	}
	return buf, nil
}
