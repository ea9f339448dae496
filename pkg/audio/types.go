package audio

import (
	"fmt"
	"time"
)

// Encoding names the sample encoding carried in an [AudioFrame].
type Encoding string

const (
	// EncodingPCM16 is signed 16-bit little-endian linear PCM.
	EncodingPCM16 Encoding = "pcm16"
)

// AudioFrame is one block of encoded audio on its way to or from the remote
// agent. Frames are immutable once produced: producers allocate a fresh Data
// slice per frame and consumers must not modify it.
type AudioFrame struct {
	// Data holds the encoded samples, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (16000 for microphone capture, 24000 for synthesis).
	SampleRate int

	// Channels is the number of interleaved channels; capture is always mono.
	Channels int

	// Encoding describes the layout of Data.
	Encoding Encoding

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// MIMEType returns the media type announced to remote services for this frame,
// e.g. "audio/pcm;rate=16000".
func (f AudioFrame) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Samples returns the number of samples per channel contained in the frame.
func (f AudioFrame) Samples() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Data) / (2 * f.Channels)
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}
