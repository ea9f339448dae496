// Package audio defines the audio types and device abstractions used by the
// voice session pipeline.
//
// The two device abstractions mirror the two halves of a live conversation:
//
//   - [Microphone] delivers blocks of normalised float samples from the local
//     capture device.
//   - [Sink] plays decoded [Buffer] values at precise positions on its own
//     monotonically increasing clock.
//
// A [Backend] opens fresh instances of both for every session. Concrete
// backends live in sub-packages (audio/malgo for real hardware, audio/mock for
// tests). This package lives under pkg/ so that third-party backends can
// implement the interfaces.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Backend.OpenMicrophone] when access to
// the capture device is refused or no capture device is available.
var ErrPermissionDenied = errors.New("audio: microphone access denied")

// ErrClosed is returned when operating on a device that has been closed.
var ErrClosed = errors.New("audio: device closed")

// Microphone is an opened capture device.
//
// Implementations must be safe for concurrent use. Stop and Close must be
// safe to call more than once and on a device that was never started.
type Microphone interface {
	// Start begins delivering audio. onSamples is invoked from the device's
	// callback goroutine with exactly frameSize mono samples in [-1, 1]; the
	// slice is owned by the callee. Start on a running device is a no-op.
	Start(frameSize int, onSamples func(samples []float32)) error

	// SampleRate reports the rate at which samples are delivered.
	SampleRate() int

	// Stop halts sample delivery. No callback runs after Stop returns.
	Stop() error

	// Close releases the device. A closed microphone cannot be restarted.
	Close() error
}

// Voice is a single scheduled buffer on a [Sink].
type Voice interface {
	// Stop silences the voice immediately, whether it has started playing or
	// not. A stopped voice never invokes its onEnded callback. Idempotent.
	Stop()
}

// Sink is an opened output device with a sample-accurate clock.
//
// Implementations must be safe for concurrent use. Close must be idempotent.
type Sink interface {
	// Now returns the sink clock in seconds. It starts at zero when the sink
	// is opened and never decreases.
	Now() float64

	// Schedule plays buf starting at clock time at (seconds). If at lies in
	// the past, playback starts immediately. onEnded, when non-nil, is invoked
	// once after the last sample has been rendered; it is never invoked
	// synchronously from Schedule.
	Schedule(buf Buffer, at float64, onEnded func()) (Voice, error)

	// Close stops every voice and releases the device.
	Close() error
}

// Backend opens capture and playback devices. Every session opens its own
// pair and closes them on teardown.
type Backend interface {
	// OpenMicrophone acquires the capture device in the given format. It
	// returns an error wrapping [ErrPermissionDenied] when access is refused.
	OpenMicrophone(ctx context.Context, f Format) (Microphone, error)

	// OpenSink acquires the playback device in the given format.
	OpenSink(ctx context.Context, f Format) (Sink, error)
}
