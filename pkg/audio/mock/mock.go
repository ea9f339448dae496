// Package mock provides in-memory implementations of the [audio.Backend],
// [audio.Microphone], and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so tests can
// assert on them, and expose exported fields that control return values. The
// [Sink] has a manual clock: tests move it with [Sink.SetNow] or [Sink.Advance]
// and finish voices explicitly.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	sink := &mock.Sink{}
//	backend := &mock.Backend{Mic: mic, Sink: sink}
//	// ... start a session, then:
//	mic.Emit(make([]float32, 4096))
//	sink.Advance(1.0) // finishes every voice that ends by t=1.0
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// ─── Backend ──────────────────────────────────────────────────────────────────

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// Mic is returned by OpenMicrophone. When nil a fresh Microphone is created.
	Mic *Microphone

	// Sink is returned by OpenSink. When nil a fresh Sink is created.
	Sink *Sink

	// MicErr, if non-nil, is returned by OpenMicrophone.
	MicErr error

	// SinkErr, if non-nil, is returned by OpenSink.
	SinkErr error

	// MicFormats and SinkFormats record the formats requested, in order.
	MicFormats  []audio.Format
	SinkFormats []audio.Format
}

// OpenMicrophone records the call and returns Mic or MicErr.
func (b *Backend) OpenMicrophone(_ context.Context, f audio.Format) (audio.Microphone, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.MicFormats = append(b.MicFormats, f)
	if b.MicErr != nil {
		return nil, b.MicErr
	}
	if b.Mic == nil {
		b.Mic = &Microphone{}
	}
	b.Mic.setRate(f.SampleRate)
	return b.Mic, nil
}

// OpenSink records the call and returns Sink or SinkErr.
func (b *Backend) OpenSink(_ context.Context, f audio.Format) (audio.Sink, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SinkFormats = append(b.SinkFormats, f)
	if b.SinkErr != nil {
		return nil, b.SinkErr
	}
	if b.Sink == nil {
		b.Sink = &Sink{}
	}
	return b.Sink, nil
}

var _ audio.Backend = (*Backend)(nil)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone]. Samples are
// injected with [Microphone.Emit].
type Microphone struct {
	mu sync.Mutex

	rate      int
	frameSize int
	onSamples func([]float32)
	started   bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	// CallCountStart, CallCountStop and CallCountClose record method calls.
	CallCountStart int
	CallCountStop  int
	CallCountClose int
}

func (m *Microphone) setRate(rate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = rate
}

// Start records the callback. Emit delivers samples to it until Stop.
func (m *Microphone) Start(frameSize int, onSamples func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStart++
	if m.StartErr != nil {
		return m.StartErr
	}
	m.frameSize = frameSize
	m.onSamples = onSamples
	m.started = true
	return nil
}

// SampleRate returns the rate the microphone was opened with.
func (m *Microphone) SampleRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// FrameSize returns the frame size passed to Start.
func (m *Microphone) FrameSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frameSize
}

// Started reports whether the microphone is currently delivering samples.
func (m *Microphone) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Stop records the call and detaches the callback.
func (m *Microphone) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountStop++
	m.started = false
	m.onSamples = nil
	return nil
}

// Close records the call and detaches the callback.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountClose++
	m.started = false
	m.onSamples = nil
	return nil
}

// Emit delivers samples to the registered callback on the calling goroutine.
// It reports false when the microphone is not started.
func (m *Microphone) Emit(samples []float32) bool {
	m.mu.Lock()
	cb := m.onSamples
	m.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(samples)
	return true
}

// Calls returns a snapshot of the Start/Stop/Close call counts.
func (m *Microphone) Calls() (start, stop, closeCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountStart, m.CallCountStop, m.CallCountClose
}

var _ audio.Microphone = (*Microphone)(nil)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Voice is a buffer scheduled on a mock [Sink].
type Voice struct {
	sink *Sink

	// Buffer is the scheduled audio.
	Buffer audio.Buffer

	// At is the requested start time; Start is the effective start time
	// (max of At and the clock when scheduled).
	At    float64
	Start float64

	onEnded func()
	stopped bool
	ended   bool
}

// End returns the clock time at which the voice finishes naturally.
func (v *Voice) End() float64 { return v.Start + v.Buffer.Duration() }

// Stop marks the voice as stopped. Its onEnded callback will never run.
func (v *Voice) Stop() {
	v.sink.mu.Lock()
	defer v.sink.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.sink.mu.Lock()
	defer v.sink.mu.Unlock()
	return v.stopped
}

// Ended reports whether the voice finished naturally.
func (v *Voice) Ended() bool {
	v.sink.mu.Lock()
	defer v.sink.mu.Unlock()
	return v.ended
}

// Sink is a mock implementation of [audio.Sink] driven by a manual clock.
type Sink struct {
	mu sync.Mutex

	now    float64
	voices []*Voice
	closed bool

	// ScheduleErr, if non-nil, is returned by Schedule.
	ScheduleErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Now returns the manual clock.
func (s *Sink) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow moves the clock to t without finishing any voice. Moving the clock
// backwards is ignored.
func (s *Sink) SetNow(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t > s.now {
		s.now = t
	}
}

// Schedule records the voice. It never invokes onEnded synchronously.
func (s *Sink) Schedule(buf audio.Buffer, at float64, onEnded func()) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleErr != nil {
		return nil, s.ScheduleErr
	}
	if s.closed {
		return nil, audio.ErrClosed
	}
	v := &Voice{sink: s, Buffer: buf, At: at, Start: max(at, s.now), onEnded: onEnded}
	s.voices = append(s.voices, v)
	return v, nil
}

// Voices returns every voice scheduled so far, in scheduling order.
func (s *Sink) Voices() []*Voice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Voice, len(s.voices))
	copy(out, s.voices)
	return out
}

// Advance moves the clock to t and finishes, in order, every voice that is
// neither stopped nor ended and whose end time is at or before t. Callbacks
// run on the calling goroutine after the clock has moved. It returns the
// number of voices finished.
func (s *Sink) Advance(t float64) int {
	s.mu.Lock()
	if t > s.now {
		s.now = t
	}
	var callbacks []func()
	for _, v := range s.voices {
		if v.stopped || v.ended || v.End() > t {
			continue
		}
		v.ended = true
		if v.onEnded != nil {
			callbacks = append(callbacks, v.onEnded)
		}
	}
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	return len(callbacks)
}

// Close records the call and marks the sink closed.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	s.closed = true
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ audio.Sink = (*Sink)(nil)
