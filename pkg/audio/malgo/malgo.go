// Package malgo implements [audio.Backend] on top of miniaudio via
// github.com/gen2brain/malgo.
//
// Both devices run in 32-bit float mono. The capture side re-blocks the
// driver's periods into frames of the size requested by the caller; the
// playback side mixes scheduled buffers on a clock derived from the number of
// frames the driver has consumed.
package malgo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// Backend owns a miniaudio context and opens devices from it.
type Backend struct {
	ctx *malgo.AllocatedContext
	log *slog.Logger
}

// Option configures a [Backend].
type Option func(*Backend)

// WithLogger routes miniaudio's diagnostic messages to l at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.log = l }
}

// New initialises a miniaudio context using the platform's default backends.
func New(opts ...Option) (*Backend, error) {
	b := &Backend{log: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		b.log.Debug("malgo", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init context: %w", err)
	}
	b.ctx = ctx
	return b, nil
}

// Close releases the miniaudio context. Devices opened from it must be closed
// first.
func (b *Backend) Close() error {
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// OpenMicrophone initialises the default capture device. Failure to acquire
// the device is reported as [audio.ErrPermissionDenied]: miniaudio does not
// distinguish a refused permission from a missing device.
func (b *Backend) OpenMicrophone(_ context.Context, f audio.Format) (audio.Microphone, error) {
	m := &microphone{rate: f.SampleRate}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency

	dev, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrPermissionDenied, err)
	}
	m.device = dev
	return m, nil
}

// OpenSink initialises and starts the default playback device.
func (b *Backend) OpenSink(_ context.Context, f audio.Format) (audio.Sink, error) {
	s := &sink{tl: newTimeline(f.SampleRate)}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(f.SampleRate / 50) // 20ms
	cfg.Periods = 4

	dev, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		return nil, fmt.Errorf("malgo: init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("malgo: start playback device: %w", err)
	}
	s.device = dev
	return s, nil
}

var _ audio.Backend = (*Backend)(nil)

// ─── capture ──────────────────────────────────────────────────────────────────

type microphone struct {
	mu        sync.Mutex
	device    *malgo.Device
	rate      int
	frameSize int
	pending   []float32
	onSamples func([]float32)
}

func (m *microphone) Start(frameSize int, onSamples func([]float32)) error {
	if frameSize <= 0 {
		return fmt.Errorf("malgo: invalid frame size %d", frameSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.device == nil {
		return audio.ErrClosed
	}
	if m.device.IsStarted() {
		return nil
	}
	m.frameSize = frameSize
	m.pending = make([]float32, 0, frameSize)
	m.onSamples = onSamples
	if err := m.device.Start(); err != nil {
		m.onSamples = nil
		return fmt.Errorf("malgo: start capture device: %w", err)
	}
	return nil
}

func (m *microphone) SampleRate() int { return m.rate }

func (m *microphone) Stop() error {
	m.mu.Lock()
	dev := m.device
	m.onSamples = nil
	m.pending = nil
	m.mu.Unlock()

	if dev == nil || !dev.IsStarted() {
		return nil
	}
	// Device.Stop waits for the data callback to return, so it must be called
	// without holding mu.
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("malgo: stop capture device: %w", err)
	}
	return nil
}

func (m *microphone) Close() error {
	err := m.Stop()
	m.mu.Lock()
	dev := m.device
	m.device = nil
	m.mu.Unlock()
	if dev != nil {
		dev.Uninit()
	}
	return err
}

func (m *microphone) onData(_, input []byte, frameCount uint32) {
	n := min(int(frameCount), len(input)/4)
	if n == 0 {
		return
	}

	m.mu.Lock()
	cb := m.onSamples
	var ready [][]float32
	if cb != nil {
		for i := range n {
			m.pending = append(m.pending, math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:])))
			if len(m.pending) == m.frameSize {
				ready = append(ready, m.pending)
				m.pending = make([]float32, 0, m.frameSize)
			}
		}
	}
	m.mu.Unlock()

	for _, block := range ready {
		cb(block)
	}
}

// ─── playback ─────────────────────────────────────────────────────────────────

type sink struct {
	tl      *timeline
	mu      sync.Mutex
	device  *malgo.Device
	scratch []float32
}

func (s *sink) Now() float64 { return s.tl.now() }

func (s *sink) Schedule(buf audio.Buffer, at float64, onEnded func()) (audio.Voice, error) {
	if buf.Frames() == 0 {
		return nil, errors.New("malgo: empty buffer")
	}
	v, err := s.tl.schedule(buf, at, onEnded)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *sink) Close() error {
	s.tl.close()
	s.mu.Lock()
	dev := s.device
	s.device = nil
	s.mu.Unlock()
	if dev == nil {
		return nil
	}
	var err error
	if dev.IsStarted() {
		err = dev.Stop()
	}
	dev.Uninit()
	return err
}

// onData runs on the audio thread. Only the device callback touches scratch.
func (s *sink) onData(output, _ []byte, frameCount uint32) {
	n := min(int(frameCount), len(output)/4)
	if cap(s.scratch) < n {
		s.scratch = make([]float32, n)
	}
	buf := s.scratch[:n]
	ended := s.tl.render(buf)
	for i, v := range buf {
		binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(v))
	}
	if len(ended) > 0 {
		go func() {
			for _, fn := range ended {
				fn()
			}
		}()
	}
}
