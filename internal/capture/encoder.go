// Package capture turns live microphone samples into PCM16 frames and hands
// them to the remote agent.
//
// Delivery is best effort: a frame whose send fails is counted as dropped and
// discarded. There is no retry and no buffering, so a stalled channel never
// builds up latency on the capture path.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/pkg/audio"
)

// DefaultFrameSize is the number of samples per outbound frame.
const DefaultFrameSize = 4096

// ErrStopped is returned by [Encoder.Start] once the encoder has been stopped.
// Encoders are single-use; build a new one per session.
var ErrStopped = errors.New("capture: encoder stopped")

// Sender accepts encoded frames. Remote session handles satisfy it.
type Sender interface {
	SendAudio(frame audio.AudioFrame) error
}

// Encode quantizes samples to a mono PCM16 frame at rate Hz.
func Encode(samples []float32, rate int, ts time.Duration) audio.AudioFrame {
	return audio.AudioFrame{
		Data:       audio.QuantizePCM16(samples),
		SampleRate: rate,
		Channels:   1,
		Encoding:   audio.EncodingPCM16,
		Timestamp:  ts,
	}
}

// Option configures an [Encoder].
type Option func(*Encoder)

// WithFrameSize sets the samples per frame. Non-positive values are ignored.
func WithFrameSize(n int) Option {
	return func(e *Encoder) {
		if n > 0 {
			e.frameSize = n
		}
	}
}

// WithMetrics records sent and dropped frames on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Encoder) { e.metrics = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Encoder) { e.log = l }
}

// Encoder forwards microphone blocks to a [Sender].
type Encoder struct {
	mic       audio.Microphone
	sender    Sender
	frameSize int
	metrics   *observe.Metrics
	log       *slog.Logger

	mu        sync.Mutex
	started   bool
	stopped   atomic.Bool
	ctx       context.Context
	stopAfter func() bool

	samples atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64
}

// New returns an Encoder reading from mic and writing to sender.
func New(mic audio.Microphone, sender Sender, opts ...Option) *Encoder {
	e := &Encoder{
		mic:       mic,
		sender:    sender,
		frameSize: DefaultFrameSize,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start begins capturing. The encoder stops by itself when ctx is cancelled.
// Calling Start on a running encoder is a no-op.
func (e *Encoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped.Load() {
		return ErrStopped
	}
	if e.started {
		return nil
	}
	e.ctx = ctx
	if err := e.mic.Start(e.frameSize, e.handle); err != nil {
		return err
	}
	e.started = true
	e.stopAfter = context.AfterFunc(ctx, func() { _ = e.Stop() })
	e.log.Debug("capture: started", "frame_size", e.frameSize, "sample_rate", e.mic.SampleRate())
	return nil
}

// Stop halts the microphone. No frame is sent after Stop returns. It is safe
// to call more than once and before Start.
func (e *Encoder) Stop() error {
	if e.stopped.Swap(true) {
		return nil
	}
	e.mu.Lock()
	started := e.started
	stopAfter := e.stopAfter
	e.mu.Unlock()

	if stopAfter != nil {
		stopAfter()
	}
	if !started {
		return nil
	}
	err := e.mic.Stop()
	e.log.Debug("capture: stopped", "sent", e.sent.Load(), "dropped", e.dropped.Load())
	return err
}

// Sent returns the number of frames accepted by the sender.
func (e *Encoder) Sent() int64 { return e.sent.Load() }

// Dropped returns the number of frames the sender rejected.
func (e *Encoder) Dropped() int64 { return e.dropped.Load() }

// handle runs on the microphone callback goroutine.
func (e *Encoder) handle(samples []float32) {
	if e.stopped.Load() || len(samples) == 0 {
		return
	}
	rate := e.mic.SampleRate()
	offset := e.samples.Add(int64(len(samples))) - int64(len(samples))
	var ts time.Duration
	if rate > 0 {
		ts = time.Duration(offset) * time.Second / time.Duration(rate)
	}

	frame := Encode(samples, rate, ts)
	if err := e.sender.SendAudio(frame); err != nil {
		e.dropped.Add(1)
		if e.metrics != nil {
			e.metrics.FramesDropped.Add(e.context(), 1)
		}
		e.log.Debug("capture: frame dropped", "err", err, "timestamp", ts)
		return
	}
	e.sent.Add(1)
	if e.metrics != nil {
		e.metrics.FramesSent.Add(e.context(), 1)
	}
}

func (e *Encoder) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(e.ctx)
}
