// Package playback schedules the remote agent's speech on an audio sink
// without gaps or overlap.
//
// Every inbound chunk becomes a [Source] placed on the sink's clock directly
// after the previous one. An interruption stops every source at once and
// rewinds the cursor so the next chunk plays immediately.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// Inbound audio format: 24 kHz mono PCM16.
const (
	SampleRate = 24000
	Channels   = 1
)

// ErrEmptyChunk is returned by [Scheduler.Enqueue] for chunks without samples.
var ErrEmptyChunk = errors.New("playback: empty chunk")

// Source is one scheduled chunk.
type Source struct {
	ID    uint64
	Start float64 // sink clock, seconds
	End   float64

	voice audio.Voice
}

// Duration returns End - Start.
func (s Source) Duration() float64 { return s.End - s.Start }

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithOnActive registers fn to run after a chunk has been scheduled. It runs
// on the Enqueue caller's goroutine.
func WithOnActive(fn func(Source)) Option {
	return func(s *Scheduler) { s.onActive = fn }
}

// WithOnDrained registers fn to run when the last active source finishes
// naturally. It runs on the sink's completion goroutine and never after an
// interruption emptied the set.
func WithOnDrained(fn func()) Option {
	return func(s *Scheduler) { s.onDrained = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// Scheduler owns the set of active sources and the timeline cursor for one
// sink. It is safe for concurrent use.
type Scheduler struct {
	sink      audio.Sink
	onActive  func(Source)
	onDrained func()
	log       *slog.Logger

	mu        sync.Mutex
	nextStart float64
	active    map[uint64]Source
	seq       uint64
}

// New returns a Scheduler that plays on sink.
func New(sink audio.Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		sink:   sink,
		log:    slog.Default(),
		active: make(map[uint64]Source),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue decodes a 24 kHz mono PCM16 chunk and schedules it at
// max(sink clock, cursor). The cursor then advances by the chunk's duration.
func (s *Scheduler) Enqueue(chunk []byte) (Source, error) {
	if len(chunk) == 0 {
		return Source{}, ErrEmptyChunk
	}
	buf, err := audio.DecodePCM16(chunk, SampleRate, Channels)
	if err != nil {
		return Source{}, fmt.Errorf("playback: %w", err)
	}

	s.mu.Lock()
	s.seq++
	id := s.seq
	start := max(s.sink.Now(), s.nextStart)
	voice, err := s.sink.Schedule(buf, start, func() { s.ended(id) })
	if err != nil {
		s.mu.Unlock()
		return Source{}, fmt.Errorf("playback: schedule: %w", err)
	}
	src := Source{ID: id, Start: start, End: start + buf.Duration(), voice: voice}
	s.nextStart = src.End
	s.active[id] = src
	s.mu.Unlock()

	s.log.Debug("playback: chunk scheduled", "id", id, "start", start, "duration", buf.Duration())
	if s.onActive != nil {
		s.onActive(src)
	}
	return src, nil
}

// ended removes a naturally finished source.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	drained := len(s.active) == 0
	s.mu.Unlock()

	if drained && s.onDrained != nil {
		s.onDrained()
	}
}

// Interrupt stops every active source, empties the set and rewinds the cursor
// to 0. It returns the number of sources stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	stopped := make([]Source, 0, len(s.active))
	for _, src := range s.active {
		stopped = append(stopped, src)
	}
	clear(s.active)
	s.nextStart = 0
	s.mu.Unlock()

	for _, src := range stopped {
		src.voice.Stop()
	}
	if len(stopped) > 0 {
		s.log.Debug("playback: interrupted", "stopped", len(stopped))
	}
	return len(stopped)
}

// Reset is Interrupt for teardown; the count is discarded.
func (s *Scheduler) Reset() { s.Interrupt() }

// NextStart returns the timeline cursor.
func (s *Scheduler) NextStart() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

// Active returns the number of sources scheduled and not yet finished.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
