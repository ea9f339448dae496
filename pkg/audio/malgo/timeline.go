package malgo

import (
	"container/heap"
	"math"
	"sync"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// voice is one buffer placed on a timeline.
type voice struct {
	tl      *timeline
	samples []float32
	start   int64 // absolute start frame
	pos     int   // next sample to render
	seq     uint64
	onEnded func()
	stopped bool
}

// Stop removes the voice from the timeline. onEnded never fires afterwards.
func (v *voice) Stop() {
	v.tl.mu.Lock()
	defer v.tl.mu.Unlock()
	v.stopped = true
}

// timeline mixes scheduled mono voices into a frame-counted output stream.
// The clock is the number of frames rendered so far, so it advances only as
// fast as the device consumes audio.
type timeline struct {
	mu sync.Mutex

	rate     int
	rendered int64
	pending  voiceHeap
	active   []*voice
	seq      uint64
	closed   bool
}

func newTimeline(rate int) *timeline {
	return &timeline{rate: rate}
}

// now returns the clock in seconds.
func (t *timeline) now() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.rendered) / float64(t.rate)
}

// schedule places buf at clock time at. Buffers at a different rate than the
// timeline are resampled linearly.
func (t *timeline) schedule(buf audio.Buffer, at float64, onEnded func()) (*voice, error) {
	samples := resampleFloat(buf.Mono(), buf.SampleRate, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, audio.ErrClosed
	}
	start := int64(math.Round(at * float64(t.rate)))
	if start < t.rendered {
		start = t.rendered
	}
	t.seq++
	v := &voice{tl: t, samples: samples, start: start, seq: t.seq, onEnded: onEnded}
	heap.Push(&t.pending, v)
	return v, nil
}

// render mixes the next len(out) frames into out and advances the clock. It
// returns the onEnded callbacks of voices that finished inside the window;
// the caller runs them off the audio thread.
func (t *timeline) render(out []float32) []func() {
	clear(out)

	t.mu.Lock()
	defer t.mu.Unlock()

	from := t.rendered
	to := from + int64(len(out))
	t.rendered = to
	if t.closed {
		return nil
	}

	for t.pending.Len() > 0 && t.pending[0].start < to {
		t.active = append(t.active, heap.Pop(&t.pending).(*voice))
	}

	var ended []func()
	kept := t.active[:0]
	for _, v := range t.active {
		if v.stopped {
			continue
		}
		offset := int(max(v.start-from, 0))
		for i := offset; i < len(out) && v.pos < len(v.samples); i++ {
			out[i] += v.samples[v.pos]
			v.pos++
		}
		if v.pos >= len(v.samples) {
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.active[len(kept):])
	t.active = kept

	for i, s := range out {
		out[i] = max(-1, min(1, s))
	}
	return ended
}

// close drops every voice without firing callbacks.
func (t *timeline) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
	t.active = nil
}

func resampleFloat(in []float32, src, dst int) []float32 {
	if src <= 0 || dst <= 0 || src == dst || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(dst) / int64(src))
	out := make([]float32, n)
	ratio := float64(src) / float64(dst)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
