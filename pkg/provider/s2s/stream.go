package s2s

import (
	"context"
	"sync"
)

// EventBufferSize is the capacity of the events channel created by
// [NewEventStream].
const EventBufferSize = 64

// EventStream is the producer side of a session's events channel. Provider
// implementations embed one per session; it enforces the channel contract
// (at most one EventOpen, exactly one terminal EventClose, channel closed
// afterwards) so individual providers do not have to.
type EventStream struct {
	ch chan Event

	mu       sync.Mutex
	opened   bool
	finished bool
	err      error
}

// NewEventStream returns an EventStream with a buffered channel of
// [EventBufferSize] events.
func NewEventStream() *EventStream {
	return &EventStream{ch: make(chan Event, EventBufferSize)}
}

// Events returns the consumer side of the stream.
func (s *EventStream) Events() <-chan Event { return s.ch }

// Err returns the error recorded by Fail or Finish, if any.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Open emits EventOpen the first time it is called. Later calls are no-ops
// and report false.
func (s *EventStream) Open(ctx context.Context) bool {
	s.mu.Lock()
	if s.opened || s.finished {
		s.mu.Unlock()
		return false
	}
	s.opened = true
	s.mu.Unlock()
	return s.Emit(ctx, Event{Kind: EventOpen})
}

// Message emits an EventMessage carrying m.
func (s *EventStream) Message(ctx context.Context, m *Message) bool {
	return s.Emit(ctx, Event{Kind: EventMessage, Message: m})
}

// Fail records err as the session error (first one wins) and emits an
// EventError. The stream stays open.
func (s *EventStream) Fail(ctx context.Context, err error) bool {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	return s.Emit(ctx, Event{Kind: EventError, Err: err})
}

// Emit sends ev, blocking until the consumer accepts it or ctx is done. It
// reports whether the event was delivered. Emit must only be called from the
// session's receive goroutine.
func (s *EventStream) Emit(ctx context.Context, ev Event) bool {
	s.mu.Lock()
	done := s.finished
	s.mu.Unlock()
	if done {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish terminates the stream. A non-nil err is recorded and emitted as an
// EventError first; then EventClose is emitted and the channel is closed.
// The terminal events are sent without blocking, so a consumer that stopped
// reading only observes the closed channel. Finish is idempotent.
func (s *EventStream) Finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	if err != nil && s.err == nil {
		s.err = err
	}
	s.mu.Unlock()

	if err != nil {
		select {
		case s.ch <- Event{Kind: EventError, Err: err}:
		default:
		}
	}
	select {
	case s.ch <- Event{Kind: EventClose}:
	default:
	}
	close(s.ch)
}
