// Package s2s defines the Provider interface for speech-to-speech (S2S)
// backends.
//
// An S2S provider wraps a real-time voice agent service that accepts raw
// microphone audio and answers with synthesised speech in a single, stateful
// session. Examples include the Gemini Live API and the OpenAI Realtime API.
//
// The central abstraction is SessionHandle: a bidirectional channel that
// accepts outbound audio frames and delivers inbound protocol events in
// arrival order on a single Go channel. Funnelling every inbound message
// through one channel lets the consumer process audio, transcripts, and
// interruptions strictly in the order the service sent them.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// EventKind discriminates the variants of [Event].
type EventKind int

const (
	// EventOpen reports that the session handshake completed and the remote
	// side is ready to receive audio.
	EventOpen EventKind = iota

	// EventMessage carries one server message in [Event.Message].
	EventMessage

	// EventError reports a runtime failure in [Event.Err]. It is usually
	// followed by EventClose.
	EventError

	// EventClose is always the last event of a session. The events channel is
	// closed right after it.
	EventClose
)

// String returns the upper-case name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "OPEN"
	case EventMessage:
		return "MESSAGE"
	case EventError:
		return "ERROR"
	case EventClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Message is the provider-neutral form of one inbound server message. Any
// subset of the fields may be set; zero values mean "absent".
type Message struct {
	// Interrupted reports that the user barged in and the remote side has
	// abandoned its current response. Audio that was already scheduled must be
	// silenced.
	Interrupted bool

	// Audio holds zero or more 24 kHz mono PCM16 chunks, in order.
	Audio [][]byte

	// InputTranscript is an incremental fragment of the user's recognised
	// speech. Empty means no fragment.
	InputTranscript string

	// OutputTranscript is an incremental fragment of the agent's spoken reply.
	// Empty means no fragment.
	OutputTranscript string

	// TurnComplete marks the end of the current conversational turn.
	TurnComplete bool
}

// Event is one item on a session's events channel.
type Event struct {
	Kind    EventKind
	Message *Message
	Err     error
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Instructions is the system-level prompt sent during the handshake.
	Instructions string

	// Voice selects a provider-specific prebuilt voice. Empty uses the
	// provider default.
	Voice string

	// InputFormat is the format of frames passed to SendAudio.
	InputFormat audio.Format

	// OutputFormat is the format the caller expects for [Message.Audio].
	OutputFormat audio.Format

	// InputTranscription and OutputTranscription request incremental
	// transcripts of the user's and the agent's speech respectively.
	InputTranscription  bool
	OutputTranscription bool
}

// SessionHandle represents an open S2S session. It is an interface so that
// test code can supply mock implementations without a live connection.
//
// All methods must be safe for concurrent use. Callers must call Close when the
// session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one audio frame to the remote side. Delivery is
	// best-effort: the frame is written once and never retried or buffered.
	// Returns an error if the session is closed or the write fails.
	SendAudio(frame audio.AudioFrame) error

	// Events returns the channel on which inbound events arrive in the order
	// the remote side produced them. Exactly one EventClose is delivered last,
	// after which the channel is closed. Consumers must drain the channel
	// promptly to avoid stalling the provider's receive loop.
	Events() <-chan Event

	// Err returns the error that terminated the session, or nil if it ended
	// cleanly or is still running.
	Err() error

	// Close terminates the session and releases all resources. The events
	// channel is closed shortly after. Calling Close more than once is safe
	// and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect dials the remote service and sends the handshake described by
	// cfg. It returns as soon as the transport is established; readiness is
	// signalled later by an EventOpen on the handle's events channel.
	//
	// Returns an error if the transport cannot be established (for example
	// authentication failure or ctx cancelled). The caller owns the handle and
	// must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Name returns the provider's registry name, e.g. "gemini".
	Name() string
}
