package session

import (
	"fmt"
	"time"

	"github.com/MrWong99/voxagent/internal/transcript"
)

// Status is the lifecycle status of the voice session.
type Status int

const (
	// StatusIdle means no session is running.
	StatusIdle Status = iota

	// StatusConnecting means devices are being acquired or the remote channel
	// has not reported open yet.
	StatusConnecting

	// StatusListening means the channel is open and no agent audio is playing.
	StatusListening

	// StatusThinking is reserved for remote agents that report processing.
	// The controller never enters it on its own.
	StatusThinking

	// StatusSpeaking means at least one agent audio source is scheduled.
	StatusSpeaking

	// StatusError means the last session ended because of a failure.
	StatusError
)

var statusNames = [...]string{
	StatusIdle:       "IDLE",
	StatusConnecting: "CONNECTING",
	StatusListening:  "LISTENING",
	StatusThinking:   "THINKING",
	StatusSpeaking:   "SPEAKING",
	StatusError:      "ERROR",
}

// String returns the upper-case status name.
func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status as its name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown status %q", text)
}

// State is a point-in-time view of the controller.
type State struct {
	SessionID  string             `json:"sessionId,omitempty"`
	Status     Status             `json:"status"`
	Transcript []transcript.Entry `json:"transcript"`
	Error      string             `json:"error,omitempty"`
	Active     bool               `json:"isActive"`
	Language   string             `json:"language"`
	StartedAt  time.Time          `json:"startedAt,omitzero"`
}
