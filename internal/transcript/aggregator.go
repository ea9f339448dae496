// Package transcript merges streaming partial transcripts into an ordered
// list of conversation turns.
//
// The remote agent reports what it heard (the user's speech) and what it is
// saying (its own speech) as small text fragments. [Aggregator] accumulates
// those fragments per speaker into non-final entries, and finalizes them when
// the remote side signals the end of a turn.
package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Speaker identifies who produced a transcript entry.
type Speaker int

const (
	// SpeakerUser is the local user, transcribed from microphone audio.
	SpeakerUser Speaker = iota

	// SpeakerAgent is the remote agent, transcribed from its synthesised speech.
	SpeakerAgent
)

// numSpeakers sizes the per-speaker arrays in [Aggregator].
const numSpeakers = 2

// String returns "USER" or "AGENT".
func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "USER"
	case SpeakerAgent:
		return "AGENT"
	default:
		return fmt.Sprintf("Speaker(%d)", int(s))
	}
}

// MarshalJSON encodes the speaker as its string name.
func (s Speaker) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes "USER" or "AGENT".
func (s *Speaker) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "USER":
		*s = SpeakerUser
	case "AGENT":
		*s = SpeakerAgent
	default:
		return fmt.Errorf("transcript: unknown speaker %q", name)
	}
	return nil
}

func (s Speaker) valid() bool { return s >= 0 && s < numSpeakers }

// Entry is one line of the conversation transcript.
type Entry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	IsFinal bool    `json:"isFinal"`
}

// Aggregator accumulates transcript deltas. All methods are safe for
// concurrent use.
//
// Each speaker has a pending buffer holding the full text of its current turn
// and an index to its open (non-final) entry. A delta extends the open entry
// in place only while that entry is still the last one in the transcript;
// otherwise a new entry carrying the full pending text is appended.
type Aggregator struct {
	mu      sync.Mutex
	entries []Entry
	pending [numSpeakers]strings.Builder
	open    [numSpeakers]int // index into entries, -1 when none
	finals  int
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	a := &Aggregator{}
	a.open = [numSpeakers]int{-1, -1}
	return a
}

// AppendDelta adds delta to speaker's current turn. Empty deltas and unknown
// speakers are ignored.
func (a *Aggregator) AppendDelta(speaker Speaker, delta string) {
	if delta == "" || !speaker.valid() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending[speaker].WriteString(delta)
	text := a.pending[speaker].String()

	if idx := a.open[speaker]; idx >= 0 && idx == len(a.entries)-1 {
		a.entries[idx].Text = text
		return
	}
	a.entries = append(a.entries, Entry{Speaker: speaker, Text: text})
	a.open[speaker] = len(a.entries) - 1
}

// CompleteTurn finalizes the current turn of every speaker with pending text
// and clears their buffers. It returns the entries that were finalized.
func (a *Aggregator) CompleteTurn() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var finalized []Entry
	for sp := range Speaker(numSpeakers) {
		if a.pending[sp].Len() == 0 {
			continue
		}
		if idx := a.open[sp]; idx >= 0 {
			a.entries[idx].Text = a.pending[sp].String()
			a.entries[idx].IsFinal = true
			finalized = append(finalized, a.entries[idx])
			a.finals++
		}
		a.pending[sp].Reset()
		a.open[sp] = -1
	}
	return finalized
}

// Entries returns a copy of the transcript in arrival order.
func (a *Aggregator) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Pending returns the buffered text of speaker's current turn.
func (a *Aggregator) Pending(speaker Speaker) string {
	if !speaker.valid() {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pending[speaker].String()
}

// Finals returns how many entries have been finalized since the last Reset.
func (a *Aggregator) Finals() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finals
}

// ResetPending drops the pending buffers. Entries are kept; entries that were
// open stay non-final and later deltas start new entries.
func (a *Aggregator) ResetPending() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for sp := range Speaker(numSpeakers) {
		a.pending[sp].Reset()
		a.open[sp] = -1
	}
}

// Reset clears the transcript and all pending buffers.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	a.finals = 0
	for sp := range Speaker(numSpeakers) {
		a.pending[sp].Reset()
		a.open[sp] = -1
	}
}
