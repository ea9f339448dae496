package transcript_test

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/voxagent/internal/transcript"
)

func TestAggregator_DeltasExtendOpenEntry(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	a.AppendDelta(transcript.SpeakerUser, "Hel")
	a.AppendDelta(transcript.SpeakerUser, "lo")

	want := []transcript.Entry{{Speaker: transcript.SpeakerUser, Text: "Hello", IsFinal: false}}
	if got := a.Entries(); !slices.Equal(got, want) {
		t.Errorf("Entries() = %+v, want %+v", got, want)
	}
}

func TestAggregator_TurnCompleteFinalizesAndNextDeltaStartsNewEntry(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	a.AppendDelta(transcript.SpeakerUser, "Hel")
	a.AppendDelta(transcript.SpeakerUser, "lo")

	finalized := a.CompleteTurn()
	if len(finalized) != 1 || finalized[0].Text != "Hello" {
		t.Errorf("CompleteTurn() = %+v, want one final Hello entry", finalized)
	}
	want := []transcript.Entry{{Speaker: transcript.SpeakerUser, Text: "Hello", IsFinal: true}}
	if got := a.Entries(); !slices.Equal(got, want) {
		t.Fatalf("after turn complete: %+v, want %+v", got, want)
	}

	a.AppendDelta(transcript.SpeakerUser, "Hi")
	want = append(want, transcript.Entry{Speaker: transcript.SpeakerUser, Text: "Hi", IsFinal: false})
	if got := a.Entries(); !slices.Equal(got, want) {
		t.Errorf("after new delta: %+v, want %+v", got, want)
	}
	if got := a.Pending(transcript.SpeakerUser); got != "Hi" {
		t.Errorf("Pending(USER) = %q, want Hi", got)
	}
}

func TestAggregator_SpeakersAccumulateIndependently(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	a.AppendDelta(transcript.SpeakerUser, "What time")
	a.AppendDelta(transcript.SpeakerUser, " is it?")
	a.AppendDelta(transcript.SpeakerAgent, "It is")
	a.AppendDelta(transcript.SpeakerAgent, " noon.")
	a.CompleteTurn()

	want := []transcript.Entry{
		{Speaker: transcript.SpeakerUser, Text: "What time is it?", IsFinal: true},
		{Speaker: transcript.SpeakerAgent, Text: "It is noon.", IsFinal: true},
	}
	if got := a.Entries(); !slices.Equal(got, want) {
		t.Errorf("Entries() = %+v, want %+v", got, want)
	}
	if a.Finals() != 2 {
		t.Errorf("Finals() = %d, want 2", a.Finals())
	}
}

func TestAggregator_InterleavedDeltaAppendsNewEntry(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	a.AppendDelta(transcript.SpeakerUser, "Hi")
	a.AppendDelta(transcript.SpeakerAgent, "Hello")
	a.AppendDelta(transcript.SpeakerUser, " there")

	got := a.Entries()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3: %+v", len(got), got)
	}
	if got[2].Speaker != transcript.SpeakerUser || got[2].Text != "Hi there" {
		t.Errorf("tail = %+v, want USER entry with the full pending text", got[2])
	}

	a.CompleteTurn()
	got = a.Entries()
	if !got[2].IsFinal || !got[1].IsFinal {
		t.Errorf("most recent entry per speaker should be final: %+v", got)
	}
}

func TestAggregator_TurnCompleteWithoutPendingIsNoop(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	if got := a.CompleteTurn(); len(got) != 0 {
		t.Errorf("CompleteTurn() on empty = %+v", got)
	}

	a.AppendDelta(transcript.SpeakerAgent, "Done.")
	a.CompleteTurn()
	before := a.Entries()
	a.CompleteTurn()
	if got := a.Entries(); !slices.Equal(got, before) {
		t.Errorf("second CompleteTurn changed entries: %+v -> %+v", before, got)
	}
}

func TestAggregator_IgnoresEmptyDeltaAndUnknownSpeaker(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	a.AppendDelta(transcript.SpeakerUser, "")
	a.AppendDelta(transcript.Speaker(7), "ghost")
	if got := a.Entries(); len(got) != 0 {
		t.Errorf("Entries() = %+v, want none", got)
	}
}

func TestAggregator_ResetPendingKeepsEntries(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	a.AppendDelta(transcript.SpeakerUser, "half a sen")
	a.ResetPending()
	if a.Pending(transcript.SpeakerUser) != "" {
		t.Error("pending buffer should be empty after ResetPending")
	}
	a.AppendDelta(transcript.SpeakerUser, "New")
	got := a.Entries()
	if len(got) != 2 || got[1].Text != "New" {
		t.Errorf("Entries() = %+v, want the stale entry plus a fresh one", got)
	}
}

func TestAggregator_Reset(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	a.AppendDelta(transcript.SpeakerAgent, "x")
	a.CompleteTurn()
	a.Reset()
	if len(a.Entries()) != 0 || a.Finals() != 0 {
		t.Errorf("Reset left state behind: %+v finals=%d", a.Entries(), a.Finals())
	}
}

// Property: any sequence of deltas for one speaker without a turn-complete
// yields exactly one non-final entry whose text is their concatenation.
func TestAggregator_SingleSpeakerConcatenation(t *testing.T) {
	t.Parallel()

	sequences := [][]string{
		{"a"},
		{"Hel", "lo", ",", " wor", "ld"},
		{"", "x", "", "y"},
		{"ünï", "cödé", " 日本"},
	}
	for _, deltas := range sequences {
		for _, sp := range []transcript.Speaker{transcript.SpeakerUser, transcript.SpeakerAgent} {
			a := transcript.NewAggregator()
			for _, d := range deltas {
				a.AppendDelta(sp, d)
			}
			got := a.Entries()
			want := strings.Join(deltas, "")
			if len(got) != 1 || got[0].IsFinal || got[0].Text != want || got[0].Speaker != sp {
				t.Errorf("%v deltas %q: Entries() = %+v, want one non-final %q", sp, deltas, got, want)
			}
		}
	}
}

func TestAggregator_ConcurrentUse(t *testing.T) {
	t.Parallel()

	a := transcript.NewAggregator()
	var wg sync.WaitGroup
	for _, sp := range []transcript.Speaker{transcript.SpeakerUser, transcript.SpeakerAgent} {
		wg.Go(func() {
			for range 100 {
				a.AppendDelta(sp, "x")
				_ = a.Entries()
			}
		})
	}
	wg.Wait()
	a.CompleteTurn()

	total := 0
	for _, e := range a.Entries() {
		total += len(e.Text)
		if e.IsFinal && len(e.Text) == 0 {
			t.Errorf("final entry with empty text: %+v", e)
		}
	}
	if total < 200 {
		t.Errorf("total text length %d, want at least 200", total)
	}
}

func TestSpeaker_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(transcript.Entry{Speaker: transcript.SpeakerAgent, Text: "hi", IsFinal: true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if want := `{"speaker":"AGENT","text":"hi","isFinal":true}`; string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var e transcript.Entry
	if err := json.Unmarshal([]byte(`{"speaker":"USER","text":"yo"}`), &e); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if e.Speaker != transcript.SpeakerUser {
		t.Errorf("Speaker = %v, want USER", e.Speaker)
	}
	if err := json.Unmarshal([]byte(`{"speaker":"BOT"}`), &e); err == nil {
		t.Error("expected error for unknown speaker")
	}
}
