package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestMonoToStereo(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.MonoToStereo(samplesToBytes([]int16{100, 200, -300})))
	want := []int16{100, 100, 200, 200, -300, -300}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()
	got := bytesToSamples(audio.StereoToMono(samplesToBytes([]int16{100, 200, -100, -200, 32767, 32767})))
	want := []int16{150, -150, 32767}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples int
		src     int
		dst     int
		wantLen int
	}{
		{"same rate", 160, 16000, 16000, 160},
		{"upsample 16k to 24k", 160, 16000, 24000, 240},
		{"downsample 48k to 16k", 480, 48000, 16000, 160},
		{"zero source rate", 10, 0, 16000, 10},
		{"zero target rate", 10, 16000, 0, 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pcm := samplesToBytes(make([]int16, tc.samples))
			out := audio.ResampleMono16(pcm, tc.src, tc.dst)
			if got := len(out) / 2; got != tc.wantLen {
				t.Errorf("samples = %d, want %d", got, tc.wantLen)
			}
		})
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	t.Parallel()
	// 2x upsampling of a ramp inserts midpoints.
	out := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{0, 100, 200}), 8000, 16000))
	want := []int16{0, 50, 100, 150, 200, 200}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestConverter(t *testing.T) {
	t.Parallel()

	target := audio.Format{SampleRate: 24000, Channels: 1}

	t.Run("matching format is passed through", func(t *testing.T) {
		t.Parallel()
		c := &audio.Converter{Target: target}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{1, 2}), SampleRate: 24000, Channels: 1}
		out := c.Convert(in)
		if &out.Data[0] != &in.Data[0] {
			t.Error("expected the input buffer to be returned")
		}
	})

	t.Run("16k mono is resampled", func(t *testing.T) {
		t.Parallel()
		c := &audio.Converter{Target: target}
		in := audio.AudioFrame{Data: samplesToBytes(make([]int16, 1600)), SampleRate: 16000, Channels: 1}
		out := c.Convert(in)
		if out.SampleRate != 24000 || out.Channels != 1 {
			t.Errorf("format = %dHz/%d, want 24000Hz/1", out.SampleRate, out.Channels)
		}
		if out.Samples() != 2400 {
			t.Errorf("samples = %d, want 2400", out.Samples())
		}
	})

	t.Run("stereo is down-mixed", func(t *testing.T) {
		t.Parallel()
		c := &audio.Converter{Target: target}
		in := audio.AudioFrame{Data: samplesToBytes([]int16{10, 30, 10, 30}), SampleRate: 24000, Channels: 2}
		out := c.Convert(in)
		got := bytesToSamples(out.Data)
		if len(got) != 2 || got[0] != 20 || got[1] != 20 {
			t.Errorf("samples = %v, want [20 20]", got)
		}
	})

	t.Run("odd byte count yields empty frame", func(t *testing.T) {
		t.Parallel()
		c := &audio.Converter{Target: target}
		out := c.Convert(audio.AudioFrame{Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1})
		if out.Data != nil {
			t.Errorf("Data = %v, want nil", out.Data)
		}
	})
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	cases := map[audio.Format]string{
		{SampleRate: 16000, Channels: 1}: "16000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	}
	for f, want := range cases {
		if got := f.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", f, got, want)
		}
	}
}
