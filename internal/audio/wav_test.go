package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
	"pgregory.net/rapid"
)

func TestEncodeWAV_Header(t *testing.T) {
	samples := []int16{0, 100, -100, 32767, -32768}
	out := EncodeWAV(samples, 16000)

	if len(out) != 44+len(samples)*2 {
		t.Fatalf("container size = %d, want %d", len(out), 44+len(samples)*2)
	}
	if string(out[0:4]) != "RIFF" || string(out[8:12]) != "WAVE" {
		t.Error("missing RIFF/WAVE magic")
	}
	if string(out[36:40]) != "data" {
		t.Error("missing data subchunk id")
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(samples)*2) {
		t.Errorf("data subchunk size = %d, want %d", got, len(samples)*2)
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
}

// Round-trip through a standard WAV reader must preserve sample count,
// channel count, and sample rate.
func TestEncodeWAV_RoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 4096).Draw(rt, "numSamples")
		rate := rapid.SampledFrom([]int{8000, 16000, 24000, 44100}).Draw(rt, "sampleRate")
		samples := make([]int16, n)
		for i := range samples {
			samples[i] = int16(rapid.IntRange(-32768, 32767).Draw(rt, "sample"))
		}

		encoded := EncodeWAV(samples, rate)

		dec := wav.NewDecoder(bytes.NewReader(encoded))
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			rt.Fatalf("standard decoder rejected container: %v", err)
		}
		if buf.Format.NumChannels != 1 {
			rt.Fatalf("decoded channels = %d, want 1", buf.Format.NumChannels)
		}
		if buf.Format.SampleRate != rate {
			rt.Fatalf("decoded sample rate = %d, want %d", buf.Format.SampleRate, rate)
		}
		if len(buf.Data) != n {
			rt.Fatalf("decoded sample count = %d, want %d", len(buf.Data), n)
		}
		for i, v := range buf.Data {
			if int16(v) != samples[i] {
				rt.Fatalf("sample %d = %d, want %d", i, v, samples[i])
			}
		}
	})
}

func TestEncodeWAV_Empty(t *testing.T) {
	out := EncodeWAV(nil, 16000)
	if len(out) != 44 {
		t.Errorf("empty container size = %d, want 44", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 0 {
		t.Errorf("data subchunk size = %d, want 0", got)
	}
}
