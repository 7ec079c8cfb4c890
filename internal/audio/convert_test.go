package audio

import (
	"testing"
)

func TestDownmixInt16_Mono(t *testing.T) {
	out := DownmixInt16([]float32{0, 0.5, -0.5, 1.0, -1.0}, 1)
	want := []int16{0, 16383, -16383, 32767, -32767}
	if len(out) != len(want) {
		t.Fatalf("length = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestDownmixInt16_StereoAverages(t *testing.T) {
	// Two stereo frames: (1, 0) and (-0.5, -0.5).
	out := DownmixInt16([]float32{1.0, 0.0, -0.5, -0.5}, 2)
	if len(out) != 2 {
		t.Fatalf("length = %d, want 2", len(out))
	}
	if out[0] != 16383 {
		t.Errorf("frame 0 = %d, want 16383", out[0])
	}
	if out[1] != -16383 {
		t.Errorf("frame 1 = %d, want -16383", out[1])
	}
}

func TestDownmixInt16_Clamps(t *testing.T) {
	out := DownmixInt16([]float32{2.0, -2.0}, 1)
	if out[0] != 32767 || out[1] != -32767 {
		t.Errorf("clamping failed: %v", out)
	}
}

func TestDownmixInt16_NoSurvivingSamples(t *testing.T) {
	if out := DownmixInt16(nil, 1); out != nil {
		t.Errorf("nil input produced %v", out)
	}
	// A partial frame (one sample of a stereo pair) yields nothing.
	if out := DownmixInt16([]float32{0.5}, 2); out != nil {
		t.Errorf("partial frame produced %v", out)
	}
}

func TestInt16Bytes_RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	back := BytesToInt16(Int16ToBytes(samples))
	if len(back) != len(samples) {
		t.Fatalf("length = %d, want %d", len(back), len(samples))
	}
	for i := range samples {
		if back[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, back[i], samples[i])
		}
	}
}

func TestInt16RMS(t *testing.T) {
	if got := Int16RMS(nil); got != 0 {
		t.Errorf("RMS of empty = %v, want 0", got)
	}
	loud := make([]int16, 256)
	for i := range loud {
		loud[i] = 16384
	}
	got := Int16RMS(loud)
	if got < 0.49 || got > 0.51 {
		t.Errorf("RMS of half-scale DC = %v, want ~0.5", got)
	}
}
