package audio

import "math"

// DownmixInt16 converts interleaved float32 samples to mono 16-bit PCM.
// Multi-channel input is averaged per frame; samples are clamped to the
// int16 range. Returns nil when no full frames survive the conversion.
func DownmixInt16(data []float32, channels int) []int16 {
	if len(data) == 0 || channels <= 0 {
		return nil
	}

	frames := len(data) / channels
	if frames == 0 {
		return nil
	}

	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(data[i*channels+c])
		}
		out[i] = floatToInt16(sum / float64(channels))
	}
	return out
}

func floatToInt16(v float64) int16 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	// Scale by 32767 on both sides so full-scale input maps symmetrically.
	return int16(v * 32767)
}

// Int16ToBytes encodes samples as little-endian bytes, the layout used by
// both the WAV data subchunk and the realtime session's PCM payloads.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// BytesToInt16 decodes little-endian 16-bit samples. A trailing odd byte is
// dropped.
func BytesToInt16(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return out
}

// Int16RMS computes the normalized RMS of 16-bit samples in [0, 1].
func Int16RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}
	sum := 0.0
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	r := math.Sqrt(sum / float64(len(samples)))
	if r > 1.0 {
		r = 1.0
	}
	return r
}
