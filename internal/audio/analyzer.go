package audio

import "math"

// Frame is one buffer of captured PCM audio. Samples are interleaved
// float32 in [-1, 1].
type Frame struct {
	Data       []float32
	Channels   int
	SampleRate int
}

// RMS computes the root mean square amplitude of a buffer, normalized to
// [0, 1] for float samples in [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1.0 {
		rms = 1.0
	}
	return rms
}

// Band edges in Hz for the 3-band energy split.
var bandProbes = [3][]float64{
	{80, 150, 250},     // low
	{500, 1000, 2000},  // mid
	{3000, 5000, 7000}, // high
}

// Bands computes normalized energy in three frequency bands (low, mid, high)
// using Goertzel probes at fixed frequencies per band. Probes at or above
// Nyquist are skipped.
func Bands(samples []float32, sampleRate int) (low, mid, high float64) {
	if len(samples) == 0 || sampleRate <= 0 {
		return 0, 0, 0
	}

	nyquist := float64(sampleRate) / 2
	var out [3]float64
	for band, probes := range bandProbes {
		var energy float64
		var used int
		for _, freq := range probes {
			if freq >= nyquist {
				continue
			}
			energy += goertzelPower(samples, freq, sampleRate)
			used++
		}
		if used > 0 {
			out[band] = energy / float64(used)
		}
	}

	// Normalize against the strongest band so the result is a relative
	// shape in [0,1], which is what visualizers want.
	max := out[0]
	for _, v := range out[1:] {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for i := range out {
			out[i] /= max
		}
	}
	return out[0], out[1], out[2]
}

// goertzelPower computes the normalized power of a single frequency bin.
func goertzelPower(samples []float32, freq float64, sampleRate int) float64 {
	n := len(samples)
	omega := 2 * math.Pi * freq / float64(sampleRate)
	coeff := 2 * math.Cos(omega)

	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = float64(x) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}

	power := s1*s1 + s2*s2 - coeff*s1*s2
	return power / float64(n*n)
}

// Smooth applies an exponential moving average: previous*factor +
// target*(1-factor). Factor must be in (0,1); higher means smoother and
// slower response.
func Smooth(previous, target, factor float64) float64 {
	return previous*factor + target*(1-factor)
}
