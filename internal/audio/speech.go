package audio

// SpeechConfig tunes local voice-activity detection.
type SpeechConfig struct {
	RMSThreshold  float64 // normalized RMS above which a frame counts as speech
	SilenceFrames int     // consecutive quiet frames that end an utterance
}

// DefaultSpeechConfig returns thresholds suitable for close-mic desktop use.
func DefaultSpeechConfig() SpeechConfig {
	return SpeechConfig{
		RMSThreshold:  0.12,
		SilenceFrames: 10,
	}
}

// SpeechDetector tracks whether the user is currently talking based on
// per-frame RMS. It provides the local signal that lets user speech
// preempt assistant playback without waiting for the remote session.
type SpeechDetector struct {
	cfg     SpeechConfig
	silence int
	active  bool
}

// NewSpeechDetector creates a detector with the given thresholds.
func NewSpeechDetector(cfg SpeechConfig) *SpeechDetector {
	if cfg.RMSThreshold <= 0 {
		cfg = DefaultSpeechConfig()
	}
	return &SpeechDetector{cfg: cfg}
}

// Process consumes one frame's RMS and reports edge transitions.
func (d *SpeechDetector) Process(rms float64) (started, ended bool) {
	if rms > d.cfg.RMSThreshold {
		d.silence = 0
		if !d.active {
			d.active = true
			started = true
		}
		return started, false
	}

	d.silence++
	if d.active && d.silence >= d.cfg.SilenceFrames {
		d.active = false
		d.silence = 0
		ended = true
	}
	return false, ended
}

// Speaking reports whether an utterance is in progress.
func (d *SpeechDetector) Speaking() bool {
	return d.active
}

// Reset clears detector state between sessions.
func (d *SpeechDetector) Reset() {
	d.silence = 0
	d.active = false
}
