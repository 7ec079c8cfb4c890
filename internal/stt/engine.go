package stt

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/audio"
	"github.com/voxlabs/voicebridge/internal/observability"
)

// State is the push-to-talk recording state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateTranscribing
	StateError
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateTranscribing:
		return "transcribing"
	case StateError:
		return "error"
	}
	return "unknown"
}

// EngineConfig holds the tunables for one push-to-talk engine.
type EngineConfig struct {
	// Model identifier passed to the transcription call.
	Model string

	// LevelSmoothing is the EMA factor for the visualization level,
	// higher = smoother/slower response.
	LevelSmoothing float64

	// OnTranscript is invoked exactly once per successful cycle with a
	// non-empty trimmed transcript. Empty transcripts are discarded.
	OnTranscript func(text string)
}

// Engine is the toggle-driven push-to-talk transcription pipeline:
// idle -> recording -> transcribing -> idle|error. At most one recording
// cycle is ever active.
type Engine struct {
	capture     audio.Capture
	transcriber Transcriber
	cfg         EngineConfig
	metrics     *observability.SessionMetrics
	logger      zerolog.Logger

	mu         sync.Mutex
	state      State
	errMsg     string
	buf        []int16
	sampleRate int
	level      float64
	pumpDone   chan struct{}

	// gen invalidates an in-flight transcription when Stop races it.
	gen uint64
}

// NewEngine creates a push-to-talk engine around a capture source and a
// transcription client.
func NewEngine(capture audio.Capture, transcriber Transcriber, cfg EngineConfig, metrics *observability.SessionMetrics) *Engine {
	return &Engine{
		capture:     capture,
		transcriber: transcriber,
		cfg:         cfg,
		metrics:     metrics,
		logger:      observability.WithComponent("stt.engine"),
	}
}

// State returns the current recording state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ErrorMessage returns the message of the last failed cycle, empty unless
// the state is StateError.
func (e *Engine) ErrorMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errMsg
}

// Level returns the smoothed amplitude of the current recording in [0,1].
func (e *Engine) Level() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Toggle drives the recording cycle. From Idle or Error it starts a fresh
// recording; from Recording it stops capture and submits the accumulated
// audio for transcription, returning after the cycle completes; while
// Transcribing it is a no-op.
func (e *Engine) Toggle(ctx context.Context) error {
	e.mu.Lock()

	switch e.state {
	case StateTranscribing:
		e.mu.Unlock()
		e.logger.Debug().Msg("Toggle ignored, transcription in flight")
		return nil

	case StateIdle, StateError:
		return e.startRecordingLocked(ctx)

	case StateRecording:
		return e.finishRecordingLocked(ctx)
	}

	e.mu.Unlock()
	return nil
}

// startRecordingLocked begins a cycle. Called with e.mu held; releases it.
func (e *Engine) startRecordingLocked(ctx context.Context) error {
	frames, err := e.capture.Start(ctx)
	if err != nil {
		e.state = StateError
		e.errMsg = err.Error()
		e.mu.Unlock()
		e.metrics.RecordError("capture", "stt")
		e.logger.Error().Err(err).Msg("Failed to start capture")
		return err
	}

	e.errMsg = ""
	e.buf = nil
	e.sampleRate = 0
	e.level = 0
	e.state = StateRecording
	done := make(chan struct{})
	e.pumpDone = done
	e.mu.Unlock()

	go e.accumulate(frames, done)

	e.logger.Debug().Msg("Recording started")
	return nil
}

// accumulate drains capture frames into the accumulator, converting to
// mono int16 and updating the smoothed visualization level.
func (e *Engine) accumulate(frames <-chan audio.Frame, done chan struct{}) {
	defer close(done)

	for f := range frames {
		samples := audio.DownmixInt16(f.Data, f.Channels)
		if len(samples) == 0 {
			continue
		}
		rms := audio.Int16RMS(samples)

		e.mu.Lock()
		if e.state != StateRecording {
			e.mu.Unlock()
			continue
		}
		if e.sampleRate == 0 {
			e.sampleRate = f.SampleRate
		}
		e.buf = append(e.buf, samples...)
		e.level = audio.Smooth(e.level, rms, e.cfg.LevelSmoothing)
		e.mu.Unlock()
	}
}

// finishRecordingLocked stops capture, encodes the accumulated audio and
// submits it. Called with e.mu held; releases it.
func (e *Engine) finishRecordingLocked(ctx context.Context) error {
	done := e.pumpDone
	e.pumpDone = nil
	e.mu.Unlock()

	e.capture.Stop()
	if done != nil {
		<-done
	}

	e.mu.Lock()
	samples := e.buf
	rate := e.sampleRate
	e.buf = nil
	e.sampleRate = 0
	e.level = 0

	if len(samples) == 0 {
		// Nothing was captured; no empty request is made.
		e.state = StateIdle
		e.mu.Unlock()
		e.metrics.RecordSTTEnd("empty")
		e.logger.Debug().Msg("Recording produced no audio, skipping transcription")
		return nil
	}

	e.state = StateTranscribing
	gen := e.gen
	e.mu.Unlock()

	wavData := audio.EncodeWAV(samples, rate)
	e.logger.Debug().
		Int("samples", len(samples)).
		Int("sample_rate", rate).
		Int("wav_bytes", len(wavData)).
		Msg("Submitting transcription")

	e.metrics.RecordSTTStart()
	text, err := e.transcriber.Transcribe(ctx, wavData, e.cfg.Model)

	e.mu.Lock()
	if e.gen != gen {
		// Stop discarded this cycle while the call was in flight.
		e.mu.Unlock()
		return nil
	}

	if err != nil {
		e.state = StateError
		e.errMsg = err.Error()
		e.mu.Unlock()
		e.metrics.RecordSTTEnd("error")
		e.metrics.RecordError("transcription", "stt")
		e.logger.Error().Err(err).Msg("Transcription failed")
		return err
	}

	e.state = StateIdle
	callback := e.cfg.OnTranscript
	e.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		// Noise, not an error.
		e.metrics.RecordSTTEnd("empty")
		return nil
	}

	e.metrics.RecordSTTEnd("success")
	e.logger.Info().Int("chars", len(text)).Msg("Transcription completed")
	if callback != nil {
		callback(text)
	}
	return nil
}

// Stop halts the engine from any state: capture is released, accumulated
// audio is discarded and the state resets to Idle without a transcript.
func (e *Engine) Stop() {
	e.mu.Lock()
	state := e.state
	done := e.pumpDone
	e.pumpDone = nil
	e.gen++
	e.buf = nil
	e.sampleRate = 0
	e.level = 0
	e.errMsg = ""
	e.state = StateIdle
	e.mu.Unlock()

	if state == StateRecording {
		e.capture.Stop()
		if done != nil {
			<-done
		}
	}

	e.logger.Debug().Stringer("was", state).Msg("Engine stopped")
}
