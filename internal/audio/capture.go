package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/observability"
)

var (
	// ErrDeviceUnavailable is returned when the hardware tap cannot be installed.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrPermissionDenied is returned when the platform refuses microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrCaptureBusy is returned when a second capture session is requested
	// while one is active. The microphone has a single owner at a time.
	ErrCaptureBusy = errors.New("audio: capture session already active")
)

// Device opens low-level input streams. Implementations wrap the platform
// audio API; a fake stands in for tests.
type Device interface {
	Open(sampleRate, channels, framesPerBuffer int) (DeviceStream, error)
}

// DeviceStream is an open hardware input stream.
type DeviceStream interface {
	// Read blocks until the next buffer of interleaved samples is available.
	Read() ([]float32, error)
	Close() error
}

// Capture produces a cancellable, restartable stream of PCM frames.
type Capture interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Stop()
}

// Mic owns the microphone hardware tap and enforces the single-owner
// contract: a second Start while a session is active fails fast with
// ErrCaptureBusy rather than sharing the handle.
type Mic struct {
	dev             Device
	sampleRate      int
	channels        int
	framesPerBuffer int
	logger          zerolog.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewMic creates a microphone capture around the given device.
func NewMic(dev Device, sampleRate, framesPerBuffer int) *Mic {
	return &Mic{
		dev:             dev,
		sampleRate:      sampleRate,
		channels:        1,
		framesPerBuffer: framesPerBuffer,
		logger:          observability.WithComponent("audio.capture"),
	}
}

// Start acquires the microphone and returns a stream of frames. The stream
// is closed when Stop is called or the context is cancelled.
func (m *Mic) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		return nil, ErrCaptureBusy
	}

	stream, err := m.dev.Open(m.sampleRate, m.channels, m.framesPerBuffer)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	captureCtx, cancel := context.WithCancel(ctx)
	frames := make(chan Frame, 32)
	done := make(chan struct{})

	m.active = true
	m.cancel = cancel
	m.done = done

	go m.pump(captureCtx, stream, frames, done)

	m.logger.Debug().
		Int("sample_rate", m.sampleRate).
		Int("frames_per_buffer", m.framesPerBuffer).
		Msg("Capture started")
	return frames, nil
}

// pump reads hardware buffers and forwards them until cancelled.
func (m *Mic) pump(ctx context.Context, stream DeviceStream, frames chan<- Frame, done chan struct{}) {
	defer func() {
		if err := stream.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Error closing capture stream")
		}
		close(frames)
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		samples, err := stream.Read()
		if err != nil {
			// A single glitched buffer is absorbed; anything else ends the
			// session and the owner restarts if it wants to.
			select {
			case <-ctx.Done():
				return
			default:
			}
			m.logger.Warn().Err(err).Msg("Capture read failed, ending session")
			return
		}

		frame := Frame{Data: samples, Channels: m.channels, SampleRate: m.sampleRate}
		select {
		case frames <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Stop releases the microphone. Idempotent and safe from any state,
// including never-started. It returns only after the pump goroutine has
// exited, so hardware teardown never races an in-flight read.
func (m *Mic) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.active = false
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	m.logger.Debug().Msg("Capture stopped")
}

// PortAudioDevice opens input streams through the PortAudio binding.
// portaudio.Initialize must have been called before Open.
type PortAudioDevice struct{}

// Open installs the default-input hardware tap.
func (d *PortAudioDevice) Open(sampleRate, channels, framesPerBuffer int) (DeviceStream, error) {
	buf := make([]float32, framesPerBuffer*channels)
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, fmt.Errorf("open default stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []float32
}

func (s *portAudioStream) Read() ([]float32, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *portAudioStream) Close() error {
	_ = s.stream.Stop()
	return s.stream.Close()
}
