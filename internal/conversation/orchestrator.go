package conversation

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/voxlabs/voicebridge/internal/audio"
	"github.com/voxlabs/voicebridge/internal/observability"
	"github.com/voxlabs/voicebridge/internal/realtime"
	"github.com/voxlabs/voicebridge/internal/tools"
)

// State is the conversation state. Exactly one value is active at a time;
// transitions are driven by inbound session events and the local
// voice-activity signal, never by tool handling.
type State int

const (
	StateIdle State = iota
	StateUserSpeaking
	StateAiThinking
	StateAiSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUserSpeaking:
		return "userSpeaking"
	case StateAiThinking:
		return "aiThinking"
	case StateAiSpeaking:
		return "aiSpeaking"
	}
	return "unknown"
}

// Player receives assistant audio for output. Interrupt discards
// everything queued, not merely pausing it.
type Player interface {
	Play(pcm []byte)
	Interrupt()
}

// Dispatcher executes tool calls routed from the session.
type Dispatcher interface {
	Dispatch(ctx context.Context, call tools.FunctionCall) error
	Cancel()
}

// Config holds orchestrator tunables.
type Config struct {
	FatalErrorCodes []string // session error codes that tear the session down
	LevelSmoothing  float64
	Speech          audio.SpeechConfig
}

// Orchestrator coordinates the realtime conversation: it multiplexes the
// microphone stream into outbound session messages, demultiplexes inbound
// events into state transitions, playback, transcript messages and tool
// dispatch. All UI-observable state is mutated on a single event loop
// goroutine; other goroutines hop in through the inbox channel.
type Orchestrator struct {
	session    realtime.Session
	capture    audio.Capture
	player     Player
	dispatcher Dispatcher
	cfg        Config
	metrics    *observability.SessionMetrics
	logger     zerolog.Logger

	inbox   chan func()
	updates chan struct{}
	done    chan struct{}

	runCtx  context.Context
	cancel  context.CancelFunc
	micDone chan struct{}

	muted atomic.Bool
	ready atomic.Bool

	mu        sync.RWMutex
	started   bool
	state     State
	messages  []Message
	userLevel float64
	aiLevel   float64
	lastError string
	fatalErr  error
}

// NewOrchestrator creates a conversation orchestrator. The dispatcher is
// attached separately because it needs the orchestrator as its notifier.
func NewOrchestrator(session realtime.Session, capture audio.Capture, player Player, cfg Config, metrics *observability.SessionMetrics) *Orchestrator {
	return &Orchestrator{
		session: session,
		capture: capture,
		player:  player,
		cfg:     cfg,
		metrics: metrics,
		logger:  observability.WithComponent("conversation.orchestrator"),
		inbox:   make(chan func(), 256),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetDispatcher attaches the tool dispatcher. Must be called before Start.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// Start acquires the microphone and launches the mic-forward pump and the
// session event loop as independently cancellable goroutines.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("conversation: orchestrator already started")
	}
	o.started = true
	o.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	o.runCtx = runCtx
	o.cancel = cancel
	o.micDone = make(chan struct{})

	frames, err := o.capture.Start(runCtx)
	if err != nil {
		cancel()
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return fmt.Errorf("start capture: %w", err)
	}

	o.metrics.RecordSessionStart()
	go o.micPump(runCtx, frames)
	go o.run(runCtx)

	o.logger.Info().Msg("Conversation started")
	return nil
}

// Stop tears the conversation down: both pumps are cancelled and awaited
// before the capture handle is released and the session closed, so nothing
// writes to a released resource. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	o.mu.Unlock()

	o.cancel()
	<-o.micDone
	<-o.done

	if o.dispatcher != nil {
		o.dispatcher.Cancel()
	}
	o.capture.Stop()
	if err := o.session.Close(); err != nil {
		o.logger.Warn().Err(err).Msg("Session close failed")
	}

	o.metrics.RecordSessionEnd()

	o.mu.Lock()
	o.state = StateIdle
	o.messages = nil
	o.userLevel = 0
	o.aiLevel = 0
	o.mu.Unlock()
	o.ready.Store(false)
	o.notify()

	o.logger.Info().Msg("Conversation stopped")
}

// Done is closed when the event loop exits, including on fatal session
// errors. The owner should then call Stop and check Err.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Err returns the fatal error that ended the session, if any.
func (o *Orchestrator) Err() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fatalErr
}

// State returns the current conversation state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Messages returns a snapshot of the conversation log.
func (o *Orchestrator) Messages() []Message {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Levels returns the smoothed user and assistant audio levels.
func (o *Orchestrator) Levels() (user, ai float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.userLevel, o.aiLevel
}

// LastError returns the most recent surfaced non-fatal error message.
func (o *Orchestrator) LastError() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastError
}

// Updates is a coalesced notification channel: one token appears whenever
// observable state changed. The UI never blocks the orchestrator.
func (o *Orchestrator) Updates() <-chan struct{} { return o.updates }

// Muted implements the dispatcher's mic control.
func (o *Orchestrator) Muted() bool { return o.muted.Load() }

// SetMuted implements the dispatcher's mic control. Muting never changes
// the conversation state, it only gates the forward pump.
func (o *Orchestrator) SetMuted(muted bool) {
	o.muted.Store(muted)
	o.logger.Debug().Bool("muted", muted).Msg("Microphone mute changed")
	o.notify()
}

// AppendToolMessage implements the dispatcher's transcript notifier.
func (o *Orchestrator) AppendToolMessage(kind tools.MessageKind, text string) {
	o.post(func() {
		o.append(newMessage(AuthorAssistant, text, messageKind(kind)))
	})
}

// AppendImageMessage implements the dispatcher's transcript notifier.
func (o *Orchestrator) AppendImageMessage(text string, png []byte) {
	o.post(func() {
		msg := newMessage(AuthorAssistant, text, KindRegular)
		msg.Image = png
		o.append(msg)
	})
}

// SendFunctionOutput implements the dispatcher's session sender.
func (o *Orchestrator) SendFunctionOutput(ctx context.Context, callID, output string) error {
	return o.session.Send(ctx, realtime.NewFunctionCallOutput(callID, output))
}

// SendImage implements the dispatcher's session sender.
func (o *Orchestrator) SendImage(ctx context.Context, pngBase64 string) error {
	return o.session.Send(ctx, realtime.NewUserImageItem(pngBase64))
}

// RequestResponse implements the dispatcher's session sender.
func (o *Orchestrator) RequestResponse(ctx context.Context) error {
	return o.session.Send(ctx, realtime.CreateResponse{})
}

// CancelTool aborts the in-flight tool call, if any.
func (o *Orchestrator) CancelTool() {
	if o.dispatcher != nil {
		o.dispatcher.Cancel()
	}
}

// post hops a mutation onto the event loop goroutine.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.inbox <- fn:
	case <-o.runCtx.Done():
	}
}

func (o *Orchestrator) notify() {
	select {
	case o.updates <- struct{}{}:
	default:
	}
}

// run is the single consumer of all observable state mutations.
func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.done)

	for {
		select {
		case <-ctx.Done():
			return

		case fn := <-o.inbox:
			fn()

		case ev, ok := <-o.session.Events():
			if !ok {
				o.logger.Warn().Msg("Session event stream closed")
				return
			}
			o.metrics.RecordSessionEvent(realtime.EventType(ev))
			if fatal := o.handleEvent(ctx, ev); fatal {
				return
			}
		}
	}
}

// handleEvent applies one inbound event to the state machine. A true
// return ends the event loop for a fatal session error.
func (o *Orchestrator) handleEvent(ctx context.Context, ev realtime.ServerEvent) bool {
	switch e := ev.(type) {
	case realtime.SessionCreated:
		o.logger.Info().Str("session_id", e.SessionID).Msg("Session ready")
		// Request the initial response so the assistant opens the
		// conversation.
		if err := o.session.Send(ctx, realtime.CreateResponse{}); err != nil {
			o.logger.Error().Err(err).Msg("Failed to request initial response")
		}

	case realtime.ResponseCreated:
		// The remote side is now prepared to receive audio.
		o.ready.Store(true)
		o.setState(StateAiThinking)

	case realtime.AudioDelta:
		o.player.Play(e.Audio)
		o.metrics.RecordAudioBytes("out", int64(len(e.Audio)))
		rms := audio.Int16RMS(audio.BytesToInt16(e.Audio))
		o.mu.Lock()
		o.aiLevel = audio.Smooth(o.aiLevel, rms, o.cfg.LevelSmoothing)
		o.mu.Unlock()
		o.setState(StateAiSpeaking)
		o.notify()

	case realtime.SpeechStarted:
		o.userSpeechStarted()

	case realtime.UserTranscriptDone:
		if text := strings.TrimSpace(e.Transcript); text != "" {
			o.append(newMessage(AuthorUser, text, KindRegular))
		}
		o.setState(StateIdle)

	case realtime.AssistantTranscriptDone:
		if text := strings.TrimSpace(e.Transcript); text != "" {
			o.append(newMessage(AuthorAssistant, text, KindRegular))
		}
		o.setState(StateIdle)

	case realtime.FunctionCallDone:
		if o.dispatcher == nil {
			o.logger.Error().Str("tool", e.Name).Msg("Tool call received with no dispatcher")
			return false
		}
		call := tools.FunctionCall{Name: e.Name, Arguments: e.Arguments, CallID: e.CallID}
		if err := o.dispatcher.Dispatch(ctx, call); err != nil {
			o.logger.Error().Err(err).Str("tool", e.Name).Msg("Tool dispatch failed")
		}

	case realtime.ResponseDone:
		if e.Status == "failed" {
			o.logger.Warn().Str("details", e.Details).Msg("Response failed")
		}

	case realtime.SessionError:
		return o.handleSessionError(e)

	case realtime.Disconnected:
		o.logger.Warn().Err(e.Err).Msg("Session disconnected")
		o.setFatal(fmt.Errorf("session disconnected: %w", e.Err))
		return true

	case realtime.SessionUpdated, realtime.Unhandled:
		// Inert variants, deliberately no-opped.
	}
	return false
}

// userSpeechStarted handles both the remote VAD signal and the local
// detector. User speech preempts the assistant: queued playback is
// discarded before the state changes.
func (o *Orchestrator) userSpeechStarted() {
	if o.State() == StateAiSpeaking {
		o.player.Interrupt()
		o.logger.Debug().Msg("Playback interrupted by user speech")
	}
	o.setState(StateUserSpeaking)
}

func (o *Orchestrator) handleSessionError(e realtime.SessionError) bool {
	o.metrics.RecordError(e.Code, "conversation")

	if o.isFatalCode(e.Code) {
		o.logger.Error().Str("code", e.Code).Str("message", e.Message).Msg("Fatal session error")
		o.setFatal(fmt.Errorf("session error %s: %s", e.Code, e.Message))
		return true
	}

	o.logger.Warn().Str("code", e.Code).Str("message", e.Message).Msg("Session error")
	o.mu.Lock()
	o.lastError = e.Message
	o.mu.Unlock()
	o.notify()
	return false
}

func (o *Orchestrator) isFatalCode(code string) bool {
	for _, fatal := range o.cfg.FatalErrorCodes {
		if code == fatal {
			return true
		}
	}
	return false
}

func (o *Orchestrator) setFatal(err error) {
	o.mu.Lock()
	o.fatalErr = err
	o.lastError = err.Error()
	o.mu.Unlock()
	o.notify()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	changed := o.state != s
	if changed {
		o.logger.Debug().Stringer("from", o.state).Stringer("to", s).Msg("State transition")
		o.state = s
	}
	o.mu.Unlock()
	if changed {
		o.notify()
	}
}

func (o *Orchestrator) append(msg Message) {
	o.mu.Lock()
	o.messages = append(o.messages, msg)
	o.mu.Unlock()
	o.notify()
}

// micPump forwards microphone frames to the session. Frames are always
// analyzed for levels and local speech detection; they are only sent once
// the ready gate opens and only while unmuted.
func (o *Orchestrator) micPump(ctx context.Context, frames <-chan audio.Frame) {
	defer close(o.micDone)

	detector := audio.NewSpeechDetector(o.cfg.Speech)
	for {
		select {
		case <-ctx.Done():
			return

		case f, ok := <-frames:
			if !ok {
				return
			}

			samples := audio.DownmixInt16(f.Data, f.Channels)
			if len(samples) == 0 {
				continue
			}
			rms := audio.Int16RMS(samples)

			o.post(func() {
				o.mu.Lock()
				o.userLevel = audio.Smooth(o.userLevel, rms, o.cfg.LevelSmoothing)
				o.mu.Unlock()
				o.notify()
			})

			if started, _ := detector.Process(rms); started && !o.muted.Load() {
				o.post(o.userSpeechStarted)
			}

			if o.muted.Load() || !o.ready.Load() {
				continue
			}

			pcm := audio.Int16ToBytes(samples)
			payload := base64.StdEncoding.EncodeToString(pcm)
			if err := o.session.Send(ctx, realtime.AppendAudio{Audio: payload}); err != nil {
				if ctx.Err() != nil {
					return
				}
				o.logger.Warn().Err(err).Msg("Failed to forward mic audio")
				continue
			}
			o.metrics.RecordAudioBytes("in", int64(len(pcm)))
		}
	}
}

func messageKind(kind tools.MessageKind) MessageKind {
	switch kind {
	case tools.MessageToolStart:
		return KindToolStart
	case tools.MessageToolProgress:
		return KindToolProgress
	case tools.MessageToolResult:
		return KindToolResult
	case tools.MessageToolError:
		return KindToolError
	}
	return KindRegular
}
