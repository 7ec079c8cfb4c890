package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlabs/voicebridge/internal/audio"
	"github.com/voxlabs/voicebridge/internal/observability"
	"github.com/voxlabs/voicebridge/internal/realtime"
	"github.com/voxlabs/voicebridge/internal/tools"
)

type fakeSession struct {
	events chan realtime.ServerEvent

	mu        sync.Mutex
	sent      []realtime.ClientMessage
	closed    bool
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan realtime.ServerEvent, 64)}
}

func (s *fakeSession) Events() <-chan realtime.ServerEvent { return s.events }

func (s *fakeSession) Send(ctx context.Context, msg realtime.ClientMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("session closed")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSession) emit(ev realtime.ServerEvent) { s.events <- ev }

func (s *fakeSession) sentMessages() []realtime.ClientMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.ClientMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSession) countAppendAudio() int {
	n := 0
	for _, m := range s.sentMessages() {
		if _, ok := m.(realtime.AppendAudio); ok {
			n++
		}
	}
	return n
}

type fakePlayer struct {
	mu         sync.Mutex
	played     int
	interrupts int
}

func (p *fakePlayer) Play(pcm []byte) {
	p.mu.Lock()
	p.played += len(pcm)
	p.mu.Unlock()
}

func (p *fakePlayer) Interrupt() {
	p.mu.Lock()
	p.interrupts++
	p.mu.Unlock()
}

func (p *fakePlayer) interruptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupts
}

func (p *fakePlayer) playedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

type fakeCapture struct {
	mu     sync.Mutex
	frames chan audio.Frame
	active bool
	stops  int
}

func (f *fakeCapture) Start(ctx context.Context) (<-chan audio.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = make(chan audio.Frame, 32)
	f.active = true
	return f.frames, nil
}

func (f *fakeCapture) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		close(f.frames)
		f.active = false
	}
	f.stops++
}

func (f *fakeCapture) push(value float32) {
	data := make([]float32, 256)
	for i := range data {
		data[i] = value
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		f.frames <- audio.Frame{Data: data, Channels: 1, SampleRate: 16000}
	}
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []tools.FunctionCall
	cancels int
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, call tools.FunctionCall) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	return nil
}

func (d *fakeDispatcher) Cancel() {
	d.mu.Lock()
	d.cancels++
	d.mu.Unlock()
}

func (d *fakeDispatcher) dispatched() []tools.FunctionCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]tools.FunctionCall, len(d.calls))
	copy(out, d.calls)
	return out
}

func testConfig() Config {
	return Config{
		FatalErrorCodes: []string{"invalid_api_key", "insufficient_quota"},
		LevelSmoothing:  0.7,
		// High threshold so mic frames only trigger local detection when a
		// test pushes deliberately loud audio.
		Speech: audio.SpeechConfig{RMSThreshold: 0.9, SilenceFrames: 2},
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeSession, *fakeCapture, *fakePlayer) {
	t.Helper()
	session := newFakeSession()
	capture := &fakeCapture{}
	player := &fakePlayer{}
	o := NewOrchestrator(session, capture, player, testConfig(), observability.NewSessionMetrics())
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o, session, capture, player
}

func waitState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return o.State() == want },
		2*time.Second, time.Millisecond, "state = %v, want %v", o.State(), want)
}

func TestOrchestrator_SessionReadyRequestsInitialResponse(t *testing.T) {
	o, session, _, _ := newTestOrchestrator(t)

	session.emit(realtime.SessionCreated{SessionID: "sess_1"})

	require.Eventually(t, func() bool {
		for _, m := range session.sentMessages() {
			if _, ok := m.(realtime.CreateResponse); ok {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateIdle, o.State())
}

func TestOrchestrator_StateMachineFullTurn(t *testing.T) {
	o, session, _, player := newTestOrchestrator(t)

	session.emit(realtime.ResponseCreated{ResponseID: "resp_1"})
	waitState(t, o, StateAiThinking)

	session.emit(realtime.AudioDelta{Audio: []byte{0x10, 0x20, 0x30, 0x40}})
	waitState(t, o, StateAiSpeaking)
	require.Eventually(t, func() bool { return player.playedBytes() == 4 }, time.Second, time.Millisecond)

	session.emit(realtime.AssistantTranscriptDone{Transcript: "Hello, how can I help?"})
	waitState(t, o, StateIdle)

	msgs := o.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, AuthorAssistant, msgs[0].Author)
	assert.Equal(t, "Hello, how can I help?", msgs[0].Text)
	assert.Equal(t, KindRegular, msgs[0].Kind)
}

func TestOrchestrator_UserSpeechInterruptsPlayback(t *testing.T) {
	o, session, _, player := newTestOrchestrator(t)

	session.emit(realtime.AudioDelta{Audio: []byte{1, 2, 3, 4}})
	waitState(t, o, StateAiSpeaking)
	require.Zero(t, player.interruptCount())

	// The AiSpeaking -> UserSpeaking transition discards queued playback.
	session.emit(realtime.SpeechStarted{})
	waitState(t, o, StateUserSpeaking)
	assert.Equal(t, 1, player.interruptCount())

	session.emit(realtime.UserTranscriptDone{Transcript: "wait, stop"})
	waitState(t, o, StateIdle)

	msgs := o.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, AuthorUser, msgs[0].Author)
}

func TestOrchestrator_SpeechFromIdleDoesNotInterrupt(t *testing.T) {
	o, session, _, player := newTestOrchestrator(t)

	session.emit(realtime.SpeechStarted{})
	waitState(t, o, StateUserSpeaking)
	assert.Zero(t, player.interruptCount())
}

func TestOrchestrator_LocalSpeechDetectionPreempts(t *testing.T) {
	session := newFakeSession()
	capture := &fakeCapture{}
	player := &fakePlayer{}
	cfg := testConfig()
	cfg.Speech = audio.SpeechConfig{RMSThreshold: 0.1, SilenceFrames: 2}
	o := NewOrchestrator(session, capture, player, cfg, observability.NewSessionMetrics())
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	session.emit(realtime.AudioDelta{Audio: []byte{1, 2, 3, 4}})
	waitState(t, o, StateAiSpeaking)

	// A loud local frame preempts the assistant without a remote signal.
	capture.push(0.5)
	waitState(t, o, StateUserSpeaking)
	assert.Equal(t, 1, player.interruptCount())
}

func TestOrchestrator_ReadyGateBlocksMicForwarding(t *testing.T) {
	o, session, capture, _ := newTestOrchestrator(t)

	capture.push(0.2)
	capture.push(0.2)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, session.countAppendAudio(), "audio forwarded before ready")

	session.emit(realtime.ResponseCreated{ResponseID: "resp_1"})
	waitState(t, o, StateAiThinking)

	capture.push(0.2)
	require.Eventually(t, func() bool { return session.countAppendAudio() == 1 },
		time.Second, time.Millisecond)

	// The forwarded payload is base64 16-bit PCM of the 256-sample frame.
	for _, m := range session.sentMessages() {
		if a, ok := m.(realtime.AppendAudio); ok {
			pcm, err := base64.StdEncoding.DecodeString(a.Audio)
			require.NoError(t, err)
			assert.Equal(t, 512, len(pcm))
		}
	}
}

func TestOrchestrator_MuteGatesForwarding(t *testing.T) {
	o, session, capture, _ := newTestOrchestrator(t)

	session.emit(realtime.ResponseCreated{ResponseID: "resp_1"})
	waitState(t, o, StateAiThinking)

	o.SetMuted(true)
	capture.push(0.2)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, session.countAppendAudio(), "audio forwarded while muted")

	// Muting never changes the conversation state.
	assert.Equal(t, StateAiThinking, o.State())

	o.SetMuted(false)
	capture.push(0.2)
	require.Eventually(t, func() bool { return session.countAppendAudio() == 1 },
		time.Second, time.Millisecond)
}

func TestOrchestrator_FunctionCallRoutedToDispatcher(t *testing.T) {
	o, session, _, _ := newTestOrchestrator(t)
	dispatcher := &fakeDispatcher{}
	o.SetDispatcher(dispatcher)

	session.emit(realtime.FunctionCallDone{
		Name:      "execute_claude_code",
		Arguments: `{"task":"add tests"}`,
		CallID:    "call_1",
	})

	require.Eventually(t, func() bool { return len(dispatcher.dispatched()) == 1 },
		time.Second, time.Millisecond)
	call := dispatcher.dispatched()[0]
	assert.Equal(t, "execute_claude_code", call.Name)
	assert.Equal(t, "call_1", call.CallID)
	assert.JSONEq(t, `{"task":"add tests"}`, call.Arguments)
}

func TestOrchestrator_FatalErrorEndsSession(t *testing.T) {
	o, session, _, _ := newTestOrchestrator(t)

	session.emit(realtime.SessionError{Code: "invalid_api_key", Message: "bad key"})

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not end on fatal error")
	}
	require.Error(t, o.Err())
	assert.Contains(t, o.Err().Error(), "invalid_api_key")
}

func TestOrchestrator_NonFatalErrorSurfacedAndSessionContinues(t *testing.T) {
	o, session, _, _ := newTestOrchestrator(t)

	session.emit(realtime.SessionError{Code: "rate_limit_exceeded", Message: "slow down"})
	require.Eventually(t, func() bool { return o.LastError() == "slow down" },
		time.Second, time.Millisecond)
	require.NoError(t, o.Err())

	// The loop is still consuming events.
	session.emit(realtime.ResponseCreated{ResponseID: "resp_2"})
	waitState(t, o, StateAiThinking)
}

func TestOrchestrator_DisconnectEndsSession(t *testing.T) {
	o, session, _, _ := newTestOrchestrator(t)

	session.emit(realtime.Disconnected{Err: errors.New("connection reset")})
	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not end on disconnect")
	}
	assert.Error(t, o.Err())
}

func TestOrchestrator_ToolMessagesHopToLog(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	o.AppendToolMessage(tools.MessageToolStart, "Starting: add tests")
	o.AppendToolMessage(tools.MessageToolProgress, "Writing main_test.go")

	require.Eventually(t, func() bool { return len(o.Messages()) == 2 },
		time.Second, time.Millisecond)
	msgs := o.Messages()
	assert.Equal(t, KindToolStart, msgs[0].Kind)
	assert.Equal(t, KindToolProgress, msgs[1].Kind)
	assert.Equal(t, AuthorAssistant, msgs[0].Author)
}

func TestOrchestrator_StopReleasesEverything(t *testing.T) {
	session := newFakeSession()
	capture := &fakeCapture{}
	player := &fakePlayer{}
	o := NewOrchestrator(session, capture, player, testConfig(), observability.NewSessionMetrics())
	dispatcher := &fakeDispatcher{}
	o.SetDispatcher(dispatcher)
	require.NoError(t, o.Start(context.Background()))

	session.emit(realtime.AssistantTranscriptDone{Transcript: "hi"})
	require.Eventually(t, func() bool { return len(o.Messages()) == 1 },
		time.Second, time.Millisecond)

	o.Stop()

	capture.mu.Lock()
	stopped := !capture.active
	capture.mu.Unlock()
	assert.True(t, stopped, "capture not released")

	session.mu.Lock()
	closed := session.closed
	session.mu.Unlock()
	assert.True(t, closed, "session not closed")

	assert.Equal(t, 1, dispatcher.cancels)
	assert.Equal(t, StateIdle, o.State())
	assert.Empty(t, o.Messages(), "log survives teardown")

	// Idempotent.
	o.Stop()
}
