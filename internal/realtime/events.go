package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// ServerEvent is one inbound typed event from the remote session. The
// orchestrator switches over the concrete types; variants this core does
// not act on still parse to Unhandled so the switch stays exhaustive.
type ServerEvent interface {
	serverEvent()
}

// SessionCreated signals the remote side accepted the connection.
type SessionCreated struct {
	SessionID string
}

// SessionUpdated acknowledges a session configuration change.
type SessionUpdated struct{}

// ResponseCreated signals the model started generating a response.
type ResponseCreated struct {
	ResponseID string
}

// AudioDelta carries one chunk of decoded 16-bit PCM assistant audio.
type AudioDelta struct {
	Audio []byte
}

// SpeechStarted signals the remote VAD detected user speech.
type SpeechStarted struct{}

// UserTranscriptDone carries the completed transcript of user audio.
type UserTranscriptDone struct {
	Transcript string
}

// AssistantTranscriptDone carries the completed assistant transcript.
type AssistantTranscriptDone struct {
	Transcript string
}

// FunctionCallDone signals the model finished emitting a tool call.
type FunctionCallDone struct {
	Name      string
	Arguments string
	CallID    string
}

// ResponseDone signals the current response finished.
type ResponseDone struct {
	Status  string
	Details string
}

// SessionError is an inbound error event. Code classification decides
// whether the session survives it.
type SessionError struct {
	Code    string
	Message string
}

// Unhandled is an inbound event type this core deliberately ignores
// (text deltas, rate limits, audio-done markers).
type Unhandled struct {
	Type string
}

// Disconnected is synthesized locally when the transport read fails; it is
// always the last event on the channel.
type Disconnected struct {
	Err error
}

func (SessionCreated) serverEvent()          {}
func (SessionUpdated) serverEvent()          {}
func (ResponseCreated) serverEvent()         {}
func (AudioDelta) serverEvent()              {}
func (SpeechStarted) serverEvent()           {}
func (UserTranscriptDone) serverEvent()      {}
func (AssistantTranscriptDone) serverEvent() {}
func (FunctionCallDone) serverEvent()        {}
func (ResponseDone) serverEvent()            {}
func (SessionError) serverEvent()            {}
func (Unhandled) serverEvent()               {}
func (Disconnected) serverEvent()            {}

// wireEvent is the superset of fields across all inbound event types.
type wireEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	Session struct {
		ID string `json:"id"`
	} `json:"session"`

	Response struct {
		ID            string          `json:"id"`
		Status        string          `json:"status"`
		StatusDetails json.RawMessage `json:"status_details"`
	} `json:"response"`

	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
	CallID     string `json:"call_id"`

	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseServerEvent decodes one wire message into a typed event.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse server event: %w", err)
	}

	switch w.Type {
	case "session.created":
		return SessionCreated{SessionID: w.Session.ID}, nil
	case "session.updated":
		return SessionUpdated{}, nil
	case "response.created":
		return ResponseCreated{ResponseID: w.Response.ID}, nil
	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(w.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode audio delta: %w", err)
		}
		return AudioDelta{Audio: pcm}, nil
	case "input_audio_buffer.speech_started":
		return SpeechStarted{}, nil
	case "conversation.item.input_audio_transcription.completed":
		return UserTranscriptDone{Transcript: w.Transcript}, nil
	case "response.audio_transcript.done":
		return AssistantTranscriptDone{Transcript: w.Transcript}, nil
	case "response.function_call_arguments.done":
		return FunctionCallDone{Name: w.Name, Arguments: w.Arguments, CallID: w.CallID}, nil
	case "response.done":
		return ResponseDone{Status: w.Response.Status, Details: string(w.Response.StatusDetails)}, nil
	case "error":
		return SessionError{Code: w.Error.Code, Message: w.Error.Message}, nil
	default:
		return Unhandled{Type: w.Type}, nil
	}
}

// EventType returns a stable label for metrics.
func EventType(ev ServerEvent) string {
	switch e := ev.(type) {
	case SessionCreated:
		return "session.created"
	case SessionUpdated:
		return "session.updated"
	case ResponseCreated:
		return "response.created"
	case AudioDelta:
		return "audio.delta"
	case SpeechStarted:
		return "speech.started"
	case UserTranscriptDone:
		return "transcript.user"
	case AssistantTranscriptDone:
		return "transcript.assistant"
	case FunctionCallDone:
		return "function_call"
	case ResponseDone:
		return "response.done"
	case SessionError:
		return "error"
	case Disconnected:
		return "disconnected"
	case Unhandled:
		return "unhandled." + e.Type
	default:
		return "unknown"
	}
}
