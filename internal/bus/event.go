// Package bus implements the central event bus and module lifecycle
// controller that wires the voice pipeline together.
//
// # Architecture
//
// Every pipeline concern (audio capture, wake word, VAD, ASR, orchestrator,
// agent dispatch, TTS, GUI, memory) is a [Module] registered with one
// [Controller]. Modules never call each other directly; they communicate
// exclusively through published [Event] values. The controller owns the
// module lifecycle: initialisation in registration order, start in the same
// order, stop in reverse.
//
// Events are immutable values. A bounded ring retains the most recent events
// for audit; overflow drops the oldest and is counted, never blocking the
// publisher.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of an [Event] and the shape of its payload.
type EventType string

const (
	SystemStart        EventType = "system_start"
	SystemStop         EventType = "system_stop"
	AudioFrameReady    EventType = "audio_frame_ready"
	AudioDeviceChanged EventType = "audio_device_changed"
	WakewordDetected   EventType = "wakeword_detected"
	WakewordReset      EventType = "wakeword_reset"
	WakewordTimeout    EventType = "wakeword_timeout"
	VADSpeechStart     EventType = "vad_speech_start"
	VADSpeechEnd       EventType = "vad_speech_end"
	ASRStart           EventType = "asr_recognition_start"
	ASRSuccess         EventType = "asr_recognition_success"
	ASRFailed          EventType = "asr_recognition_failed"
	StateChanged       EventType = "state_changed"
	GUIUpdateText      EventType = "gui_update_text"
	AgentDispatch      EventType = "agent_dispatch_request"
	TTSSpeakRequest    EventType = "tts_speak_request"
	TTSSpeakStart      EventType = "tts_speak_start"
	TTSSpeakEnd        EventType = "tts_speak_end"
	TTSSpeakError      EventType = "tts_speak_error"
)

// SessionAction tells the agent dispatcher whether an utterance opens a new
// session or resumes one that was waiting for input.
type SessionAction string

const (
	SessionNew    SessionAction = "new"
	SessionResume SessionAction = "resume"
)

// Event is one immutable message on the bus. Publishers fill Type, Source and
// Payload; the controller assigns ID and Timestamp if unset. MsgID threads a
// conversation turn through the pipeline so the tracker can correlate stages.
type Event struct {
	ID            string
	Type          EventType
	Source        string
	Timestamp     time.Time
	MsgID         string
	SessionID     string
	SessionAction SessionAction
	Payload       Payload
}

// New creates an event with a fresh ID and the current timestamp.
func New(t EventType, source string, p Payload) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    source,
		Timestamp: time.Now(),
		Payload:   p,
	}
}

// Payload is the typed body of an event, one variant per event type family.
// Fields returns a key-value view for consumers that inspect payloads
// generically (tracing, GUI frames).
type Payload interface {
	Fields() map[string]any
}

// AudioFramePayload carries one captured PCM chunk (16-bit little-endian).
type AudioFramePayload struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func (p AudioFramePayload) Fields() map[string]any {
	return map[string]any{"bytes": len(p.PCM), "sample_rate": p.SampleRate, "channels": p.Channels}
}

// WakePayload carries a wake-word detection.
type WakePayload struct {
	Keyword    string
	Confidence float64
}

func (p WakePayload) Fields() map[string]any {
	return map[string]any{"keyword": p.Keyword, "confidence": p.Confidence}
}

// VADPayload carries a speech boundary. Audio is the assembled utterance PCM,
// present only on VADSpeechEnd.
type VADPayload struct {
	IsSpeech bool
	Duration time.Duration
	Audio    []byte
}

func (p VADPayload) Fields() map[string]any {
	return map[string]any{"is_speech": p.IsSpeech, "duration_ms": p.Duration.Milliseconds(), "audio_bytes": len(p.Audio)}
}

// ASRPayload carries a recognition result or failure.
type ASRPayload struct {
	Text       string
	Confidence float64
	Latency    time.Duration
	IsPartial  bool
	Err        string
}

func (p ASRPayload) Fields() map[string]any {
	return map[string]any{"text": p.Text, "confidence": p.Confidence, "latency_ms": p.Latency.Milliseconds(), "is_partial": p.IsPartial, "error": p.Err}
}

// StateChangePayload announces a voice state machine transition.
type StateChangePayload struct {
	From   string
	To     string
	Reason string
}

func (p StateChangePayload) Fields() map[string]any {
	return map[string]any{"from": p.From, "to": p.To, "reason": p.Reason}
}

// AgentRequestPayload asks the dispatcher to run an agent. Parameters carries
// the orchestrator's routing decision (session id, user input on resume).
type AgentRequestPayload struct {
	AgentName  string
	Query      string
	Confidence float64
	Reasoning  string
	Context    map[string]any
	Parameters map[string]any
}

func (p AgentRequestPayload) Fields() map[string]any {
	return map[string]any{"agent": p.AgentName, "query": p.Query, "confidence": p.Confidence, "reasoning": p.Reasoning, "parameters": p.Parameters}
}

// TTSPayload carries text to be spoken, or the progress of speaking it.
type TTSPayload struct {
	Text     string
	Priority string
	Err      string
}

func (p TTSPayload) Fields() map[string]any {
	return map[string]any{"text": p.Text, "priority": p.Priority, "error": p.Err}
}

// GUITextPayload updates the dashboard with a conversation line.
type GUITextPayload struct {
	Kind      string // "user_query", "agent_response" or "system"
	Text      string
	AgentName string
	Data      map[string]any
}

func (p GUITextPayload) Fields() map[string]any {
	return map[string]any{"kind": p.Kind, "text": p.Text, "agent": p.AgentName, "data": p.Data}
}

// ErrorPayload reports a module-level failure, e.g. audio device loss.
type ErrorPayload struct {
	Module string
	Err    string
}

func (p ErrorPayload) Fields() map[string]any {
	return map[string]any{"module": p.Module, "error": p.Err}
}

// EmptyPayload is used by lifecycle events that carry no data.
type EmptyPayload struct{}

func (EmptyPayload) Fields() map[string]any { return map[string]any{} }
