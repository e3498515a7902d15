// Package vad defines the voice-activity-detection engine interface and an
// energy-based implementation.
package vad

import "time"

// EventType marks a speech boundary emitted by an engine.
type EventType int

const (
	// EventNone means the frame produced no boundary.
	EventNone EventType = iota

	// EventSpeechStart is the rising edge of an utterance.
	EventSpeechStart

	// EventSpeechContinue is emitted while speech is ongoing.
	EventSpeechContinue

	// EventSpeechEnd is the trailing-silence edge; Result.Audio then holds
	// the assembled utterance.
	EventSpeechEnd
)

// String returns the human-readable event name.
func (e EventType) String() string {
	switch e {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechContinue:
		return "speech_continue"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Result is the outcome of processing one fixed-size frame.
type Result struct {
	IsSpeech bool
	Event    EventType

	// Audio is the assembled utterance PCM, present only on EventSpeechEnd.
	Audio []int16

	// Duration is the utterance length, present only on EventSpeechEnd.
	Duration time.Duration
}

// Provider is a VAD engine. ProcessFrame consumes exactly one frame of mono
// samples; the worker above it owns frame-size buffering. Reset clears all
// engine state. OnWakewordDetected notifies the engine that the wake phrase
// just ended so it can drop any residual speech context.
type Provider interface {
	ProcessFrame(pcm []int16) (Result, error)
	Reset()
	OnWakewordDetected()
}
