package vad

import (
	"time"

	"github.com/brookwillow/kiwi/pkg/audio"
)

// Compile-time assertion that Energy satisfies Provider.
var _ Provider = (*Energy)(nil)

// EnergyConfig tunes the energy detector. Zero values take the defaults
// noted on each field.
type EnergyConfig struct {
	// SampleRate of the incoming frames. Default 16000.
	SampleRate int

	// RMSThreshold is the amplitude above which a frame counts as speech.
	// Default 500 (int16 scale).
	RMSThreshold float64

	// StartFrames is the number of consecutive speech frames needed for a
	// rising edge, filtering out clicks. Default 2.
	StartFrames int

	// EndSilence is the trailing silence that closes an utterance.
	// Default 800ms.
	EndSilence time.Duration
}

// Energy is an RMS-threshold VAD: a run of loud frames opens an utterance,
// a stretch of quiet frames closes it and yields the assembled PCM. It is
// driven from a single worker goroutine and holds no locks.
type Energy struct {
	cfg EnergyConfig

	speaking     bool
	consecSpeech int
	silence      time.Duration
	buffer       []int16
	frameDur     time.Duration
}

// NewEnergy creates an energy detector.
func NewEnergy(cfg EnergyConfig) *Energy {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.RMSThreshold <= 0 {
		cfg.RMSThreshold = 500
	}
	if cfg.StartFrames <= 0 {
		cfg.StartFrames = 2
	}
	if cfg.EndSilence <= 0 {
		cfg.EndSilence = 800 * time.Millisecond
	}
	return &Energy{cfg: cfg}
}

// ProcessFrame implements Provider.
func (e *Energy) ProcessFrame(pcm []int16) (Result, error) {
	frameDur := time.Duration(audio.Duration(len(pcm), e.cfg.SampleRate)) * time.Millisecond
	loud := audio.RMS(pcm) >= e.cfg.RMSThreshold

	if !e.speaking {
		if !loud {
			e.consecSpeech = 0
			return Result{}, nil
		}
		e.consecSpeech++
		e.buffer = append(e.buffer, pcm...)
		if e.consecSpeech < e.cfg.StartFrames {
			return Result{IsSpeech: true}, nil
		}
		e.speaking = true
		e.silence = 0
		return Result{IsSpeech: true, Event: EventSpeechStart}, nil
	}

	e.buffer = append(e.buffer, pcm...)
	if loud {
		e.silence = 0
		return Result{IsSpeech: true, Event: EventSpeechContinue}, nil
	}

	e.silence += frameDur
	if e.silence < e.cfg.EndSilence {
		return Result{IsSpeech: true, Event: EventSpeechContinue}, nil
	}

	// Trailing silence reached: close the utterance, trimming the silent
	// tail off the assembled audio.
	utterance := e.buffer
	tail := int(e.silence / time.Millisecond * time.Duration(e.cfg.SampleRate) / 1000)
	if tail > 0 && tail < len(utterance) {
		utterance = utterance[:len(utterance)-tail]
	}
	dur := time.Duration(audio.Duration(len(utterance), e.cfg.SampleRate)) * time.Millisecond

	e.reset()
	return Result{
		Event:    EventSpeechEnd,
		Audio:    utterance,
		Duration: dur,
	}, nil
}

// Reset implements Provider.
func (e *Energy) Reset() { e.reset() }

// OnWakewordDetected implements Provider. The wake phrase itself must not
// leak into the first utterance.
func (e *Energy) OnWakewordDetected() { e.reset() }

func (e *Energy) reset() {
	e.speaking = false
	e.consecSpeech = 0
	e.silence = 0
	e.buffer = nil
}
