// Package tts defines the speech-synthesis engine interface consumed by the
// TTS pipeline worker.
package tts

import "context"

// Provider synthesises and plays one utterance. Speak blocks until playback
// finishes or ctx is cancelled; it is always called off the bus goroutine.
type Provider interface {
	Speak(ctx context.Context, text string) error
}
