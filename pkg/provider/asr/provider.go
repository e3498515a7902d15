// Package asr defines the speech-recognition engine interface consumed by
// the ASR pipeline worker.
package asr

import (
	"context"
	"time"
)

// Result is one completed recognition.
type Result struct {
	Text       string
	Confidence float64
	Latency    time.Duration
}

// Provider is a speech-recognition engine. Recognize runs one utterance of
// mono 16-bit samples through the model and blocks until the transcript is
// ready; it is always called off the bus goroutine and must respect ctx
// cancellation.
type Provider interface {
	Recognize(ctx context.Context, pcm []int16, sampleRate int) (Result, error)
}
