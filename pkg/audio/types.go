// Package audio defines the capture source abstraction and the PCM helpers
// shared by the wake-word, VAD and ASR workers.
package audio

import "time"

// Frame is one captured chunk of PCM audio. Frames are the atomic unit of
// transport on the bus: captured from an input source, scanned by the
// wake-word engine and buffered by VAD.
type Frame struct {
	// PCM is little-endian signed 16-bit audio data.
	PCM []byte

	// SampleRate in Hz. The pipeline runs at 16000.
	SampleRate int

	// Channels is 1 for the microphone path.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of a stream.
type Format struct {
	SampleRate int
	Channels   int
}
