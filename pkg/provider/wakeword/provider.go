// Package wakeword defines the wake-word engine interface consumed by the
// wake-word pipeline worker.
package wakeword

// Result is the outcome of scanning one audio frame.
type Result struct {
	Detected   bool
	Keyword    string
	Confidence float64
}

// Provider is a wake-word detection engine. Detect is called with mono
// 16-bit samples at the pipeline rate; implementations keep their own
// rolling context and cooldown. Reset clears that context after a completed
// or timed-out conversation.
type Provider interface {
	Detect(pcm []int16) (Result, error)
	Reset()
}
