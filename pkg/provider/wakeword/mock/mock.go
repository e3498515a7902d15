// Package mock provides a scriptable wake-word engine for tests.
package mock

import (
	"sync"

	"github.com/brookwillow/kiwi/pkg/provider/wakeword"
)

// Engine implements wakeword.Provider. Queue detections with [Engine.Trigger];
// every other Detect call reports no detection.
type Engine struct {
	mu       sync.Mutex
	pending  []wakeword.Result
	detects  int
	resets   int
	DetectFn func(pcm []int16) (wakeword.Result, error)
}

// NewEngine creates an idle mock engine.
func NewEngine() *Engine { return &Engine{} }

// Trigger queues one detection result returned by the next Detect call.
func (e *Engine) Trigger(keyword string, confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, wakeword.Result{Detected: true, Keyword: keyword, Confidence: confidence})
}

// Detect implements wakeword.Provider.
func (e *Engine) Detect(pcm []int16) (wakeword.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detects++
	if e.DetectFn != nil {
		return e.DetectFn(pcm)
	}
	if len(e.pending) > 0 {
		r := e.pending[0]
		e.pending = e.pending[1:]
		return r, nil
	}
	return wakeword.Result{}, nil
}

// Reset implements wakeword.Provider.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
}

// DetectCalls returns how many times Detect ran.
func (e *Engine) DetectCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.detects
}

// ResetCalls returns how many times Reset ran.
func (e *Engine) ResetCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}
