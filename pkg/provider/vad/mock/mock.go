// Package mock provides a scriptable VAD engine for tests.
package mock

import (
	"sync"

	"github.com/brookwillow/kiwi/pkg/provider/vad"
)

// Engine implements vad.Provider by replaying queued results in order. When
// the queue is empty, ProcessFrame reports silence.
type Engine struct {
	mu      sync.Mutex
	queue   []vad.Result
	frames  int
	resets  int
	wakeups int
}

// NewEngine creates an empty mock engine.
func NewEngine() *Engine { return &Engine{} }

// Queue appends results returned by subsequent ProcessFrame calls.
func (e *Engine) Queue(results ...vad.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, results...)
}

// ProcessFrame implements vad.Provider.
func (e *Engine) ProcessFrame(pcm []int16) (vad.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames++
	if len(e.queue) == 0 {
		return vad.Result{}, nil
	}
	r := e.queue[0]
	e.queue = e.queue[1:]
	return r, nil
}

// Reset implements vad.Provider.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resets++
}

// OnWakewordDetected implements vad.Provider.
func (e *Engine) OnWakewordDetected() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wakeups++
}

// Frames returns how many frames were processed.
func (e *Engine) Frames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Resets returns how many times Reset ran.
func (e *Engine) Resets() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resets
}

// Wakeups returns how many times OnWakewordDetected ran.
func (e *Engine) Wakeups() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wakeups
}
