// Package mock provides a recording TTS engine for tests.
package mock

import (
	"context"
	"sync"
)

// Engine implements tts.Provider and records every spoken text.
type Engine struct {
	mu     sync.Mutex
	spoken []string

	// Err, when non-nil, is returned by every Speak call.
	Err error
}

// NewEngine creates an empty mock engine.
func NewEngine() *Engine { return &Engine{} }

// Speak implements tts.Provider.
func (e *Engine) Speak(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.spoken = append(e.spoken, text)
	return nil
}

// Spoken returns a copy of every text spoken so far.
func (e *Engine) Spoken() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.spoken...)
}
