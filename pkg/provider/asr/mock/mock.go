// Package mock provides a scriptable recognition engine for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/brookwillow/kiwi/pkg/provider/asr"
)

// Engine implements asr.Provider. Each Recognize call pops the next queued
// outcome; with an empty queue it returns an empty transcript. Delay, when
// set, makes Recognize block so tests can exercise in-flight suppression.
type Engine struct {
	mu    sync.Mutex
	queue []outcome
	calls int

	// Delay blocks each Recognize call before returning.
	Delay time.Duration

	// Release, when non-nil, blocks Recognize until it is closed.
	Release chan struct{}
}

type outcome struct {
	res asr.Result
	err error
}

// NewEngine creates an empty mock engine.
func NewEngine() *Engine { return &Engine{} }

// QueueResult appends a successful recognition outcome.
func (e *Engine) QueueResult(text string, confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, outcome{res: asr.Result{Text: text, Confidence: confidence}})
}

// QueueError appends a failing recognition outcome.
func (e *Engine) QueueError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue = append(e.queue, outcome{err: err})
}

// Recognize implements asr.Provider.
func (e *Engine) Recognize(ctx context.Context, pcm []int16, sampleRate int) (asr.Result, error) {
	e.mu.Lock()
	e.calls++
	var out outcome
	if len(e.queue) > 0 {
		out = e.queue[0]
		e.queue = e.queue[1:]
	}
	delay := e.Delay
	release := e.Release
	e.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	return out.res, out.err
}

// Calls returns how many times Recognize ran.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
