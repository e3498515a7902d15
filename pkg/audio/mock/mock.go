// Package mock provides an audio source fed from memory, used by tests and
// the evaluation harness.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/brookwillow/kiwi/pkg/audio"
)

// Source implements audio.Source. Frames pushed with [Source.Push] are
// delivered to the consumer returned by Open.
type Source struct {
	mu     sync.Mutex
	ch     chan audio.Frame
	opened bool
	closed bool
}

// NewSource creates a mock source with a buffer of 64 frames.
func NewSource() *Source {
	return &Source{ch: make(chan audio.Frame, 64)}
}

// Open implements audio.Source.
func (s *Source) Open(ctx context.Context, format audio.Format, chunkSize int) (<-chan audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("mock audio: source closed")
	}
	s.opened = true
	return s.ch, nil
}

// Push queues a frame for delivery. Returns false after Close.
func (s *Source) Push(f audio.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- f
	return true
}

// PushPCM queues raw mono 16 kHz PCM as one frame.
func (s *Source) PushPCM(pcm []byte) bool {
	return s.Push(audio.Frame{PCM: pcm, SampleRate: 16000, Channels: 1})
}

// Close implements audio.Source, closing the frame channel.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Opened reports whether Open was called.
func (s *Source) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}
