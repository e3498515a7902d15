// Package worker contains the pipeline modules: audio capture, wake word,
// VAD, ASR and TTS. Each is an independent [bus.Module] driven by events;
// none calls another worker directly.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/pkg/audio"
)

// timeoutTickFrames is how many captured frames pass between wake-deadline
// polls on the controller.
const timeoutTickFrames = 10

// Compile-time assertion that AudioCapture satisfies bus.Module.
var _ bus.Module = (*AudioCapture)(nil)

// AudioCaptureConfig configures the capture worker.
type AudioCaptureConfig struct {
	SampleRate int
	Channels   int
	ChunkSize  int
}

// AudioCapture reads frames from an [audio.Source] and publishes each one
// as AudioFrameReady. It is the pipeline's clock: every few frames it asks
// the controller to poll the wake deadline. On device loss it publishes an
// error event and stops.
type AudioCapture struct {
	controller *bus.Controller
	source     audio.Source
	cfg        AudioCaptureConfig

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	frames  uint64
}

// NewAudioCapture creates the capture worker.
func NewAudioCapture(controller *bus.Controller, source audio.Source, cfg AudioCaptureConfig) *AudioCapture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	return &AudioCapture{controller: controller, source: source, cfg: cfg}
}

// Name implements bus.Module.
func (w *AudioCapture) Name() string { return "audio_capture" }

// Initialize implements bus.Module.
func (w *AudioCapture) Initialize() error {
	if w.source == nil {
		return fmt.Errorf("audio_capture: no source configured")
	}
	return nil
}

// Start implements bus.Module. It opens the source and begins the capture
// goroutine.
func (w *AudioCapture) Start() error {
	ctx, cancel := context.WithCancel(context.Background())

	frames, err := w.source.Open(ctx, audio.Format{
		SampleRate: w.cfg.SampleRate,
		Channels:   w.cfg.Channels,
	}, w.cfg.ChunkSize)
	if err != nil {
		cancel()
		return fmt.Errorf("audio_capture: open source: %w", err)
	}

	w.mu.Lock()
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.captureLoop(ctx, frames)
	return nil
}

func (w *AudioCapture) captureLoop(ctx context.Context, frames <-chan audio.Frame) {
	defer close(w.done)
	var n uint64
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				// Device lost or source closed underneath us.
				if w.IsRunning() {
					slog.Warn("audio source closed, stopping capture")
					w.controller.Publish(bus.New(bus.AudioDeviceChanged, w.Name(),
						bus.ErrorPayload{Module: w.Name(), Err: "audio source closed"}))
					w.setRunning(false)
				}
				return
			}
			n++
			w.mu.Lock()
			w.frames = n
			w.mu.Unlock()

			w.controller.Publish(bus.New(bus.AudioFrameReady, w.Name(), bus.AudioFramePayload{
				PCM:        f.PCM,
				SampleRate: f.SampleRate,
				Channels:   f.Channels,
			}))
			if n%timeoutTickFrames == 0 {
				w.controller.CheckTimeout()
			}
		}
	}
}

// Stop implements bus.Module. Idempotent; waits briefly for the capture
// goroutine to drain.
func (w *AudioCapture) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			slog.Warn("audio capture goroutine did not drain, abandoning")
		}
	}
}

// Cleanup implements bus.Module.
func (w *AudioCapture) Cleanup() {
	if w.source != nil {
		if err := w.source.Close(); err != nil {
			slog.Warn("audio source close failed", "err", err)
		}
	}
}

// HandleEvent implements bus.Module. Capture is a pure producer.
func (w *AudioCapture) HandleEvent(ev bus.Event) {
	if ev.Type == bus.SystemStop {
		w.Stop()
	}
}

// IsRunning implements bus.Module.
func (w *AudioCapture) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *AudioCapture) setRunning(v bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = v
}

// FramesCaptured returns the number of frames published so far.
func (w *AudioCapture) FramesCaptured() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}
