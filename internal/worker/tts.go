package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/pkg/provider/tts"
)

// debounceWindow suppresses a repeated identical utterance. Agents routinely
// publish the same confirmation twice in quick succession (once for the GUI,
// once for speech) and the user should hear it once.
const debounceWindow = time.Second

// Compile-time assertion that TTS satisfies bus.Module.
var _ bus.Module = (*TTS)(nil)

// TTSConfig configures the speech output worker.
type TTSConfig struct {
	// Evaluation silences the speaker entirely. Requests are still counted
	// and the start/end events still fire, so scripted runs exercise the
	// full pipeline without audio hardware.
	Evaluation bool

	// SpeakTimeout bounds one synthesis call. Default 30s.
	SpeakTimeout time.Duration
}

// TTS speaks agent responses. Synthesis runs on its own goroutine so a slow
// speaker never blocks event delivery; an identical text within one second of
// the previous request is dropped.
type TTS struct {
	controller *bus.Controller
	engine     tts.Provider
	cfg        TTSConfig

	mu        sync.Mutex
	running   bool
	wg        sync.WaitGroup
	lastText  string
	lastAt    time.Time
	requests  uint64
	spoken    uint64
	debounced uint64
	failures  uint64
}

// NewTTS creates the speech output worker.
func NewTTS(controller *bus.Controller, engine tts.Provider, cfg TTSConfig) *TTS {
	if cfg.SpeakTimeout <= 0 {
		cfg.SpeakTimeout = 30 * time.Second
	}
	return &TTS{controller: controller, engine: engine, cfg: cfg}
}

// Name implements bus.Module.
func (w *TTS) Name() string { return "tts" }

// Initialize implements bus.Module.
func (w *TTS) Initialize() error {
	if w.engine == nil && !w.cfg.Evaluation {
		slog.Warn("tts: no engine configured, speech output disabled")
	}
	return nil
}

// Start implements bus.Module.
func (w *TTS) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = true
	return nil
}

// Stop implements bus.Module. Waits briefly for an in-flight utterance.
func (w *TTS) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("tts utterance did not finish, abandoning")
	}
}

// Cleanup implements bus.Module.
func (w *TTS) Cleanup() {}

// IsRunning implements bus.Module.
func (w *TTS) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// HandleEvent implements bus.Module.
func (w *TTS) HandleEvent(ev bus.Event) {
	if !w.IsRunning() {
		return
	}
	switch ev.Type {
	case bus.TTSSpeakRequest:
		w.onSpeakRequest(ev)
	case bus.SystemStop:
		w.Stop()
	}
}

func (w *TTS) onSpeakRequest(ev bus.Event) {
	p, ok := ev.Payload.(bus.TTSPayload)
	if !ok || p.Text == "" {
		return
	}

	w.mu.Lock()
	w.requests++
	if p.Text == w.lastText && time.Since(w.lastAt) < debounceWindow {
		w.debounced++
		w.mu.Unlock()
		slog.Debug("tts request debounced", "text", p.Text)
		return
	}
	w.lastText = p.Text
	w.lastAt = time.Now()
	w.mu.Unlock()

	msgID := ev.MsgID
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.speak(msgID, p.Text)
	}()
}

func (w *TTS) speak(msgID, text string) {
	start := bus.New(bus.TTSSpeakStart, w.Name(), bus.TTSPayload{Text: text})
	start.MsgID = msgID
	w.controller.Publish(start)

	if w.cfg.Evaluation || w.engine == nil {
		w.finish(msgID, text, nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SpeakTimeout)
	defer cancel()
	w.finish(msgID, text, w.engine.Speak(ctx, text))
}

func (w *TTS) finish(msgID, text string, err error) {
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()

		slog.Warn("tts speak failed", "err", err, "msg_id", msgID)
		out := bus.New(bus.TTSSpeakError, w.Name(), bus.TTSPayload{Text: text, Err: err.Error()})
		out.MsgID = msgID
		w.controller.Publish(out)
		return
	}

	w.mu.Lock()
	w.spoken++
	w.mu.Unlock()

	out := bus.New(bus.TTSSpeakEnd, w.Name(), bus.TTSPayload{Text: text})
	out.MsgID = msgID
	w.controller.Publish(out)
}

// Stats returns speech output counters for the status endpoint.
func (w *TTS) Stats() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"requests":   w.requests,
		"spoken":     w.spoken,
		"debounced":  w.debounced,
		"failures":   w.failures,
		"running":    w.running,
		"evaluation": w.cfg.Evaluation,
	}
}
