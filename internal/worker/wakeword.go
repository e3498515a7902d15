package worker

import (
	"log/slog"
	"sync"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/trace"
	"github.com/brookwillow/kiwi/internal/voicestate"
	"github.com/brookwillow/kiwi/pkg/audio"
	"github.com/brookwillow/kiwi/pkg/provider/wakeword"
)

// Compile-time assertion that Wakeword satisfies bus.Module.
var _ bus.Module = (*Wakeword)(nil)

// Wakeword scans audio frames for the wake phrase. Frames are processed
// only while the machine is idle or freshly woken, so an active
// conversation cannot re-trigger itself. A detection mints the turn's
// message id and drives the state machine.
type Wakeword struct {
	controller *bus.Controller
	tracker    *trace.Tracker
	engine     wakeword.Provider

	mu         sync.Mutex
	running    bool
	frames     uint64
	detections uint64
}

// NewWakeword creates the wake-word worker.
func NewWakeword(controller *bus.Controller, tracker *trace.Tracker, engine wakeword.Provider) *Wakeword {
	return &Wakeword{controller: controller, tracker: tracker, engine: engine}
}

// Name implements bus.Module.
func (w *Wakeword) Name() string { return "wakeword" }

// Initialize implements bus.Module. A missing engine is allowed; the worker
// then stays passive so text-only and wake-disabled setups keep working.
func (w *Wakeword) Initialize() error {
	if w.engine == nil {
		slog.Warn("wakeword: no engine configured, detection disabled")
	}
	return nil
}

// Start implements bus.Module.
func (w *Wakeword) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = true
	return nil
}

// Stop implements bus.Module.
func (w *Wakeword) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

// Cleanup implements bus.Module.
func (w *Wakeword) Cleanup() {}

// IsRunning implements bus.Module.
func (w *Wakeword) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// HandleEvent implements bus.Module.
func (w *Wakeword) HandleEvent(ev bus.Event) {
	if !w.IsRunning() || w.engine == nil {
		return
	}
	switch ev.Type {
	case bus.AudioFrameReady:
		w.processFrame(ev)
	case bus.WakewordReset:
		w.engine.Reset()
		slog.Debug("wakeword engine reset")
	case bus.SystemStop:
		w.Stop()
	}
}

func (w *Wakeword) processFrame(ev bus.Event) {
	state := w.controller.CurrentState()
	if state != voicestate.StateIdle && state != voicestate.StateWakewordDetected {
		return
	}
	p, ok := ev.Payload.(bus.AudioFramePayload)
	if !ok {
		return
	}

	w.mu.Lock()
	w.frames++
	w.mu.Unlock()

	res, err := w.engine.Detect(audio.BytesToInt16(p.PCM))
	if err != nil {
		slog.Warn("wakeword detect failed", "err", err)
		return
	}
	if !res.Detected {
		return
	}

	w.mu.Lock()
	w.detections++
	w.mu.Unlock()

	// A detection opens a new conversation turn.
	msgID := w.tracker.CreateMessageID("voice", map[string]any{"keyword": res.Keyword})
	w.tracker.AddTrace(msgID, w.Name(), "wakeword",
		nil,
		map[string]any{"keyword": res.Keyword, "confidence": res.Confidence},
		nil,
	)

	slog.Info("wakeword detected", "keyword", res.Keyword, "confidence", res.Confidence, "msg_id", msgID)

	out := bus.New(bus.WakewordDetected, w.Name(), bus.WakePayload{
		Keyword:    res.Keyword,
		Confidence: res.Confidence,
	})
	out.MsgID = msgID
	w.controller.Publish(out)

	w.controller.HandleStateEvent(voicestate.EventWakewordTriggered)
}

// Stats returns detection counters for the status endpoint.
func (w *Wakeword) Stats() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"frames_processed": w.frames,
		"detections":       w.detections,
		"running":          w.running,
		"has_engine":       w.engine != nil,
	}
}
