package worker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/trace"
	"github.com/brookwillow/kiwi/internal/voicestate"
	"github.com/brookwillow/kiwi/pkg/audio"
	"github.com/brookwillow/kiwi/pkg/provider/vad"
)

// Compile-time assertion that VAD satisfies bus.Module.
var _ bus.Module = (*VAD)(nil)

// VADConfig configures the VAD worker's gating around the engine.
type VADConfig struct {
	// FrameSize is the number of samples handed to the engine per call.
	// Default 480 (30 ms at 16 kHz).
	FrameSize int

	// SampleRate of the incoming frames. Default 16000.
	SampleRate int

	// WakeDelay suppresses engine output right after a wake detection so
	// the wake phrase cannot trigger speech. Default 500ms.
	WakeDelay time.Duration

	// MinSpeechDuration drops utterances shorter than this before
	// publication. Segments exactly at the threshold are kept.
	MinSpeechDuration time.Duration

	// MinVolume drops utterances whose RMS falls below this threshold.
	MinVolume float64

	// WakeGated, when true, keeps the microphone closed while the machine
	// is idle so only a wake detection opens it. Mirrors
	// state.enable_wakeword.
	WakeGated bool
}

func (c *VADConfig) applyDefaults() {
	if c.FrameSize <= 0 {
		c.FrameSize = 480
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.WakeDelay <= 0 {
		c.WakeDelay = 500 * time.Millisecond
	}
}

// VAD segments the audio stream into utterances. It accumulates incoming
// frames into fixed-size engine frames, forwards boundaries to the state
// machine and publishes the assembled utterance PCM on speech end. The
// worker only listens while a conversation is in progress.
type VAD struct {
	controller *bus.Controller
	tracker    *trace.Tracker
	engine     vad.Provider
	cfg        VADConfig

	mu       sync.Mutex
	running  bool
	buffer   []int16
	wakeAt   time.Time
	msgID    string
	segments uint64
	dropped  uint64
	speaking bool
}

// NewVAD creates the VAD worker.
func NewVAD(controller *bus.Controller, tracker *trace.Tracker, engine vad.Provider, cfg VADConfig) *VAD {
	cfg.applyDefaults()
	return &VAD{controller: controller, tracker: tracker, engine: engine, cfg: cfg}
}

// Name implements bus.Module.
func (w *VAD) Name() string { return "vad" }

// Initialize implements bus.Module.
func (w *VAD) Initialize() error {
	if w.engine == nil {
		slog.Warn("vad: no engine configured, segmentation disabled")
	}
	return nil
}

// Start implements bus.Module.
func (w *VAD) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = true
	return nil
}

// Stop implements bus.Module.
func (w *VAD) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.buffer = nil
	w.speaking = false
}

// Cleanup implements bus.Module.
func (w *VAD) Cleanup() {}

// IsRunning implements bus.Module.
func (w *VAD) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// HandleEvent implements bus.Module.
func (w *VAD) HandleEvent(ev bus.Event) {
	if !w.IsRunning() || w.engine == nil {
		return
	}
	switch ev.Type {
	case bus.AudioFrameReady:
		w.onAudioFrame(ev)
	case bus.WakewordDetected:
		w.mu.Lock()
		w.wakeAt = time.Now()
		w.msgID = ev.MsgID
		w.buffer = nil
		w.speaking = false
		w.mu.Unlock()
		w.engine.OnWakewordDetected()
	case bus.SystemStop:
		w.Stop()
	}
}

// listens reports whether VAD consumes audio in machine state s. Without
// wake gating the idle state counts as listening, since there is no wake
// detection to open the microphone.
func (w *VAD) listens(s voicestate.State) bool {
	switch s {
	case voicestate.StateWakewordDetected, voicestate.StateListening,
		voicestate.StateSpeechDetected, voicestate.StateRecognizing:
		return true
	case voicestate.StateIdle:
		return !w.cfg.WakeGated
	}
	return false
}

func (w *VAD) onAudioFrame(ev bus.Event) {
	if !w.listens(w.controller.CurrentState()) {
		return
	}
	p, ok := ev.Payload.(bus.AudioFramePayload)
	if !ok {
		return
	}

	w.mu.Lock()
	if !w.wakeAt.IsZero() && time.Since(w.wakeAt) < w.cfg.WakeDelay {
		w.mu.Unlock()
		return
	}
	w.buffer = append(w.buffer, audio.BytesToInt16(p.PCM)...)
	var frames [][]int16
	for len(w.buffer) >= w.cfg.FrameSize {
		frames = append(frames, w.buffer[:w.cfg.FrameSize])
		w.buffer = w.buffer[w.cfg.FrameSize:]
	}
	w.mu.Unlock()

	for _, frame := range frames {
		res, err := w.engine.ProcessFrame(frame)
		if err != nil {
			slog.Warn("vad frame failed", "err", err)
			continue
		}
		w.handleResult(res)
	}
}

func (w *VAD) handleResult(res vad.Result) {
	switch res.Event {
	case vad.EventSpeechStart:
		w.mu.Lock()
		if w.speaking {
			w.mu.Unlock()
			return
		}
		w.speaking = true
		msgID := w.ensureMsgIDLocked()
		w.mu.Unlock()

		w.tracker.AddTrace(msgID, w.Name(), "speech_start", nil, nil, nil)
		out := bus.New(bus.VADSpeechStart, w.Name(), bus.VADPayload{IsSpeech: true})
		out.MsgID = msgID
		w.controller.Publish(out)
		w.controller.HandleStateEvent(voicestate.EventSpeechStart)

	case vad.EventSpeechEnd:
		w.mu.Lock()
		w.speaking = false
		msgID := w.msgID
		w.mu.Unlock()

		if !w.acceptSegment(res) {
			w.mu.Lock()
			w.dropped++
			w.mu.Unlock()
			slog.Debug("vad segment dropped",
				"duration_ms", res.Duration.Milliseconds(),
				"rms", audio.RMS(res.Audio),
			)
			return
		}

		w.mu.Lock()
		w.segments++
		w.mu.Unlock()

		w.tracker.AddTrace(msgID, w.Name(), "speech_end",
			nil,
			map[string]any{"duration_ms": res.Duration.Milliseconds(), "samples": len(res.Audio)},
			nil,
		)
		out := bus.New(bus.VADSpeechEnd, w.Name(), bus.VADPayload{
			IsSpeech: false,
			Duration: res.Duration,
			Audio:    audio.Int16ToBytes(res.Audio),
		})
		out.MsgID = msgID
		w.controller.Publish(out)
		w.controller.HandleStateEvent(voicestate.EventSpeechEnd)

		// The turn id is spent once its speech end is published; the next
		// utterance mints or inherits its own.
		w.mu.Lock()
		if w.msgID == msgID {
			w.msgID = ""
		}
		w.mu.Unlock()
	}
}

// acceptSegment applies the duration and volume gates. A segment exactly at
// the minimum duration passes.
func (w *VAD) acceptSegment(res vad.Result) bool {
	if w.cfg.MinSpeechDuration > 0 && res.Duration < w.cfg.MinSpeechDuration {
		return false
	}
	if w.cfg.MinVolume > 0 && audio.RMS(res.Audio) < w.cfg.MinVolume {
		return false
	}
	return true
}

// ensureMsgIDLocked mints a turn id when none is pending, either because the
// wake word is disabled or because the previous utterance already spent its
// id. Must be called with w.mu held.
func (w *VAD) ensureMsgIDLocked() string {
	if w.msgID == "" {
		w.msgID = w.tracker.CreateMessageID("voice", nil)
	}
	return w.msgID
}

// Stats returns segmentation counters for the status endpoint.
func (w *VAD) Stats() map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return map[string]any{
		"segments_published": w.segments,
		"segments_dropped":   w.dropped,
		"running":            w.running,
		"has_engine":         w.engine != nil,
	}
}
