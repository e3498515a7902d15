package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/observe"
	"github.com/brookwillow/kiwi/internal/trace"
	"github.com/brookwillow/kiwi/internal/voicestate"
	"github.com/brookwillow/kiwi/pkg/audio"
	"github.com/brookwillow/kiwi/pkg/provider/asr"
)

// Compile-time assertion that ASR satisfies bus.Module.
var _ bus.Module = (*ASR)(nil)

// ASRStats is a snapshot of recognition counters.
type ASRStats struct {
	Total      uint64
	Successful uint64
	Failed     uint64
	Skipped    uint64
	AvgLatency time.Duration
}

// ASR runs speech recognition on completed utterances. At most one
// recognition is in flight: a speech end arriving while the engine is busy
// is skipped with a log line rather than queued, since a stale second
// transcript has no consumer. Inference runs on its own goroutine, never on
// the bus.
type ASR struct {
	controller *bus.Controller
	tracker    *trace.Tracker
	engine     asr.Provider
	metrics    *observe.Metrics
	inflight   *semaphore.Weighted

	mu           sync.Mutex
	running      bool
	wg           sync.WaitGroup
	stats        ASRStats
	totalLatency time.Duration
}

// NewASR creates the ASR worker.
func NewASR(controller *bus.Controller, tracker *trace.Tracker, engine asr.Provider, metrics *observe.Metrics) *ASR {
	return &ASR{
		controller: controller,
		tracker:    tracker,
		engine:     engine,
		metrics:    metrics,
		inflight:   semaphore.NewWeighted(1),
	}
}

// Name implements bus.Module.
func (w *ASR) Name() string { return "asr" }

// Initialize implements bus.Module.
func (w *ASR) Initialize() error {
	if w.engine == nil {
		slog.Warn("asr: no engine configured, recognition disabled")
	}
	return nil
}

// Start implements bus.Module.
func (w *ASR) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = true
	return nil
}

// Stop implements bus.Module. Waits up to five seconds for an in-flight
// recognition, then abandons it.
func (w *ASR) Stop() {
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
		slog.Warn("asr recognition did not finish, abandoning")
	}
}

// Cleanup implements bus.Module.
func (w *ASR) Cleanup() {}

// IsRunning implements bus.Module.
func (w *ASR) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// HandleEvent implements bus.Module.
func (w *ASR) HandleEvent(ev bus.Event) {
	if !w.IsRunning() || w.engine == nil {
		return
	}
	switch ev.Type {
	case bus.VADSpeechEnd:
		w.onSpeechEnd(ev)
	case bus.SystemStop:
		w.Stop()
	}
}

func (w *ASR) onSpeechEnd(ev bus.Event) {
	p, ok := ev.Payload.(bus.VADPayload)
	if !ok || len(p.Audio) == 0 {
		return
	}

	if !w.inflight.TryAcquire(1) {
		w.mu.Lock()
		w.stats.Skipped++
		w.mu.Unlock()
		slog.Info("recognition in flight, segment skipped", "msg_id", ev.MsgID)
		return
	}

	w.mu.Lock()
	w.stats.Total++
	w.mu.Unlock()

	samples := audio.BytesToInt16(p.Audio)
	msgID := ev.MsgID

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.inflight.Release(1)
		w.recognize(msgID, samples)
	}()
}

func (w *ASR) recognize(msgID string, samples []int16) {
	start := bus.New(bus.ASRStart, w.Name(), bus.ASRPayload{IsPartial: true})
	start.MsgID = msgID
	w.controller.Publish(start)
	w.controller.HandleStateEvent(voicestate.EventRecognitionStart)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	began := time.Now()
	res, err := w.engine.Recognize(ctx, samples, 16000)
	latency := time.Since(began)
	w.metrics.RecordASR(ctx, latency, err == nil)

	if err != nil {
		w.mu.Lock()
		w.stats.Failed++
		w.mu.Unlock()

		slog.Warn("recognition failed", "msg_id", msgID, "err", err)
		w.tracker.AddTrace(msgID, w.Name(), "asr_failed", nil, map[string]any{"error": err.Error()}, nil)

		out := bus.New(bus.ASRFailed, w.Name(), bus.ASRPayload{Err: err.Error(), Latency: latency})
		out.MsgID = msgID
		w.controller.Publish(out)
		w.controller.HandleStateEvent(voicestate.EventRecognitionFailed)
		return
	}

	w.mu.Lock()
	w.stats.Successful++
	w.totalLatency += latency
	w.mu.Unlock()

	slog.Info("recognition done", "msg_id", msgID, "text", res.Text, "latency_ms", latency.Milliseconds())
	w.tracker.UpdateQuery(msgID, res.Text)
	w.tracker.AddTrace(msgID, w.Name(), "asr_success",
		nil,
		map[string]any{"text": res.Text, "confidence": res.Confidence, "latency_ms": latency.Milliseconds()},
		nil,
	)

	out := bus.New(bus.ASRSuccess, w.Name(), bus.ASRPayload{
		Text:       res.Text,
		Confidence: res.Confidence,
		Latency:    latency,
	})
	out.MsgID = msgID
	w.controller.Publish(out)
	w.controller.HandleStateEvent(voicestate.EventRecognitionOK)
}

// Stats returns recognition counters for the status endpoint.
func (w *ASR) Stats() ASRStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	if s.Successful > 0 {
		s.AvgLatency = w.totalLatency / time.Duration(s.Successful)
	}
	return s
}
