package worker

import (
	"testing"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/trace"
	"github.com/brookwillow/kiwi/internal/voicestate"
	wwmock "github.com/brookwillow/kiwi/pkg/provider/wakeword/mock"
)

func TestWakewordDetectionOpensTurn(t *testing.T) {
	t.Parallel()
	c := newBus(t, true, 2)
	tk := trace.NewTracker(t.TempDir())
	eng := wwmock.NewEngine()
	eng.Trigger("你好小车", 0.95)

	var log eventLog
	log.watch(c, bus.WakewordDetected, bus.StateChanged)

	w := NewWakeword(c, tk, eng)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.HandleEvent(audioFrame(loudSamples(8)))

	detected := log.ofType(bus.WakewordDetected)
	if len(detected) != 1 {
		t.Fatalf("got %d detections, want 1", len(detected))
	}
	ev := detected[0]
	if ev.MsgID == "" {
		t.Fatal("detection carries no turn id")
	}
	if p := ev.Payload.(bus.WakePayload); p.Keyword != "你好小车" {
		t.Errorf("keyword = %q", p.Keyword)
	}
	tr, ok := tk.GetTrace(ev.MsgID)
	if !ok || len(tr.Stages) == 0 {
		t.Fatal("detection not traced")
	}
	if got := c.CurrentState(); got != voicestate.StateWakewordDetected {
		t.Errorf("state after detection = %q", got)
	}
}

func TestWakewordIgnoredMidConversation(t *testing.T) {
	t.Parallel()
	c := newBus(t, true, 2)
	tk := trace.NewTracker(t.TempDir())
	eng := wwmock.NewEngine()

	w := NewWakeword(c, tk, eng)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	// Move the machine into an active conversation.
	c.HandleStateEvent(voicestate.EventWakewordTriggered)
	c.HandleStateEvent(voicestate.EventSpeechStart)

	w.HandleEvent(audioFrame(loudSamples(8)))
	if eng.DetectCalls() != 0 {
		t.Fatalf("engine ran %d times during conversation, want 0", eng.DetectCalls())
	}
}

func TestWakewordResetForwardedToEngine(t *testing.T) {
	t.Parallel()
	c := newBus(t, true, 1)
	tk := trace.NewTracker(t.TempDir())
	eng := wwmock.NewEngine()

	w := NewWakeword(c, tk, eng)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.HandleEvent(bus.New(bus.WakewordReset, "state_machine", bus.EmptyPayload{}))
	if eng.ResetCalls() != 1 {
		t.Fatalf("engine resets = %d, want 1", eng.ResetCalls())
	}
}

func TestWakewordPassiveWithoutEngine(t *testing.T) {
	t.Parallel()
	c := newBus(t, true, 1)
	tk := trace.NewTracker(t.TempDir())

	w := NewWakeword(c, tk, nil)
	if err := w.Initialize(); err != nil {
		t.Fatalf("nil engine must initialise cleanly: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.HandleEvent(audioFrame(loudSamples(8))) // must not panic
	if w.Stats()["has_engine"].(bool) {
		t.Fatal("stats claim an engine exists")
	}
}
