package vad

import (
	"testing"
	"time"
)

// 10ms frames at 16kHz.
const testFrame = 160

func loudFrame() []int16 {
	f := make([]int16, testFrame)
	for i := range f {
		f[i] = 3000
	}
	return f
}

func quietFrame() []int16 { return make([]int16, testFrame) }

func newTestEnergy() *Energy {
	return NewEnergy(EnergyConfig{
		SampleRate:   16000,
		RMSThreshold: 500,
		StartFrames:  2,
		EndSilence:   30 * time.Millisecond,
	})
}

func process(t *testing.T, e *Energy, frame []int16) Result {
	t.Helper()
	res, err := e.ProcessFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestEnergyRisingEdgeNeedsStartFrames(t *testing.T) {
	t.Parallel()
	e := newTestEnergy()

	res := process(t, e, loudFrame())
	if !res.IsSpeech || res.Event != EventNone {
		t.Fatalf("first loud frame = %+v, want speech without event", res)
	}
	res = process(t, e, loudFrame())
	if res.Event != EventSpeechStart {
		t.Fatalf("second loud frame event = %v, want start", res.Event)
	}
}

func TestEnergyQuietFrameBreaksRun(t *testing.T) {
	t.Parallel()
	e := newTestEnergy()

	process(t, e, loudFrame())
	process(t, e, quietFrame())
	// The streak restarted, so this loud frame is the first of a new run.
	if res := process(t, e, loudFrame()); res.Event == EventSpeechStart {
		t.Fatal("isolated loud frames triggered a start")
	}
}

func TestEnergyUtteranceClosedBySilence(t *testing.T) {
	t.Parallel()
	e := newTestEnergy()

	process(t, e, loudFrame())
	process(t, e, loudFrame())

	// Two quiet frames keep the utterance open, the third reaches EndSilence.
	for i := 0; i < 2; i++ {
		if res := process(t, e, quietFrame()); res.Event != EventSpeechContinue {
			t.Fatalf("quiet frame %d event = %v, want continue", i, res.Event)
		}
	}
	res := process(t, e, quietFrame())
	if res.Event != EventSpeechEnd {
		t.Fatalf("event = %v, want end", res.Event)
	}
	// The silent tail is trimmed: 2 loud frames survive out of 5 buffered.
	if len(res.Audio) != 2*testFrame {
		t.Fatalf("utterance has %d samples, want %d", len(res.Audio), 2*testFrame)
	}
	if res.Duration != 20*time.Millisecond {
		t.Fatalf("duration = %v, want 20ms", res.Duration)
	}
}

func TestEnergyContinueResetsSilence(t *testing.T) {
	t.Parallel()
	e := newTestEnergy()

	process(t, e, loudFrame())
	process(t, e, loudFrame())
	process(t, e, quietFrame())
	process(t, e, quietFrame())
	// Speech resumes just before the silence budget runs out.
	if res := process(t, e, loudFrame()); res.Event != EventSpeechContinue {
		t.Fatal("loud frame mid-utterance did not continue")
	}
	for i := 0; i < 2; i++ {
		if res := process(t, e, quietFrame()); res.Event == EventSpeechEnd {
			t.Fatalf("utterance closed after %d quiet frames, silence was not reset", i+1)
		}
	}
}

func TestEnergyDetectorReusableAfterEnd(t *testing.T) {
	t.Parallel()
	e := newTestEnergy()

	process(t, e, loudFrame())
	process(t, e, loudFrame())
	for i := 0; i < 3; i++ {
		process(t, e, quietFrame())
	}

	// The next utterance starts from a clean slate.
	process(t, e, loudFrame())
	res := process(t, e, loudFrame())
	if res.Event != EventSpeechStart {
		t.Fatalf("second utterance event = %v, want start", res.Event)
	}
}

func TestEnergyWakewordResetDropsBuffer(t *testing.T) {
	t.Parallel()
	e := newTestEnergy()

	process(t, e, loudFrame())
	process(t, e, loudFrame())
	e.OnWakewordDetected()

	if res := process(t, e, quietFrame()); res.IsSpeech || res.Event != EventNone {
		t.Fatalf("after reset quiet frame = %+v, want idle", res)
	}
	process(t, e, loudFrame())
	res := process(t, e, loudFrame())
	if res.Event != EventSpeechStart {
		t.Fatal("detector did not rearm after wake reset")
	}
}

func TestEnergyDefaultThreshold(t *testing.T) {
	t.Parallel()
	e := NewEnergy(EnergyConfig{})

	soft := make([]int16, testFrame)
	for i := range soft {
		soft[i] = 400
	}
	for i := 0; i < 5; i++ {
		if res := process(t, e, soft); res.IsSpeech {
			t.Fatal("sub-threshold frame counted as speech")
		}
	}
	process(t, e, loudFrame())
	if res := process(t, e, loudFrame()); res.Event != EventSpeechStart {
		t.Fatalf("default config event = %v, want start", res.Event)
	}
}
