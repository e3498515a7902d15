package worker

import (
	"testing"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/pkg/audio"
	audiomock "github.com/brookwillow/kiwi/pkg/audio/mock"
)

func TestAudioCapturePublishesFrames(t *testing.T) {
	t.Parallel()
	c := newBus(t, false, 1)
	src := audiomock.NewSource()

	var log eventLog
	log.watch(c, bus.AudioFrameReady)

	w := NewAudioCapture(c, src, AudioCaptureConfig{SampleRate: 16000, Channels: 1, ChunkSize: 1024})
	if err := w.Initialize(); err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	src.PushPCM(audio.Int16ToBytes(loudSamples(1024)))
	src.PushPCM(audio.Int16ToBytes(loudSamples(1024)))
	waitFor(t, "frames published", func() bool { return w.FramesCaptured() == 2 })

	frames := log.ofType(bus.AudioFrameReady)
	if len(frames) != 2 {
		t.Fatalf("got %d frame events, want 2", len(frames))
	}
	p := frames[0].Payload.(bus.AudioFramePayload)
	if p.SampleRate != 16000 || len(p.PCM) != 2048 {
		t.Fatalf("frame payload = %d bytes at %d Hz", len(p.PCM), p.SampleRate)
	}
}

func TestAudioCaptureStopsOnSourceClose(t *testing.T) {
	t.Parallel()
	c := newBus(t, false, 1)
	src := audiomock.NewSource()

	var log eventLog
	log.watch(c, bus.AudioDeviceChanged)

	w := NewAudioCapture(c, src, AudioCaptureConfig{})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	src.Close()
	waitFor(t, "device loss", func() bool { return len(log.ofType(bus.AudioDeviceChanged)) == 1 })
	if w.IsRunning() {
		t.Fatal("worker still running after source loss")
	}
}

func TestAudioCaptureRequiresSource(t *testing.T) {
	t.Parallel()
	c := newBus(t, false, 1)
	w := NewAudioCapture(c, nil, AudioCaptureConfig{})
	if err := w.Initialize(); err == nil {
		t.Fatal("nil source accepted")
	}
}
