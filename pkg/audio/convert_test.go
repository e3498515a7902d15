package audio

import (
	"bytes"
	"math"
	"testing"
)

func TestBytesToInt16RoundTrip(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	got := BytesToInt16(Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("round trip length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestBytesToInt16DropsTrailingOddByte(t *testing.T) {
	t.Parallel()
	pcm := append(Int16ToBytes([]int16{100, -200}), 0x7f)
	got := BytesToInt16(pcm)
	if len(got) != 2 || got[0] != 100 || got[1] != -200 {
		t.Fatalf("decoded = %v", got)
	}
}

func TestInt16ToFloat32Scaling(t *testing.T) {
	t.Parallel()
	got := Int16ToFloat32([]int16{-32768, 0, 16384})
	want := []float32{-1, 0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v", got)
	}
	// A constant signal has an RMS equal to its amplitude.
	samples := []int16{1000, -1000, 1000, -1000}
	if got := RMS(samples); math.Abs(got-1000) > 1e-9 {
		t.Fatalf("RMS = %v, want 1000", got)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()
	if got := Duration(16000, 16000); got != 1000 {
		t.Fatalf("one second of samples = %dms", got)
	}
	if got := Duration(8000, 16000); got != 500 {
		t.Fatalf("half second = %dms", got)
	}
	if got := Duration(16000, 0); got != 0 {
		t.Fatalf("zero rate = %dms, want 0", got)
	}
}

func TestResampleMono16SameRateUnchanged(t *testing.T) {
	t.Parallel()
	pcm := Int16ToBytes([]int16{1, 2, 3, 4})
	if got := ResampleMono16(pcm, 16000, 16000); !bytes.Equal(got, pcm) {
		t.Fatal("same-rate resample modified the buffer")
	}
}

func TestResampleMono16Downsample(t *testing.T) {
	t.Parallel()
	src := make([]int16, 160)
	for i := range src {
		src[i] = 2000
	}
	out := BytesToInt16(ResampleMono16(Int16ToBytes(src), 16000, 8000))
	if len(out) != 80 {
		t.Fatalf("downsampled to %d samples, want 80", len(out))
	}
	// A constant signal survives interpolation unchanged.
	for i, s := range out {
		if s != 2000 {
			t.Fatalf("sample %d = %d, want 2000", i, s)
		}
	}
}

func TestResampleMono16Upsample(t *testing.T) {
	t.Parallel()
	out := BytesToInt16(ResampleMono16(Int16ToBytes([]int16{0, 1000}), 8000, 16000))
	if len(out) != 4 {
		t.Fatalf("upsampled to %d samples, want 4", len(out))
	}
	if out[0] != 0 || out[2] != 1000 {
		t.Fatalf("source samples lost: %v", out)
	}
	if out[1] != 500 {
		t.Fatalf("interpolated sample = %d, want 500", out[1])
	}
}

func TestStereoToMonoAverages(t *testing.T) {
	t.Parallel()
	stereo := Int16ToBytes([]int16{100, 300, -32768, -32768, 32767, 32767})
	mono := BytesToInt16(StereoToMono(stereo))
	want := []int16{200, -32768, 32767}
	if len(mono) != len(want) {
		t.Fatalf("mono has %d samples, want %d", len(mono), len(want))
	}
	for i := range want {
		if mono[i] != want[i] {
			t.Fatalf("frame %d = %d, want %d", i, mono[i], want[i])
		}
	}
}
