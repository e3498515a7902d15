// Package whisper implements asr.Provider with the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/brookwillow/kiwi/pkg/audio"
	"github.com/brookwillow/kiwi/pkg/provider/asr"
)

// Compile-time assertion that Engine satisfies asr.Provider.
var _ asr.Provider = (*Engine)(nil)

const modelSampleRate = 16000

// Engine runs whisper.cpp inference on a model loaded once at startup.
// Each Recognize call creates its own whisper context; the shared model is
// safe across goroutines but a context is not, so a mutex serialises
// inference. The pipeline enforces single-flight above this anyway.
type Engine struct {
	model    whisperlib.Model
	language string

	mu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguage sets the transcription language code (e.g. "zh", "en").
// Defaults to "auto".
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// New loads the whisper.cpp model from modelPath. The caller must call
// Close when the engine is no longer needed.
func New(modelPath string, opts ...Option) (*Engine, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	e := &Engine{model: model, language: "auto"}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Recognize implements asr.Provider.
func (e *Engine) Recognize(ctx context.Context, pcm []int16, sampleRate int) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}
	start := time.Now()

	if sampleRate != modelSampleRate && sampleRate > 0 {
		pcm = audio.BytesToInt16(audio.ResampleMono16(audio.Int16ToBytes(pcm), sampleRate, modelSampleRate))
	}
	samples := audio.Int16ToFloat32(pcm)

	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: set language failed, using default", "language", e.language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return asr.Result{
		Text:       strings.Join(parts, " "),
		Confidence: 1,
		Latency:    time.Since(start),
	}, nil
}
