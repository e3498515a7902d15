// Package command implements tts.Provider by shelling out to a system
// speech command such as macOS "say" or espeak-ng.
package command

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/brookwillow/kiwi/pkg/provider/tts"
)

// Compile-time assertion that Engine satisfies tts.Provider.
var _ tts.Provider = (*Engine)(nil)

// Engine runs one external process per utterance. The text is always the
// final argument after Args.
type Engine struct {
	binary string
	args   []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithArgs sets extra arguments placed before the spoken text, e.g.
// voice and rate flags.
func WithArgs(args ...string) Option {
	return func(e *Engine) { e.args = args }
}

// New creates an Engine for the given binary. Returns an error when the
// binary is not on PATH so startup fails early instead of every utterance.
func New(binary string, opts ...Option) (*Engine, error) {
	if binary == "" {
		binary = "say"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("tts command: %w", err)
	}
	e := &Engine{binary: binary}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Speak implements tts.Provider.
func (e *Engine) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), e.args...), text)
	cmd := exec.CommandContext(ctx, e.binary, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tts command %q: %w", e.binary, err)
	}
	return nil
}
