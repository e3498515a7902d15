package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [Chain] failed or had an
// open breaker.
var ErrAllFailed = errors.New("all providers failed")

// ChainConfig configures the per-entry breaker of a [Chain].
type ChainConfig struct {
	Breaker BreakerConfig
}

type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Chain holds ordered instances of one provider type, each behind its own
// circuit breaker. Calls go to the first healthy entry; a failure or open
// breaker falls through to the next.
//
// Chain is safe for concurrent use once assembled.
type Chain[T any] struct {
	entries []chainEntry[T]
	cfg     ChainConfig
}

// NewChain creates a chain with primary as the first entry.
func NewChain[T any](primary T, name string, cfg ChainConfig) *Chain[T] {
	bc := cfg.Breaker
	bc.Name = name
	return &Chain[T]{
		entries: []chainEntry[T]{{name: name, value: primary, breaker: NewBreaker(bc)}},
		cfg:     cfg,
	}
}

// Add appends a fallback, tried after everything added before it.
func (c *Chain[T]) Add(name string, fallback T) {
	bc := c.cfg.Breaker
	bc.Name = name
	c.entries = append(c.entries, chainEntry[T]{name: name, value: fallback, breaker: NewBreaker(bc)})
}

// Do tries fn against each entry in order until one succeeds. Entries with an
// open breaker are skipped. Returns [ErrAllFailed] wrapping the last error
// when nothing succeeds.
func (c *Chain[T]) Do(fn func(T) error) error {
	var lastErr error
	for i := range c.entries {
		e := &c.entries[i]
		err := e.breaker.Do(func() error { return fn(e.value) })
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// DoWithResult tries fn against each entry until one succeeds and returns its
// result. Package-level because methods cannot add type parameters.
func DoWithResult[T any, R any](c *Chain[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range c.entries {
		e := &c.entries[i]
		var result R
		err := e.breaker.Do(func() error {
			var innerErr error
			result, innerErr = fn(e.value)
			return innerErr
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("skipping provider, circuit open", "provider", e.name)
		} else {
			slog.Warn("provider failed, trying next", "provider", e.name, "error", err)
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
