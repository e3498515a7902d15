package orchestrator

import (
	"context"
	"sync"

	"github.com/brookwillow/kiwi/internal/bus"
)

// Compile-time assertion that Module satisfies bus.Module.
var _ bus.Module = (*Module)(nil)

// Module adapts the orchestrator to the bus: every successful recognition is
// routed. Routing runs on its own goroutine because a model-backed decision
// can take seconds and event delivery must not stall.
type Module struct {
	orch *Orchestrator

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewModule wraps orch as a bus module.
func NewModule(orch *Orchestrator) *Module {
	return &Module{orch: orch}
}

// Name implements bus.Module.
func (m *Module) Name() string { return "orchestrator" }

// Initialize implements bus.Module.
func (m *Module) Initialize() error { return nil }

// Start implements bus.Module.
func (m *Module) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

// Stop implements bus.Module.
func (m *Module) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// Cleanup implements bus.Module.
func (m *Module) Cleanup() { m.wg.Wait() }

// IsRunning implements bus.Module.
func (m *Module) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// HandleEvent implements bus.Module.
func (m *Module) HandleEvent(ev bus.Event) {
	if !m.IsRunning() || ev.Type != bus.ASRSuccess {
		return
	}
	p, ok := ev.Payload.(bus.ASRPayload)
	if !ok || p.Text == "" {
		return
	}
	msgID := ev.MsgID
	text := p.Text
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.orch.ProcessQuery(context.Background(), msgID, text)
	}()
}
