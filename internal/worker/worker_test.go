package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/voicestate"
)

// newBus builds an initialised, started controller with no modules. Workers
// under test are driven by calling HandleEvent directly.
func newBus(t *testing.T, wake bool, maxEnds int) *bus.Controller {
	t.Helper()
	c := bus.NewController()
	if err := c.InitializeAll(voicestate.Config{
		EnableWakeword:  wake,
		WakewordTimeout: 30 * time.Second,
		MaxVADEndCount:  maxEnds,
	}); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if err := c.StartAll(); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	return c
}

// eventLog captures published events of selected types.
type eventLog struct {
	mu     sync.Mutex
	events []bus.Event
}

func (l *eventLog) watch(c *bus.Controller, types ...bus.EventType) {
	for _, typ := range types {
		c.Subscribe(typ, "test_log", func(ev bus.Event) {
			l.mu.Lock()
			l.events = append(l.events, ev)
			l.mu.Unlock()
		})
	}
}

func (l *eventLog) ofType(t bus.EventType) []bus.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []bus.Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
