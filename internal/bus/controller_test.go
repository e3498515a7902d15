package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/brookwillow/kiwi/internal/voicestate"
)

// stubModule records lifecycle calls and delivered events.
type stubModule struct {
	name string

	mu          sync.Mutex
	initialized bool
	started     bool
	stopped     bool
	cleaned     bool
	events      []Event

	initErr error
	panicOn EventType
}

func newStub(name string) *stubModule { return &stubModule{name: name} }

func (s *stubModule) Name() string { return s.name }

func (s *stubModule) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return s.initErr
}

func (s *stubModule) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *stubModule) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *stubModule) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleaned = true
}

func (s *stubModule) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

func (s *stubModule) HandleEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panicOn != "" && ev.Type == s.panicOn {
		panic("boom")
	}
	s.events = append(s.events, ev)
}

func (s *stubModule) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func startedController(t *testing.T, mods ...Module) *Controller {
	t.Helper()
	c := NewController()
	for _, m := range mods {
		if err := c.Register(m); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	if err := c.InitializeAll(voicestate.Config{EnableWakeword: false, MaxVADEndCount: 1}); err != nil {
		t.Fatalf("InitializeAll: %v", err)
	}
	if err := c.StartAll(); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	return c
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	t.Parallel()
	c := NewController()
	if err := c.Register(newStub("a")); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	err := c.Register(newStub("a"))
	if !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("duplicate Register error = %v, want ErrDuplicateModule", err)
	}
}

func TestStartAllBeforeInitializeFails(t *testing.T) {
	t.Parallel()
	c := NewController()
	if err := c.StartAll(); err == nil {
		t.Fatal("StartAll before InitializeAll succeeded")
	}
}

func TestPublishFansOutToModules(t *testing.T) {
	t.Parallel()
	a, b := newStub("a"), newStub("b")
	c := startedController(t, a, b)

	c.Publish(New(GUIUpdateText, "test", GUITextPayload{Kind: "system", Text: "hello"}))

	for _, m := range []*stubModule{a, b} {
		var found bool
		for _, ev := range m.received() {
			if ev.Type == GUIUpdateText {
				found = true
				if ev.ID == "" || ev.Timestamp.IsZero() {
					t.Errorf("module %q got event without id/timestamp", m.name)
				}
			}
		}
		if !found {
			t.Errorf("module %q did not receive the event", m.name)
		}
	}
}

func TestPanicInModuleIsIsolated(t *testing.T) {
	t.Parallel()
	bad := newStub("bad")
	bad.panicOn = GUIUpdateText
	good := newStub("good")
	c := startedController(t, bad, good)

	c.Publish(New(GUIUpdateText, "test", GUITextPayload{Kind: "system", Text: "hello"}))

	var found bool
	for _, ev := range good.received() {
		if ev.Type == GUIUpdateText {
			found = true
		}
	}
	if !found {
		t.Fatal("healthy module starved by a panicking sibling")
	}
	if c.Stats().Errors == 0 {
		t.Error("panic not counted in stats")
	}
}

func TestSubscribeDedupeByName(t *testing.T) {
	t.Parallel()
	c := startedController(t)

	var mu sync.Mutex
	count := 0
	fn := func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}
	c.Subscribe(GUIUpdateText, "counter", fn)
	c.Subscribe(GUIUpdateText, "counter", fn) // suppressed

	c.Publish(New(GUIUpdateText, "test", GUITextPayload{Kind: "system"}))

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("subscriber ran %d times, want 1", count)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	c := startedController(t)

	called := false
	c.Subscribe(GUIUpdateText, "x", func(Event) { called = true })
	c.Unsubscribe(GUIUpdateText, "x")
	c.Publish(New(GUIUpdateText, "test", GUITextPayload{}))
	if called {
		t.Fatal("unsubscribed callback still invoked")
	}
}

func TestAuditRingOverflowCountsDrops(t *testing.T) {
	t.Parallel()
	c := startedController(t)

	for i := 0; i < auditCap+10; i++ {
		c.Publish(New(GUIUpdateText, "test", GUITextPayload{}))
	}

	stats := c.Stats()
	if stats.EventsDropped < 10 {
		t.Fatalf("EventsDropped = %d, want at least 10", stats.EventsDropped)
	}
	recent := c.RecentEvents(auditCap + 100)
	if len(recent) != auditCap {
		t.Fatalf("audit retained %d events, want %d", len(recent), auditCap)
	}
}

func TestRecentEventsNewestLast(t *testing.T) {
	t.Parallel()
	c := startedController(t)

	c.Publish(New(GUIUpdateText, "first", GUITextPayload{}))
	c.Publish(New(GUIUpdateText, "second", GUITextPayload{}))

	recent := c.RecentEvents(2)
	if len(recent) != 2 {
		t.Fatalf("RecentEvents returned %d events", len(recent))
	}
	if recent[0].Source != "first" || recent[1].Source != "second" {
		t.Fatalf("order = %q, %q; want first, second", recent[0].Source, recent[1].Source)
	}
}

func TestHandleStateEventPublishesTransition(t *testing.T) {
	t.Parallel()
	m := newStub("watcher")
	c := startedController(t, m)

	res, ok := c.HandleStateEvent(voicestate.EventSpeechStart)
	if !ok {
		t.Fatalf("speech start rejected: %+v", res)
	}

	var sawChange bool
	for _, ev := range m.received() {
		if ev.Type == StateChanged {
			sawChange = true
			p := ev.Payload.(StateChangePayload)
			if p.To != string(voicestate.StateSpeechDetected) {
				t.Errorf("state change to %q, want speech_detected", p.To)
			}
		}
	}
	if !sawChange {
		t.Fatal("no state_changed event published")
	}
}

func TestStopAllReversesOrderAndIsIdempotent(t *testing.T) {
	t.Parallel()
	a, b := newStub("a"), newStub("b")
	c := startedController(t, a, b)

	c.StopAll()
	c.StopAll() // no-op

	for _, m := range []*stubModule{a, b} {
		m.mu.Lock()
		if !m.stopped || !m.cleaned {
			t.Errorf("module %q not fully torn down", m.name)
		}
		m.mu.Unlock()
	}
}

func TestMetricHooksInvoked(t *testing.T) {
	t.Parallel()
	c := NewController()
	var processed int
	c.SetMetricHooks(func() { processed++ }, nil)
	if err := c.InitializeAll(voicestate.Config{MaxVADEndCount: 1}); err != nil {
		t.Fatal(err)
	}
	if err := c.StartAll(); err != nil {
		t.Fatal(err)
	}
	before := processed
	c.Publish(New(GUIUpdateText, "test", GUITextPayload{}))
	if processed <= before {
		t.Fatalf("processed hook not invoked")
	}
}
