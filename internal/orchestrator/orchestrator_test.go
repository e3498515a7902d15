package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/brookwillow/kiwi/internal/agent"
	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/session"
	"github.com/brookwillow/kiwi/internal/trace"
	llmmock "github.com/brookwillow/kiwi/pkg/provider/llm/mock"
)

// fakeDecider is a scriptable primary decider.
type fakeDecider struct {
	dec   Decision
	err   error
	calls int
}

func (f *fakeDecider) Name() string { return "fake" }

func (f *fakeDecider) Decide(ctx context.Context, query string, roster []agent.Info) (Decision, error) {
	f.calls++
	return f.dec, f.err
}

type fixture struct {
	controller *bus.Controller
	sessions   *session.Manager
	tracker    *trace.Tracker
	orch       *Orchestrator

	mu         sync.Mutex
	dispatches []bus.Event
}

func newFixture(t *testing.T, primary Decider) *fixture {
	t.Helper()
	f := &fixture{
		controller: bus.NewController(),
		sessions:   session.NewManager(),
		tracker:    trace.NewTracker(t.TempDir()),
	}
	registry := agent.NewRegistry()
	if err := agent.RegisterBuiltins(registry, nil); err != nil {
		t.Fatal(err)
	}
	f.controller.Subscribe(bus.AgentDispatch, "test", func(ev bus.Event) {
		f.mu.Lock()
		f.dispatches = append(f.dispatches, ev)
		f.mu.Unlock()
	})
	f.orch = New(f.controller, f.sessions, registry, f.tracker, nil, nil, primary, Config{})
	return f
}

func (f *fixture) lastDispatch(t *testing.T) bus.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dispatches) == 0 {
		t.Fatal("no dispatch published")
	}
	return f.dispatches[len(f.dispatches)-1]
}

func TestProcessQueryRoutesByKeyword(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	msgID := f.tracker.CreateMessageID("text", nil)

	f.orch.ProcessQuery(context.Background(), msgID, "播放一首歌")

	ev := f.lastDispatch(t)
	p := ev.Payload.(bus.AgentRequestPayload)
	if p.AgentName != "music_agent" || ev.SessionAction != bus.SessionNew {
		t.Fatalf("dispatch = %+v action %q", p, ev.SessionAction)
	}
	if ev.MsgID != msgID {
		t.Errorf("dispatch msg id = %q", ev.MsgID)
	}

	tr, _ := f.tracker.GetTrace(msgID)
	var decided bool
	for _, st := range tr.Stages {
		if st.EventType == "orchestrator_decision" {
			decided = true
		}
	}
	if !decided {
		t.Error("routing decision not traced")
	}
}

func TestEmptyQueryIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.orch.ProcessQuery(context.Background(), "msg_1_aaaaaaaa", "")
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.dispatches) != 0 {
		t.Fatal("empty query dispatched")
	}
}

func TestLowConfidenceFallsBackToDefault(t *testing.T) {
	t.Parallel()
	primary := &fakeDecider{dec: Decision{SelectedAgent: "weather_agent", Confidence: 0.2}}
	f := newFixture(t, primary)

	f.orch.ProcessQuery(context.Background(), f.tracker.CreateMessageID("text", nil), "嗯嗯嗯")

	p := f.lastDispatch(t).Payload.(bus.AgentRequestPayload)
	if p.AgentName != "chat_agent" {
		t.Fatalf("low-confidence query routed to %q, want chat_agent", p.AgentName)
	}
}

func TestUnknownAgentOverridden(t *testing.T) {
	t.Parallel()
	primary := &fakeDecider{dec: Decision{SelectedAgent: "teleport_agent", Confidence: 0.99}}
	f := newFixture(t, primary)

	f.orch.ProcessQuery(context.Background(), f.tracker.CreateMessageID("text", nil), "带我去月球")

	p := f.lastDispatch(t).Payload.(bus.AgentRequestPayload)
	if p.AgentName != "chat_agent" {
		t.Fatalf("unknown agent decision routed to %q", p.AgentName)
	}
}

func TestPrimaryFailureFallsToRules(t *testing.T) {
	t.Parallel()
	primary := &fakeDecider{err: errors.New("model offline")}
	f := newFixture(t, primary)

	f.orch.ProcessQuery(context.Background(), f.tracker.CreateMessageID("text", nil), "今天天气如何")

	p := f.lastDispatch(t).Payload.(bus.AgentRequestPayload)
	if p.AgentName != "weather_agent" {
		t.Fatalf("fallback routed to %q, want weather_agent", p.AgentName)
	}
	if primary.calls == 0 {
		t.Error("primary decider never tried")
	}
}

func TestWaitingSessionAnswerResumes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	s := f.sessions.CreateSession("navigation_agent", defaultUser, 2)
	if err := f.sessions.WaitForInput(s.ID, "请问您要去哪里？", "destination"); err != nil {
		t.Fatal(err)
	}

	msgID := f.tracker.CreateMessageID("voice", nil)
	// "去机场" keyword-matches the waiting agent itself, so it is an answer.
	f.orch.ProcessQuery(context.Background(), msgID, "去机场")

	ev := f.lastDispatch(t)
	if ev.SessionAction != bus.SessionResume || ev.SessionID != s.ID {
		t.Fatalf("dispatch action %q session %q, want resume of %q", ev.SessionAction, ev.SessionID, s.ID)
	}
	p := ev.Payload.(bus.AgentRequestPayload)
	if p.AgentName != "navigation_agent" || p.Query != "去机场" {
		t.Fatalf("resume payload = %+v", p)
	}
}

func TestWaitingSessionClassifiedByModel(t *testing.T) {
	t.Parallel()
	model := llmmock.NewProvider()
	model.QueueContent(`{"verdict": "answer"}`)
	f := newFixture(t, NewLLMDecider(model))

	s := f.sessions.CreateSession("navigation_agent", defaultUser, 2)
	if err := f.sessions.WaitForInput(s.ID, "请问您要去哪里？", "destination"); err != nil {
		t.Fatal(err)
	}

	// The keyword rule would call this a new intent; the model overrules it.
	f.orch.ProcessQuery(context.Background(), f.tracker.CreateMessageID("voice", nil), "播放音乐")

	ev := f.lastDispatch(t)
	if ev.SessionAction != bus.SessionResume || ev.SessionID != s.ID {
		t.Fatalf("dispatch action %q session %q, want resume of %q", ev.SessionAction, ev.SessionID, s.ID)
	}
	reqs := model.Requests()
	if len(reqs) != 1 || !reqs[0].JSONOnly {
		t.Fatalf("classification requests = %+v", reqs)
	}
}

func TestWaitingSessionClassifierErrorFallsToRules(t *testing.T) {
	t.Parallel()
	model := llmmock.NewProvider()
	model.QueueError(errors.New("model offline"))
	f := newFixture(t, NewLLMDecider(model))

	s := f.sessions.CreateSession("navigation_agent", defaultUser, 2)
	if err := f.sessions.WaitForInput(s.ID, "请问您要去哪里？", "destination"); err != nil {
		t.Fatal(err)
	}

	// The rule takes over: a strong match on another agent is a new intent.
	f.orch.ProcessQuery(context.Background(), f.tracker.CreateMessageID("voice", nil), "播放音乐")

	ev := f.lastDispatch(t)
	if ev.SessionAction != bus.SessionNew {
		t.Fatalf("dispatch action = %q, want new", ev.SessionAction)
	}
	if p := ev.Payload.(bus.AgentRequestPayload); p.AgentName != "music_agent" {
		t.Fatalf("new intent routed to %q", p.AgentName)
	}
}

func TestWaitingSessionNewIntentRoutesFresh(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	s := f.sessions.CreateSession("navigation_agent", defaultUser, 2)
	if err := f.sessions.WaitForInput(s.ID, "请问您要去哪里？", "destination"); err != nil {
		t.Fatal(err)
	}

	msgID := f.tracker.CreateMessageID("voice", nil)
	// A strong match on a different agent is a new intent, not an answer.
	f.orch.ProcessQuery(context.Background(), msgID, "播放音乐")

	ev := f.lastDispatch(t)
	if ev.SessionAction != bus.SessionNew {
		t.Fatalf("dispatch action = %q, want new", ev.SessionAction)
	}
	if p := ev.Payload.(bus.AgentRequestPayload); p.AgentName != "music_agent" {
		t.Fatalf("new intent routed to %q", p.AgentName)
	}

	tr, _ := f.tracker.GetTrace(msgID)
	var verdict string
	for _, st := range tr.Stages {
		if st.EventType == "interrupt_classification" {
			verdict, _ = st.Output["verdict"].(string)
		}
	}
	if verdict != "new_intent" {
		t.Errorf("classification verdict = %q", verdict)
	}
}
