package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/observe"
	"github.com/brookwillow/kiwi/internal/session"
	"github.com/brookwillow/kiwi/internal/trace"
	"github.com/brookwillow/kiwi/internal/worldstate"
)

// defaultUser identifies the driver until multi-user identification exists.
const defaultUser = "default_user"

// Compile-time assertion that Dispatcher satisfies bus.Module.
var _ bus.Module = (*Dispatcher)(nil)

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	// MaxConcurrent bounds how many agent executions run at once.
	// Default 4.
	MaxConcurrent int64

	// ExecTimeout bounds one agent execution. Default 60s.
	ExecTimeout time.Duration
}

// Dispatcher consumes agent dispatch requests from the bus, opens or resumes
// the session, runs the agent on a bounded pool and publishes the response
// to the GUI and the speaker. It closes the turn's trace.
type Dispatcher struct {
	controller *bus.Controller
	sessions   *session.Manager
	registry   *Registry
	tracker    *trace.Tracker
	metrics    *observe.Metrics
	world      *worldstate.World
	sem        *semaphore.Weighted
	cfg        DispatcherConfig

	mu         sync.Mutex
	running    bool
	wg         sync.WaitGroup
	dispatches uint64
	refusals   uint64
	failures   uint64
}

// NewDispatcher creates the dispatcher module.
func NewDispatcher(controller *bus.Controller, sessions *session.Manager, registry *Registry, tracker *trace.Tracker, metrics *observe.Metrics, world *worldstate.World, cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 60 * time.Second
	}
	return &Dispatcher{
		controller: controller,
		sessions:   sessions,
		registry:   registry,
		tracker:    tracker,
		metrics:    metrics,
		world:      world,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:        cfg,
	}
}

// Name implements bus.Module.
func (d *Dispatcher) Name() string { return "agent_dispatcher" }

// Initialize implements bus.Module.
func (d *Dispatcher) Initialize() error { return nil }

// Start implements bus.Module.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	return nil
}

// Stop implements bus.Module. Waits briefly for in-flight executions.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		slog.Warn("agent executions did not finish, abandoning")
	}
}

// Cleanup implements bus.Module.
func (d *Dispatcher) Cleanup() {}

// IsRunning implements bus.Module.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// HandleEvent implements bus.Module.
func (d *Dispatcher) HandleEvent(ev bus.Event) {
	if !d.IsRunning() {
		return
	}
	switch ev.Type {
	case bus.AgentDispatch:
		d.onDispatch(ev)
	case bus.SystemStop:
		d.Stop()
	}
}

func (d *Dispatcher) onDispatch(ev bus.Event) {
	p, ok := ev.Payload.(bus.AgentRequestPayload)
	if !ok || p.AgentName == "" {
		return
	}

	d.mu.Lock()
	d.dispatches++
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ExecTimeout)
		defer cancel()
		if err := d.sem.Acquire(ctx, 1); err != nil {
			slog.Warn("agent pool saturated, dispatch dropped", "agent", p.AgentName, "msg_id", ev.MsgID)
			return
		}
		defer d.sem.Release(1)
		d.execute(ctx, ev, p)
	}()
}

// execute resolves the session, runs the agent and publishes the outcome.
func (d *Dispatcher) execute(ctx context.Context, ev bus.Event, p bus.AgentRequestPayload) {
	ctx, span := otel.Tracer("kiwi/agent").Start(ctx, "execute",
		oteltrace.WithAttributes(
			attribute.String("agent", p.AgentName),
			attribute.String("msg_id", ev.MsgID),
		))
	defer span.End()

	name := p.AgentName
	req := Request{
		Query:   p.Query,
		Context: mergeContext(p.Context, p.Parameters),
	}
	if d.world != nil {
		req.World = d.world.Snapshot()
	}

	switch {
	case ev.SessionAction == bus.SessionResume && ev.SessionID != "":
		if err := d.sessions.ResumeSession(ev.SessionID, p.Query); err != nil {
			slog.Warn("session resume failed", "session_id", ev.SessionID, "err", err)
			d.speakFailure(ev.MsgID, name)
			return
		}
		req.SessionID = ev.SessionID
		req.Resume = true
		req.UserInput = p.Query

	default:
		s := d.sessions.CreateSession(name, defaultUser, d.registry.PriorityOf(name))
		if s == nil {
			// Refused by the priority rule. The system agent speaks the
			// refusal; no session backs it.
			d.mu.Lock()
			d.refusals++
			d.mu.Unlock()
			name = "system_agent"
			req.Context["notice"] = "当前有任务正在进行，请稍后再试。"
		} else {
			req.SessionID = s.ID
		}
	}

	a, err := d.registry.Get(name)
	if err != nil {
		slog.Warn("dispatch to unknown agent", "agent", name, "err", err)
		if req.SessionID != "" {
			_ = d.sessions.FailSession(req.SessionID, defaultUser)
		}
		d.speakFailure(ev.MsgID, name)
		return
	}

	began := time.Now()
	resp, err := a.Handle(ctx, req)
	latency := time.Since(began)
	ok := err == nil && resp.Status != StatusError
	d.metrics.RecordAgent(ctx, name, latency, ok)

	if err != nil {
		slog.Warn("agent execution failed", "agent", name, "err", err, "msg_id", ev.MsgID)
		resp.Status = StatusError
		if resp.Text == "" {
			resp.Text = "抱歉，处理您的请求时出了问题。"
		}
	}

	if req.SessionID != "" {
		switch resp.Status {
		case StatusWaitingInput:
			if werr := d.sessions.WaitForInput(req.SessionID, resp.Prompt, resp.ExpectedInput); werr != nil {
				slog.Warn("wait_for_input failed", "session_id", req.SessionID, "err", werr)
			}
		case StatusError:
			_ = d.sessions.FailSession(req.SessionID, defaultUser)
		default:
			_ = d.sessions.CompleteSession(req.SessionID, defaultUser)
		}
	}
	if resp.Status == StatusError {
		d.mu.Lock()
		d.failures++
		d.mu.Unlock()
	}

	d.tracker.AddTrace(ev.MsgID, d.Name(), "agent_response",
		map[string]any{"agent": name},
		map[string]any{"status": string(resp.Status), "latency_ms": latency.Milliseconds()},
		nil,
	)
	d.tracker.UpdateResponse(ev.MsgID, resp.Text)
	d.publishResponse(ev.MsgID, req.SessionID, name, resp)

	// A waiting session keeps its turn open until the answer arrives. The
	// trace closes only after every stage, the speak request included, has
	// been recorded.
	if resp.Status != StatusWaitingInput {
		d.tracker.CompleteTrace(ev.MsgID)
		d.metrics.RecordTurn(ctx, string(resp.Status))
	}
}

// publishResponse pushes the agent's text to the dashboard and the speaker.
func (d *Dispatcher) publishResponse(msgID, sessionID, agentName string, resp Response) {
	gui := bus.New(bus.GUIUpdateText, d.Name(), bus.GUITextPayload{
		Kind:      "agent_response",
		Text:      resp.Text,
		AgentName: agentName,
		Data:      resp.Data,
	})
	gui.MsgID = msgID
	gui.SessionID = sessionID
	d.controller.Publish(gui)

	if resp.Text != "" {
		speak := bus.New(bus.TTSSpeakRequest, d.Name(), bus.TTSPayload{Text: resp.Text})
		speak.MsgID = msgID
		speak.SessionID = sessionID
		d.controller.Publish(speak)
		d.tracker.AddTrace(msgID, "tts", "tts_request",
			map[string]any{"text": resp.Text}, nil, nil)
	}
}

func (d *Dispatcher) speakFailure(msgID, agentName string) {
	d.mu.Lock()
	d.failures++
	d.mu.Unlock()
	d.publishResponse(msgID, "", agentName, Response{
		Status: StatusError,
		Text:   "抱歉，处理您的请求时出了问题。",
	})
	d.tracker.CompleteTrace(msgID)
}

// Stats returns dispatch counters for the status endpoint.
func (d *Dispatcher) Stats() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]any{
		"dispatches": d.dispatches,
		"refusals":   d.refusals,
		"failures":   d.failures,
		"running":    d.running,
	}
}

// mergeContext overlays params onto ctx without mutating either input.
func mergeContext(ctx, params map[string]any) map[string]any {
	out := make(map[string]any, len(ctx)+len(params))
	for k, v := range ctx {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}
