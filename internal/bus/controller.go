package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/brookwillow/kiwi/internal/voicestate"
)

// auditCap bounds the in-memory ring of recently published events.
const auditCap = 1000

// ErrDuplicateModule is returned by [Controller.Register] when a module with
// the same name is already registered.
var ErrDuplicateModule = errors.New("bus: module already registered")

// Stats is a snapshot of controller counters.
type Stats struct {
	EventsProcessed uint64
	EventsDropped   uint64
	Errors          uint64
	StartTime       time.Time
}

// moduleEntry wraps a registered module with its delivery mutex. The mutex
// serialises HandleEvent calls so a module never sees overlapping deliveries.
type moduleEntry struct {
	mod Module
	mu  sync.Mutex
}

// subscription is one named callback for an event type. Names deduplicate:
// subscribing the same (type, name) pair twice keeps the first registration.
type subscription struct {
	name string
	fn   func(Event)
	mu   *sync.Mutex
}

// Controller is the event bus and module lifecycle owner. One controller
// runs per process.
//
// Publish is safe from any goroutine. The controller copies the subscriber
// and module lists under a short critical section and holds no internal lock
// while invoking user code; panics in callbacks are recovered, counted and
// logged so one misbehaving consumer cannot take the bus down.
type Controller struct {
	machine *voicestate.Machine

	mu          sync.Mutex
	modules     []*moduleEntry
	byName      map[string]*moduleEntry
	subs        map[EventType][]*subscription
	audit       []Event
	auditHead   int
	initialized bool
	running     bool

	statsMu sync.Mutex
	stats   Stats

	// onProcessed and onDropped are optional metric hooks.
	onProcessed func()
	onDropped   func()
}

// NewController creates an empty controller. The voice state machine is
// built later by [Controller.InitializeAll].
func NewController() *Controller {
	return &Controller{
		byName: make(map[string]*moduleEntry),
		subs:   make(map[EventType][]*subscription),
	}
}

// SetMetricHooks installs callbacks invoked on every processed and dropped
// event. Must be called before StartAll.
func (c *Controller) SetMetricHooks(processed, dropped func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProcessed = processed
	c.onDropped = dropped
}

// Register adds a module. Registration order defines lifecycle order.
func (c *Controller) Register(m Module) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[m.Name()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateModule, m.Name())
	}
	e := &moduleEntry{mod: m}
	c.modules = append(c.modules, e)
	c.byName[m.Name()] = e
	return nil
}

// InitializeAll builds the voice state machine from cfg, then initialises
// every registered module in registration order. The first failure aborts
// and is returned; nothing starts partially.
func (c *Controller) InitializeAll(cfg voicestate.Config) error {
	c.mu.Lock()
	c.machine = voicestate.NewMachine(cfg)
	mods := c.snapshotModules()
	c.initialized = true
	c.mu.Unlock()

	for _, e := range mods {
		if err := e.mod.Initialize(); err != nil {
			return fmt.Errorf("bus: initialize module %q: %w", e.mod.Name(), err)
		}
		slog.Info("module initialized", "module", e.mod.Name())
	}
	return nil
}

// StartAll starts every module in registration order and publishes
// SystemStart. Fails on the first module whose Start returns an error.
func (c *Controller) StartAll() error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return errors.New("bus: StartAll before InitializeAll")
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	mods := c.snapshotModules()
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.StartTime = time.Now()
	c.statsMu.Unlock()

	for _, e := range mods {
		if err := e.mod.Start(); err != nil {
			return fmt.Errorf("bus: start module %q: %w", e.mod.Name(), err)
		}
		slog.Info("module started", "module", e.mod.Name())
	}
	c.Publish(New(SystemStart, "controller", EmptyPayload{}))
	return nil
}

// StopAll publishes SystemStop, then stops modules in reverse registration
// order and runs their Cleanup. Idempotent; a second call is a no-op.
func (c *Controller) StopAll() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	mods := c.snapshotModules()
	c.mu.Unlock()

	c.Publish(New(SystemStop, "controller", EmptyPayload{}))

	for i := len(mods) - 1; i >= 0; i-- {
		e := mods[i]
		func() {
			defer c.recoverPanic("stop", e.mod.Name())
			e.mod.Stop()
		}()
		func() {
			defer c.recoverPanic("cleanup", e.mod.Name())
			e.mod.Cleanup()
		}()
		slog.Info("module stopped", "module", e.mod.Name())
	}
}

// Subscribe registers fn for events of type t. name deduplicates: a second
// Subscribe with the same (t, name) is suppressed. Delivery to one
// subscription is serialised.
func (c *Controller) Subscribe(t EventType, name string, fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.subs[t] {
		if s.name == name {
			return
		}
	}
	c.subs[t] = append(c.subs[t], &subscription{name: name, fn: fn, mu: &sync.Mutex{}})
}

// Unsubscribe removes the subscription registered under name for type t.
func (c *Controller) Unsubscribe(t EventType, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := c.subs[t]
	for i, s := range subs {
		if s.name == name {
			c.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev synchronously: audit ring first, then type
// subscribers, then HandleEvent on every registered module. Consumer
// failures are isolated and counted.
func (c *Controller) Publish(ev Event) {
	if ev.ID == "" || ev.Timestamp.IsZero() {
		filled := New(ev.Type, ev.Source, ev.Payload)
		filled.MsgID = ev.MsgID
		filled.SessionID = ev.SessionID
		filled.SessionAction = ev.SessionAction
		if ev.ID != "" {
			filled.ID = ev.ID
		}
		if !ev.Timestamp.IsZero() {
			filled.Timestamp = ev.Timestamp
		}
		ev = filled
	}

	c.mu.Lock()
	c.recordAudit(ev)
	subs := append([]*subscription(nil), c.subs[ev.Type]...)
	mods := c.snapshotModules()
	c.mu.Unlock()

	c.statsMu.Lock()
	c.stats.EventsProcessed++
	c.statsMu.Unlock()
	if c.onProcessed != nil {
		c.onProcessed()
	}

	for _, s := range subs {
		c.deliverSub(s, ev)
	}
	for _, e := range mods {
		c.deliverModule(e, ev)
	}
}

// HandleStateEvent drives the voice state machine and publishes the derived
// bus events: StateChanged on every accepted transition and WakewordReset
// when the result demands it. Returns the transition result.
func (c *Controller) HandleStateEvent(ev voicestate.Event) (voicestate.Result, bool) {
	m := c.Machine()
	if m == nil {
		return voicestate.Result{}, false
	}
	res, ok := m.Handle(ev)
	if !ok {
		return res, false
	}
	c.publishTransition(res)
	return res, true
}

// CheckTimeout polls the wake deadline, publishing WakewordTimeout and the
// transition events when it has expired. Driven by the audio capture worker
// every few frames.
func (c *Controller) CheckTimeout() {
	m := c.Machine()
	if m == nil {
		return
	}
	res, ok := m.CheckTimeout(time.Now())
	if !ok {
		return
	}
	c.Publish(New(WakewordTimeout, "controller", EmptyPayload{}))
	c.publishTransition(res)
}

// Machine returns the voice state machine, or nil before InitializeAll.
func (c *Controller) Machine() *voicestate.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine
}

// CurrentState returns the machine state, or idle before initialisation.
func (c *Controller) CurrentState() voicestate.State {
	m := c.Machine()
	if m == nil {
		return voicestate.StateIdle
	}
	return m.State()
}

// Stats returns a snapshot of the controller counters.
func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// RecentEvents returns up to n most recent audited events, newest last.
func (c *Controller) RecentEvents(n int) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n <= 0 || n > len(c.audit) {
		n = len(c.audit)
	}
	out := make([]Event, 0, n)
	// audit is a ring: auditHead is the index of the oldest entry once full.
	total := len(c.audit)
	for i := total - n; i < total; i++ {
		out = append(out, c.audit[(c.auditHead+i)%total])
	}
	return out
}

// ─── internals ───────────────────────────────────────────────────────────────

func (c *Controller) publishTransition(res voicestate.Result) {
	c.Publish(Event{
		Type:   StateChanged,
		Source: "state_machine",
		Payload: StateChangePayload{
			From:   string(res.From),
			To:     string(res.To),
			Reason: string(res.Event),
		},
	})
	if res.ShouldResetWakeword {
		c.Publish(New(WakewordReset, "state_machine", EmptyPayload{}))
	}
}

// recordAudit appends to the bounded ring. Must be called with c.mu held.
func (c *Controller) recordAudit(ev Event) {
	if len(c.audit) < auditCap {
		c.audit = append(c.audit, ev)
		return
	}
	c.audit[c.auditHead] = ev
	c.auditHead = (c.auditHead + 1) % auditCap
	c.statsMu.Lock()
	c.stats.EventsDropped++
	c.statsMu.Unlock()
	if c.onDropped != nil {
		c.onDropped()
	}
}

// snapshotModules copies the ordered module list. Must be called with c.mu
// held.
func (c *Controller) snapshotModules() []*moduleEntry {
	out := make([]*moduleEntry, len(c.modules))
	copy(out, c.modules)
	return out
}

func (c *Controller) deliverSub(s *subscription, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer c.recoverPanic("subscriber "+s.name, string(ev.Type))
	s.fn(ev)
}

func (c *Controller) deliverModule(e *moduleEntry, ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer c.recoverPanic("module "+e.mod.Name(), string(ev.Type))
	e.mod.HandleEvent(ev)
}

func (c *Controller) recoverPanic(consumer, detail string) {
	if r := recover(); r != nil {
		c.statsMu.Lock()
		c.stats.Errors++
		c.statsMu.Unlock()
		slog.Error("event consumer panicked",
			"consumer", consumer,
			"detail", detail,
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}
