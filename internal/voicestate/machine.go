// Package voicestate implements the dialog state machine coordinating wake
// word, VAD and ASR for one microphone.
//
// The machine is a guarded (state, event) → result function. It owns three
// pieces of mutable context: whether a wake word is currently active, how
// many VAD speech-end events have occurred since the wake, and the absolute
// deadline after which an active wake auto-resets. Consumers act on the
// side-effect flags of each [Result]; the machine itself never touches the
// bus or any engine.
package voicestate

import (
	"sync"
	"time"
)

// State is the current position in the dialog cycle.
type State string

const (
	StateIdle             State = "idle"
	StateWakewordDetected State = "wakeword_detected"
	StateListening        State = "listening"
	StateSpeechDetected   State = "speech_detected"
	StateRecognizing      State = "recognizing"
	StateTimeout          State = "timeout"
)

// Event is an input to the machine.
type Event string

const (
	EventWakewordTriggered Event = "wakeword_triggered"
	EventWakewordTimeout   Event = "wakeword_timeout"
	EventSpeechStart       Event = "speech_start"
	EventSpeechEnd         Event = "speech_end"
	EventSilenceDetected   Event = "silence_detected"
	EventRecognitionStart  Event = "recognition_start"
	EventRecognitionOK     Event = "recognition_success"
	EventRecognitionFailed Event = "recognition_failed"
	EventReset             Event = "reset"
	EventForceIdle         Event = "force_idle"
)

// historyCap bounds the retained transition history.
const historyCap = 100

// Config tunes the machine. Zero values mean wake word disabled, no timeout,
// and a single utterance per wake.
type Config struct {
	// EnableWakeword gates the wake states entirely. When false the machine
	// never leaves the idle/listening/speech cycle and SpeechStart is always
	// accepted.
	EnableWakeword bool

	// WakewordTimeout is the deadline armed at the first SpeechEnd after a
	// wake. When it expires the wake state auto-resets to idle.
	WakewordTimeout time.Duration

	// MaxVADEndCount is the number of SpeechEnd events after which the wake
	// state resets. 1 means one utterance per wake.
	MaxVADEndCount int
}

// Result describes one accepted transition and the actions its consumers
// must take.
type Result struct {
	From  State
	To    State
	Event Event
	At    time.Time

	// ShouldResetWakeword tells consumers to reset the wake-word engine and
	// clear the deadline.
	ShouldResetWakeword bool

	// ShouldStartTimeout tells the consumer that the wake deadline was armed.
	ShouldStartTimeout bool

	// ShouldTriggerASR marks a SpeechEnd that will be followed by a
	// recognition run.
	ShouldTriggerASR bool

	// VADEndCount is the speech-end counter after this transition.
	VADEndCount int
}

// Info is a point-in-time snapshot of the machine.
type Info struct {
	State            State
	WakewordActive   bool
	WakewordDeadline time.Time
	VADEndCount      int
	EnterTime        time.Time
}

// Machine is safe for concurrent use. Registered callbacks run after the
// internal mutex is released, so they may call back into the machine.
type Machine struct {
	cfg Config

	mu          sync.Mutex
	state       State
	wakeActive  bool
	deadline    time.Time
	vadEndCount int
	enterTime   time.Time
	history     []Result
	callbacks   []func(Result)
}

// NewMachine creates a machine in the idle state.
func NewMachine(cfg Config) *Machine {
	if cfg.MaxVADEndCount < 1 {
		cfg.MaxVADEndCount = 1
	}
	return &Machine{
		cfg:       cfg,
		state:     StateIdle,
		enterTime: time.Now(),
	}
}

// OnTransition registers fn to be invoked after every accepted transition.
func (m *Machine) OnTransition(fn func(Result)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Handle applies ev to the machine. The second return is false when the
// event was rejected in the current state; the machine is then unchanged.
func (m *Machine) Handle(ev Event) (Result, bool) {
	m.mu.Lock()
	res, ok := m.apply(ev, time.Now())
	var cbs []func(Result)
	if ok {
		cbs = append(cbs, m.callbacks...)
	}
	m.mu.Unlock()

	for _, fn := range cbs {
		fn(res)
	}
	return res, ok
}

// CheckTimeout synthesises a WakewordTimeout transition when the armed
// deadline has passed. Returns false when no deadline is armed or it has not
// yet expired.
func (m *Machine) CheckTimeout(now time.Time) (Result, bool) {
	m.mu.Lock()
	expired := m.wakeActive && !m.deadline.IsZero() && !now.Before(m.deadline)
	m.mu.Unlock()

	if !expired {
		return Result{}, false
	}
	return m.Handle(EventWakewordTimeout)
}

// Snapshot returns the current machine state.
func (m *Machine) Snapshot() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{
		State:            m.state,
		WakewordActive:   m.wakeActive,
		WakewordDeadline: m.deadline,
		VADEndCount:      m.vadEndCount,
		EnterTime:        m.enterTime,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns a copy of the retained transitions, oldest first.
func (m *Machine) History() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.history))
	copy(out, m.history)
	return out
}

// apply holds the transition table. Must be called with m.mu held.
func (m *Machine) apply(ev Event, now time.Time) (Result, bool) {
	res := Result{From: m.state, Event: ev, At: now}

	switch ev {
	case EventWakewordTriggered:
		if !m.cfg.EnableWakeword || m.wakeActive {
			return Result{}, false
		}
		if m.state != StateIdle {
			return Result{}, false
		}
		m.wakeActive = true
		m.vadEndCount = 0
		m.deadline = time.Time{}
		return m.commit(res, StateWakewordDetected), true

	case EventSpeechStart:
		if m.cfg.EnableWakeword && !m.wakeActive {
			return Result{}, false
		}
		switch m.state {
		case StateIdle, StateWakewordDetected, StateListening:
			return m.commit(res, StateSpeechDetected), true
		}
		return Result{}, false

	case EventSpeechEnd:
		if m.state != StateSpeechDetected {
			return Result{}, false
		}
		res.ShouldTriggerASR = true
		if m.cfg.EnableWakeword && m.wakeActive {
			m.vadEndCount++
			res.VADEndCount = m.vadEndCount
			if m.vadEndCount >= m.cfg.MaxVADEndCount {
				m.clearWake()
				res.ShouldResetWakeword = true
				return m.commit(res, StateIdle), true
			}
			if m.vadEndCount == 1 && m.cfg.WakewordTimeout > 0 {
				m.deadline = now.Add(m.cfg.WakewordTimeout)
				res.ShouldStartTimeout = true
			}
		}
		return m.commit(res, StateListening), true

	case EventSilenceDetected:
		if m.state != StateListening || m.wakeActive {
			return Result{}, false
		}
		return m.commit(res, StateIdle), true

	case EventRecognitionStart:
		switch m.state {
		case StateListening, StateSpeechDetected:
			return m.commit(res, StateRecognizing), true
		}
		return Result{}, false

	case EventRecognitionOK, EventRecognitionFailed:
		if m.state != StateRecognizing {
			return Result{}, false
		}
		if m.cfg.EnableWakeword && m.wakeActive {
			return m.commit(res, StateListening), true
		}
		return m.commit(res, StateIdle), true

	case EventWakewordTimeout:
		if !m.wakeActive {
			return Result{}, false
		}
		// Pass through the timeout state so the history shows it, then land
		// in idle within the same call.
		m.commit(res, StateTimeout)
		final := Result{From: StateTimeout, To: StateIdle, Event: ev, At: now, ShouldResetWakeword: true}
		m.clearWake()
		return m.commit(final, StateIdle), true

	case EventReset, EventForceIdle:
		res.ShouldResetWakeword = true
		m.clearWake()
		return m.commit(res, StateIdle), true
	}

	return Result{}, false
}

// commit moves the machine to the target state and records the transition.
// Must be called with m.mu held.
func (m *Machine) commit(res Result, to State) Result {
	res.To = to
	m.state = to
	m.enterTime = res.At
	m.history = appendBounded(m.history, res)
	return res
}

// clearWake drops all wake context. Must be called with m.mu held.
func (m *Machine) clearWake() {
	m.wakeActive = false
	m.deadline = time.Time{}
	m.vadEndCount = 0
}

func appendBounded(h []Result, r Result) []Result {
	h = append(h, r)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	return h
}
