// Package session tracks agent conversations on a per-user stack with
// priority preemption.
//
// At most one session per user is active (running or waiting for input) at
// any time. A higher-priority agent may pause the current session if it is
// interruptible; when the top of the stack completes, the session under it
// is resumed automatically.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of one session.
type State string

const (
	StateRunning      State = "running"
	StateWaitingInput State = "waiting_input"
	StatePaused       State = "paused"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// terminal reports whether s can never become active again.
func (s State) terminal() bool { return s == StateCompleted || s == StateError }

// MaxPriority is the highest (non-interruptible) session priority.
const MaxPriority = 3

// Errors returned by Manager operations.
var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrBadTransition   = errors.New("session: invalid state transition")
)

// Session is one logical conversation with an agent. It may span several
// turns while in the waiting-input state.
type Session struct {
	ID            string
	AgentName     string
	User          string
	State         State
	Priority      int
	Interruptible bool
	Context       map[string]any
	PendingPrompt string
	ExpectedInput string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Manager owns every user's session stack. All operations are serialised
// under a single mutex; critical sections are short and never call out.
type Manager struct {
	mu     sync.Mutex
	stacks map[string][]*Session

	// onActiveDelta is an optional hook fed +1/-1 as sessions become active
	// or terminal, used for metrics.
	onActiveDelta func(delta int)
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{stacks: make(map[string][]*Session)}
}

// SetActiveHook installs a callback invoked with +1 when a session is
// created and -1 when one terminates.
func (m *Manager) SetActiveHook(fn func(delta int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onActiveDelta = fn
}

// CreateSession tries to open a session for agentName on the user's stack.
//
// When the user has no active session the new one is pushed running. When
// the current session has a strictly lower priority and is interruptible,
// it is paused and the new one pushed. Otherwise creation is refused and
// nil is returned; the caller surfaces the refusal to the user.
func (m *Manager) CreateSession(agentName, user string, priority int) *Session {
	if priority < 1 {
		priority = 1
	}
	if priority > MaxPriority {
		priority = MaxPriority
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.topLocked(user)
	if cur != nil {
		if !(cur.Priority < priority && cur.Priority < MaxPriority) {
			slog.Info("session creation refused",
				"user", user,
				"agent", agentName,
				"priority", priority,
				"current_agent", cur.AgentName,
				"current_priority", cur.Priority,
			)
			return nil
		}
		cur.State = StatePaused
		cur.UpdatedAt = time.Now()
		slog.Info("session paused by higher priority",
			"user", user, "paused_agent", cur.AgentName, "new_agent", agentName)
	}

	now := time.Now()
	s := &Session{
		ID:            uuid.NewString(),
		AgentName:     agentName,
		User:          user,
		State:         StateRunning,
		Priority:      priority,
		Interruptible: priority < MaxPriority,
		Context:       make(map[string]any),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.stacks[user] = append(m.stacks[user], s)
	if m.onActiveDelta != nil {
		m.onActiveDelta(1)
	}
	slog.Info("session created", "user", user, "agent", agentName, "session_id", s.ID, "priority", priority)
	return copySession(s)
}

// GetActiveSession returns the topmost non-terminal session for user, lazily
// popping any terminal sessions left on top. Returns nil when the stack is
// empty.
func (m *Manager) GetActiveSession(user string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.topLocked(user)
	return copySession(s)
}

// WaitForInput transitions a running session to waiting_input and records
// the prompt shown to the user.
func (m *Manager) WaitForInput(sessionID, prompt, expectedType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findLocked(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.State != StateRunning {
		return fmt.Errorf("%w: wait_for_input from %s", ErrBadTransition, s.State)
	}
	s.State = StateWaitingInput
	s.PendingPrompt = prompt
	s.ExpectedInput = expectedType
	s.UpdatedAt = time.Now()
	slog.Info("session waiting for input", "session_id", sessionID, "prompt", prompt)
	return nil
}

// ResumeSession transitions a waiting_input session back to running and
// stores the user's answer under context key "last_user_input".
func (m *Manager) ResumeSession(sessionID, userInput string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.findLocked(sessionID)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if s.State != StateWaitingInput {
		return fmt.Errorf("%w: resume from %s", ErrBadTransition, s.State)
	}
	s.State = StateRunning
	s.Context["last_user_input"] = userInput
	s.PendingPrompt = ""
	s.ExpectedInput = ""
	s.UpdatedAt = time.Now()
	slog.Info("session resumed with input", "session_id", sessionID)
	return nil
}

// CompleteSession terminates a session successfully, removes it from the
// user's stack and auto-resumes a paused session left on top. Completing an
// already-terminal or unknown session is a no-op.
func (m *Manager) CompleteSession(sessionID, user string) error {
	return m.finish(sessionID, user, StateCompleted)
}

// FailSession terminates a session in the error state. Stack handling is
// identical to CompleteSession; callers distinguish the outcome via traces.
func (m *Manager) FailSession(sessionID, user string) error {
	return m.finish(sessionID, user, StateError)
}

// PauseCurrentSession pauses the user's active session if it is
// interruptible. Returns the paused session or nil.
func (m *Manager) PauseCurrentSession(user string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.topLocked(user)
	if s == nil || !s.Interruptible {
		return nil
	}
	s.State = StatePaused
	s.UpdatedAt = time.Now()
	return copySession(s)
}

// ActiveCount returns the number of non-terminal sessions across all users.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, stack := range m.stacks {
		for _, s := range stack {
			if !s.State.terminal() {
				n++
			}
		}
	}
	return n
}

// Stats returns a per-user snapshot of stack depth and active agent names.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make(map[string]any, len(m.stacks))
	for user, stack := range m.stacks {
		agents := make([]string, 0, len(stack))
		for _, s := range stack {
			agents = append(agents, fmt.Sprintf("%s(%s)", s.AgentName, s.State))
		}
		users[user] = agents
	}
	return map[string]any{"users": users}
}

// ─── internals ───────────────────────────────────────────────────────────────

func (m *Manager) finish(sessionID, user string, final State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findLocked(sessionID)
	if s == nil || s.State.terminal() {
		slog.Debug("finish on missing or terminal session ignored", "session_id", sessionID)
		return nil
	}
	s.State = final
	s.UpdatedAt = time.Now()
	if m.onActiveDelta != nil {
		m.onActiveDelta(-1)
	}

	owner := s.User
	if owner == "" {
		owner = user
	}
	stack := m.stacks[owner]
	for i, entry := range stack {
		if entry.ID == sessionID {
			m.stacks[owner] = append(stack[:i:i], stack[i+1:]...)
			break
		}
	}

	// Auto-resume a paused session now exposed at the top.
	if top := len(m.stacks[owner]) - 1; top >= 0 {
		next := m.stacks[owner][top]
		if next.State == StatePaused {
			next.State = StateRunning
			next.UpdatedAt = time.Now()
			slog.Info("paused session auto-resumed",
				"user", owner, "agent", next.AgentName, "session_id", next.ID)
		}
	}

	slog.Info("session finished", "session_id", sessionID, "state", final)
	return nil
}

// topLocked pops terminal sessions off the top and returns the topmost live
// session. Must be called with m.mu held.
func (m *Manager) topLocked(user string) *Session {
	stack := m.stacks[user]
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if !top.State.terminal() {
			m.stacks[user] = stack
			return top
		}
		stack = stack[:len(stack)-1]
	}
	m.stacks[user] = stack
	return nil
}

// findLocked locates a session by id across all users. Must be called with
// m.mu held.
func (m *Manager) findLocked(sessionID string) *Session {
	for _, stack := range m.stacks {
		for _, s := range stack {
			if s.ID == sessionID {
				return s
			}
		}
	}
	return nil
}

// copySession returns a detached copy so callers cannot mutate manager
// state. The context map is shared read-only by convention.
func copySession(s *Session) *Session {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
