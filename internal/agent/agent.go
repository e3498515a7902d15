// Package agent defines the agent contract, the registry of installed agents
// and the dispatcher that runs them off the bus.
package agent

import (
	"context"

	"github.com/brookwillow/kiwi/internal/worldstate"
)

// Status is the outcome an agent reports for one execution.
type Status string

const (
	// StatusCompleted ends the conversation turn and the session.
	StatusCompleted Status = "completed"

	// StatusWaitingInput keeps the session open; the Prompt is spoken and
	// the next utterance is routed back to this agent.
	StatusWaitingInput Status = "waiting_input"

	// StatusError marks the execution failed. Text may still carry an
	// apology to speak.
	StatusError Status = "error"
)

// Request is what the dispatcher hands an agent for one execution.
type Request struct {
	// Query is the recognised user utterance.
	Query string

	// SessionID of the session this execution runs under. Empty when the
	// dispatcher could not open one (priority refusal).
	SessionID string

	// Resume is true when this call continues a waiting session; UserInput
	// then carries the user's answer to the pending prompt.
	Resume    bool
	UserInput string

	// Context carries the orchestrator's routing parameters and memory
	// context.
	Context map[string]any

	// World is the vehicle state at dispatch time.
	World worldstate.Snapshot
}

// Response is what an agent returns.
type Response struct {
	Status Status

	// Text is spoken to the user and shown on the dashboard.
	Text string

	// Prompt and ExpectedInput are set with StatusWaitingInput.
	Prompt        string
	ExpectedInput string

	// Data carries structured results for the GUI.
	Data map[string]any
}

// Agent executes one user request. Implementations must be safe for
// concurrent use; the dispatcher may run several sessions at once.
type Agent interface {
	Handle(ctx context.Context, req Request) (Response, error)
}
