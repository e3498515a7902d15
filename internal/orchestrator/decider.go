// Package orchestrator routes recognised utterances to agents. A decider
// chain (model-backed first, keyword rules as fallback) produces a routing
// decision; the orchestrator resolves it against the session stack and
// publishes the dispatch request.
package orchestrator

import (
	"context"

	"github.com/brookwillow/kiwi/internal/agent"
)

// Decision is the routing verdict for one utterance.
type Decision struct {
	SelectedAgent string         `json:"selected_agent"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// Decider produces a [Decision] for a query given the installed agents.
// Implementations must be safe for concurrent use.
type Decider interface {
	Name() string
	Decide(ctx context.Context, query string, roster []agent.Info) (Decision, error)
}
