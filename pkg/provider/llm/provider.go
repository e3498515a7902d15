// Package llm defines the chat-completion interface used by the
// orchestrator's decision maker, the interrupt classifier and the chat
// agent.
package llm

import "context"

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role
	Content string
}

// Request is one completion call.
type Request struct {
	// SystemPrompt, when set, is prepended as a system message.
	SystemPrompt string

	// Messages is the conversation in order.
	Messages []Message

	// Temperature controls sampling; 0 leaves the provider default.
	Temperature float64

	// MaxTokens caps the completion length; 0 leaves the provider default.
	MaxTokens int

	// JSONOnly requests a strict JSON object response where the backend
	// supports it. Callers must still instruct the model in the prompt.
	JSONOnly bool
}

// Usage is the token accounting of one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is one completed chat completion.
type Response struct {
	Content string
	Usage   Usage
}

// Provider is a chat-completion backend.
//
// Complete blocks until the model responds or ctx is cancelled. Errors are
// transient by contract: callers fall back to deterministic behaviour rather
// than retrying.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
