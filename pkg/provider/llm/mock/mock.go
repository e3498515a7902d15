// Package mock provides a scriptable chat-completion backend for tests.
package mock

import (
	"context"
	"sync"

	"github.com/brookwillow/kiwi/pkg/provider/llm"
)

// Provider implements llm.Provider by replaying queued responses. With an
// empty queue it returns an empty completion.
type Provider struct {
	mu       sync.Mutex
	queue    []response
	requests []llm.Request
}

type response struct {
	resp *llm.Response
	err  error
}

// NewProvider creates an empty mock provider.
func NewProvider() *Provider { return &Provider{} }

// QueueContent appends a successful completion with the given content.
func (p *Provider) QueueContent(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, response{resp: &llm.Response{Content: content}})
}

// QueueError appends a failing completion.
func (p *Provider) QueueError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, response{err: err})
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.queue) == 0 {
		return &llm.Response{}, nil
	}
	r := p.queue[0]
	p.queue = p.queue[1:]
	return r.resp, r.err
}

// Requests returns a copy of every request seen so far.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}
