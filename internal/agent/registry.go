package agent

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownAgent is returned by [Registry.Get] for names never registered.
var ErrUnknownAgent = errors.New("agent: unknown agent")

// Info describes one installed agent for routing and the status surface.
type Info struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`

	// Priority is the session priority of this agent's conversations,
	// 1 (lowest) to 3 (non-interruptible).
	Priority int `json:"priority"`

	Enabled bool `json:"enabled"`
}

// Registry maps agent names to implementations plus their routing metadata.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	infos  map[string]Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		infos:  make(map[string]Info),
	}
}

// Register installs an agent under info.Name, replacing any previous
// registration of that name.
func (r *Registry) Register(info Info, a Agent) error {
	if info.Name == "" {
		return errors.New("agent: register with empty name")
	}
	if a == nil {
		return fmt.Errorf("agent: register %q with nil implementation", info.Name)
	}
	if info.Priority < 1 {
		info.Priority = 1
	}
	if info.Priority > 3 {
		info.Priority = 3
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[info.Name] = a
	r.infos[info.Name] = info
	return nil
}

// Get returns the enabled agent registered under name.
func (r *Registry) Get(name string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok || !r.infos[name].Enabled {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return a, nil
}

// PriorityOf returns the registered priority for name, defaulting to 1.
func (r *Registry) PriorityOf(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.infos[name]; ok {
		return info.Priority
	}
	return 1
}

// Roster returns the installed agents sorted by name, for routing prompts
// and the status endpoint.
func (r *Registry) Roster() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.infos))
	for _, info := range r.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Has reports whether name is registered and enabled.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.infos[name]
	return ok && info.Enabled
}
