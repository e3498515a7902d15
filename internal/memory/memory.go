// Package memory keeps conversation context: a short-term ring of recent
// rounds, a small vector index for recalling relevant older rounds, and a
// long-term profile persisted to disk and regenerated by a model every few
// rounds.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/pkg/provider/embeddings"
	"github.com/brookwillow/kiwi/pkg/provider/llm"
)

// Compile-time assertion that Module satisfies bus.Module.
var _ bus.Module = (*Module)(nil)

// Round is one completed query/response exchange.
type Round struct {
	MsgID    string    `json:"msg_id"`
	Query    string    `json:"query"`
	Response string    `json:"response"`
	Agent    string    `json:"agent,omitempty"`
	At       time.Time `json:"at"`
}

// LongTerm is the persisted profile distilled from conversation history.
type LongTerm struct {
	Summary     string            `json:"summary"`
	Profile     map[string]string `json:"profile"`
	Preferences map[string]string `json:"preferences"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Config tunes the memory module.
type Config struct {
	// MaxHistoryRounds bounds the short-term ring. Default 30.
	MaxHistoryRounds int

	// TriggerCount regenerates the long-term profile every this many
	// completed rounds. Default 10.
	TriggerCount int

	// RecentRounds is how many latest rounds ContextFor always includes.
	// Default 5.
	RecentRounds int

	// RelevantTopK is how many semantically similar older rounds ContextFor
	// adds when an embedder is configured. Default 3.
	RelevantTopK int

	// Path of the persisted long-term profile.
	// Default "data/long_term_memory.json".
	Path string
}

func (c *Config) applyDefaults() {
	if c.MaxHistoryRounds <= 0 {
		c.MaxHistoryRounds = 30
	}
	if c.TriggerCount <= 0 {
		c.TriggerCount = 10
	}
	if c.RecentRounds <= 0 {
		c.RecentRounds = 5
	}
	if c.RelevantTopK <= 0 {
		c.RelevantTopK = 3
	}
	if c.Path == "" {
		c.Path = filepath.Join("data", "long_term_memory.json")
	}
}

// Module assembles rounds from dashboard events: a user_query opens a
// pending round keyed by message id, the matching agent_response completes
// it. Both the embedder and the summariser are optional.
type Module struct {
	cfg       Config
	embedder  embeddings.Provider
	summarise llm.Provider

	mu        sync.Mutex
	running   bool
	wg        sync.WaitGroup
	pending   map[string]Round
	rounds    []Round
	vectors   [][]float32
	completed int
	longTerm  LongTerm
}

// New creates the memory module and loads any persisted long-term profile.
func New(cfg Config, embedder embeddings.Provider, summariser llm.Provider) *Module {
	cfg.applyDefaults()
	m := &Module{
		cfg:       cfg,
		embedder:  embedder,
		summarise: summariser,
		pending:   make(map[string]Round),
	}
	m.loadLongTerm()
	return m
}

// Name implements bus.Module.
func (m *Module) Name() string { return "memory" }

// Initialize implements bus.Module.
func (m *Module) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("memory: create data dir: %w", err)
	}
	return nil
}

// Start implements bus.Module.
func (m *Module) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

// Stop implements bus.Module.
func (m *Module) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()
}

// Cleanup implements bus.Module.
func (m *Module) Cleanup() {}

// IsRunning implements bus.Module.
func (m *Module) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// HandleEvent implements bus.Module.
func (m *Module) HandleEvent(ev bus.Event) {
	if !m.IsRunning() || ev.Type != bus.GUIUpdateText {
		return
	}
	p, ok := ev.Payload.(bus.GUITextPayload)
	if !ok {
		return
	}
	switch p.Kind {
	case "user_query":
		m.mu.Lock()
		m.pending[ev.MsgID] = Round{MsgID: ev.MsgID, Query: p.Text, At: time.Now()}
		m.mu.Unlock()
	case "agent_response":
		m.completeRound(ev.MsgID, p.Text, p.AgentName)
	}
}

func (m *Module) completeRound(msgID, response, agentName string) {
	m.mu.Lock()
	r, ok := m.pending[msgID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, msgID)
	r.Response = response
	r.Agent = agentName

	m.rounds = append(m.rounds, r)
	m.vectors = append(m.vectors, nil)
	if len(m.rounds) > m.cfg.MaxHistoryRounds {
		drop := len(m.rounds) - m.cfg.MaxHistoryRounds
		m.rounds = append([]Round(nil), m.rounds[drop:]...)
		m.vectors = append([][]float32(nil), m.vectors[drop:]...)
	}
	m.completed++
	regenerate := m.completed%m.cfg.TriggerCount == 0
	m.mu.Unlock()

	if m.embedder != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.embedRound(r)
		}()
	}
	if regenerate && m.summarise != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.regenerateLongTerm()
		}()
	}
}

// embedRound indexes a completed round by its query text.
func (m *Module) embedRound(r Round) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	vec, err := m.embedder.Embed(ctx, r.Query)
	if err != nil {
		slog.Warn("memory embed failed", "err", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The ring may have rotated since; re-locate by msg id.
	for i := range m.rounds {
		if m.rounds[i].MsgID == r.MsgID {
			m.vectors[i] = vec
			return
		}
	}
}

// ContextFor returns the context map handed to the dispatched agent: the
// most recent rounds, semantically relevant older rounds and the long-term
// summary.
func (m *Module) ContextFor(ctx context.Context, query string) map[string]any {
	m.mu.Lock()
	recent := lastRounds(m.rounds, m.cfg.RecentRounds)
	lt := m.longTerm
	m.mu.Unlock()

	out := map[string]any{}
	if len(recent) > 0 {
		out["recent_history"] = recent
	}
	if relevant := m.relevantRounds(ctx, query, recent); len(relevant) > 0 {
		out["relevant_history"] = relevant
	}
	if lt.Summary != "" {
		out["long_term_summary"] = lt.Summary
	}
	if len(lt.Preferences) > 0 {
		out["preferences"] = lt.Preferences
	}
	return out
}

// relevantRounds ranks older rounds by cosine similarity to the query,
// excluding anything already in recent.
func (m *Module) relevantRounds(ctx context.Context, query string, recent []Round) []Round {
	if m.embedder == nil || query == "" {
		return nil
	}
	ectx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	qv, err := m.embedder.Embed(ectx, query)
	if err != nil {
		slog.Debug("memory query embed failed", "err", err)
		return nil
	}

	inRecent := make(map[string]bool, len(recent))
	for _, r := range recent {
		inRecent[r.MsgID] = true
	}

	type scored struct {
		round Round
		score float64
	}
	var candidates []scored
	m.mu.Lock()
	for i, r := range m.rounds {
		if inRecent[r.MsgID] || m.vectors[i] == nil {
			continue
		}
		candidates = append(candidates, scored{round: r, score: cosine(qv, m.vectors[i])})
	}
	m.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if len(candidates) > m.cfg.RelevantTopK {
		candidates = candidates[:m.cfg.RelevantTopK]
	}
	out := make([]Round, 0, len(candidates))
	for _, c := range candidates {
		if c.score > 0 {
			out = append(out, c.round)
		}
	}
	return out
}

// LongTermProfile returns a copy of the current profile.
func (m *Module) LongTermProfile() LongTerm {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.longTerm
}

// History returns a copy of the short-term ring, oldest first.
func (m *Module) History() []Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Round(nil), m.rounds...)
}

// ─── long-term profile ───────────────────────────────────────────────────────

// regenerateLongTerm asks the summariser to distil the short-term history
// into the persisted profile.
func (m *Module) regenerateLongTerm() {
	m.mu.Lock()
	rounds := append([]Round(nil), m.rounds...)
	m.mu.Unlock()
	if len(rounds) == 0 {
		return
	}

	historyJSON, err := json.Marshal(rounds)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := m.summarise.Complete(ctx, llm.Request{
		SystemPrompt: "根据对话历史提炼用户画像，只输出 JSON：" +
			`{"summary": "...", "profile": {}, "preferences": {}}`,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: string(historyJSON)}},
		Temperature: 0.2,
		MaxTokens:   512,
		JSONOnly:    true,
	})
	if err != nil {
		slog.Warn("long-term memory regeneration failed", "err", err)
		return
	}

	var lt LongTerm
	if err := json.Unmarshal([]byte(resp.Content), &lt); err != nil {
		slog.Warn("long-term memory parse failed", "err", err)
		return
	}
	lt.UpdatedAt = time.Now()

	m.mu.Lock()
	m.longTerm = lt
	m.mu.Unlock()
	m.saveLongTerm(lt)
	slog.Info("long-term memory regenerated", "rounds", len(rounds))
}

func (m *Module) loadLongTerm() {
	data, err := os.ReadFile(m.cfg.Path)
	if err != nil {
		return
	}
	var lt LongTerm
	if err := json.Unmarshal(data, &lt); err != nil {
		slog.Warn("long-term memory file unreadable", "path", m.cfg.Path, "err", err)
		return
	}
	m.longTerm = lt
}

func (m *Module) saveLongTerm(lt LongTerm) {
	data, err := json.MarshalIndent(lt, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(m.cfg.Path, data, 0o644); err != nil {
		slog.Warn("long-term memory write failed", "path", m.cfg.Path, "err", err)
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func lastRounds(rounds []Round, n int) []Round {
	if len(rounds) <= n {
		return append([]Round(nil), rounds...)
	}
	return append([]Round(nil), rounds[len(rounds)-n:]...)
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// degenerate.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
