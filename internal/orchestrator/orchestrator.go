package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/brookwillow/kiwi/internal/agent"
	"github.com/brookwillow/kiwi/internal/bus"
	"github.com/brookwillow/kiwi/internal/observe"
	"github.com/brookwillow/kiwi/internal/resilience"
	"github.com/brookwillow/kiwi/internal/session"
	"github.com/brookwillow/kiwi/internal/trace"
)

// defaultUser identifies the driver until multi-user identification exists.
const defaultUser = "default_user"

// ContextProvider supplies conversation memory for the dispatched agent.
type ContextProvider interface {
	ContextFor(ctx context.Context, query string) map[string]any
}

// InterruptClassifier judges whether an utterance answers a waiting session's
// prompt or opens a new intent. Deciders may implement it; when none does,
// the keyword rule classifies instead.
type InterruptClassifier interface {
	ClassifyInterrupt(ctx context.Context, query, prompt, agentName string) (answer bool, err error)
}

// Config tunes the orchestrator.
type Config struct {
	// DefaultAgent receives low-confidence queries. Default "chat_agent".
	DefaultAgent string

	// MinConfidence below which the decision is overridden to DefaultAgent.
	// Default 0.5.
	MinConfidence float64

	// DecideTimeout bounds one routing decision. Default 10s.
	DecideTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultAgent == "" {
		c.DefaultAgent = "chat_agent"
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.5
	}
	if c.DecideTimeout <= 0 {
		c.DecideTimeout = 10 * time.Second
	}
}

// Orchestrator turns recognised text into an agent dispatch. The decider
// chain is tried in order behind circuit breakers; the rule decider sits
// last and cannot fail, so every query gets routed somewhere.
type Orchestrator struct {
	controller *bus.Controller
	sessions   *session.Manager
	registry   *agent.Registry
	tracker    *trace.Tracker
	metrics    *observe.Metrics
	memory     ContextProvider
	chain      *resilience.Chain[Decider]
	rules      *RuleDecider
	classifier InterruptClassifier
	cfg        Config
}

// New creates the orchestrator. primary may be nil, leaving the rule decider
// alone in the chain. memory may be nil.
func New(controller *bus.Controller, sessions *session.Manager, registry *agent.Registry, tracker *trace.Tracker, metrics *observe.Metrics, memory ContextProvider, primary Decider, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	rules := NewRuleDecider(cfg.DefaultAgent)

	var chain *resilience.Chain[Decider]
	if primary != nil {
		chain = resilience.NewChain[Decider](primary, primary.Name(), resilience.ChainConfig{
			Breaker: resilience.BreakerConfig{MaxFailures: 3, Cooldown: 60 * time.Second},
		})
		chain.Add(rules.Name(), rules)
	} else {
		chain = resilience.NewChain[Decider](Decider(rules), rules.Name(), resilience.ChainConfig{})
	}

	o := &Orchestrator{
		controller: controller,
		sessions:   sessions,
		registry:   registry,
		tracker:    tracker,
		metrics:    metrics,
		memory:     memory,
		chain:      chain,
		rules:      rules,
		cfg:        cfg,
	}
	if c, ok := primary.(InterruptClassifier); ok {
		o.classifier = c
	}
	return o
}

// ProcessQuery routes one utterance. The flow:
//
//  1. Show the query on the dashboard.
//  2. If the active session is waiting for input, classify the utterance as
//     an answer (resume the session) or a new intent (route fresh).
//  3. Collect memory context.
//  4. Run the decider chain; low confidence falls back to the default agent.
//  5. Publish the dispatch request.
func (o *Orchestrator) ProcessQuery(ctx context.Context, msgID, query string) {
	if query == "" {
		return
	}

	ctx, span := otel.Tracer("kiwi/orchestrator").Start(ctx, "process_query",
		oteltrace.WithAttributes(attribute.String("msg_id", msgID)))
	defer span.End()

	guiEv := bus.New(bus.GUIUpdateText, "orchestrator", bus.GUITextPayload{Kind: "user_query", Text: query})
	guiEv.MsgID = msgID
	o.controller.Publish(guiEv)

	roster := o.registry.Roster()

	if active := o.sessions.GetActiveSession(defaultUser); active != nil && active.State == session.StateWaitingInput {
		if o.isAnswer(ctx, query, active, roster) {
			o.tracker.AddTrace(msgID, "orchestrator", "interrupt_classification",
				map[string]any{"query": query},
				map[string]any{"verdict": "answer", "session_id": active.ID, "agent": active.AgentName},
				nil,
			)
			o.dispatch(msgID, active.ID, bus.SessionResume, bus.AgentRequestPayload{
				AgentName: active.AgentName,
				Query:     query,
			})
			return
		}
		o.tracker.AddTrace(msgID, "orchestrator", "interrupt_classification",
			map[string]any{"query": query},
			map[string]any{"verdict": "new_intent", "session_id": active.ID},
			nil,
		)
	}

	var memCtx map[string]any
	if o.memory != nil {
		memCtx = o.memory.ContextFor(ctx, query)
	}

	dctx, cancel := context.WithTimeout(ctx, o.cfg.DecideTimeout)
	defer cancel()

	began := time.Now()
	dec, err := resilience.DoWithResult(o.chain, func(d Decider) (Decision, error) {
		return d.Decide(dctx, query, roster)
	})
	o.metrics.RecordDecision(dctx, time.Since(began), "chain")
	if err != nil {
		// Unreachable while the rule decider is in the chain, but a routing
		// failure must still end in a spoken reply.
		slog.Error("decider chain failed", "err", err, "msg_id", msgID)
		dec = Decision{SelectedAgent: o.cfg.DefaultAgent, Confidence: unmatchedConfidence, Reasoning: "chain failed"}
	}
	if dec.Confidence < o.cfg.MinConfidence || !o.registry.Has(dec.SelectedAgent) {
		slog.Info("low-confidence decision overridden",
			"selected", dec.SelectedAgent, "confidence", dec.Confidence, "fallback", o.cfg.DefaultAgent)
		dec.SelectedAgent = o.cfg.DefaultAgent
	}

	span.SetAttributes(
		attribute.String("agent", dec.SelectedAgent),
		attribute.Float64("confidence", dec.Confidence),
	)
	o.tracker.AddTrace(msgID, "orchestrator", "orchestrator_decision",
		map[string]any{"query": query},
		map[string]any{
			"selected_agent": dec.SelectedAgent,
			"confidence":     dec.Confidence,
			"reasoning":      dec.Reasoning,
		},
		map[string]any{"latency_ms": time.Since(began).Milliseconds()},
	)
	slog.Info("query routed",
		"msg_id", msgID, "agent", dec.SelectedAgent, "confidence", dec.Confidence)

	o.dispatch(msgID, "", bus.SessionNew, bus.AgentRequestPayload{
		AgentName:  dec.SelectedAgent,
		Query:      query,
		Confidence: dec.Confidence,
		Reasoning:  dec.Reasoning,
		Context:    memCtx,
		Parameters: dec.Parameters,
	})
}

// isAnswer decides whether an utterance answers the pending prompt. The
// configured model classifies when available; on error, or without one, the
// keyword rule applies: a strong match on a different agent is a new intent,
// everything else flows back to the waiting session.
func (o *Orchestrator) isAnswer(ctx context.Context, query string, active *session.Session, roster []agent.Info) bool {
	if o.classifier != nil {
		answer, err := o.classifier.ClassifyInterrupt(ctx, query, active.PendingPrompt, active.AgentName)
		if err == nil {
			return answer
		}
		slog.Warn("interrupt classification fell back to rules", "err", err, "agent", active.AgentName)
	}
	strong := o.rules.StrongMatch(query, roster)
	return strong == "" || strong == active.AgentName
}

func (o *Orchestrator) dispatch(msgID, sessionID string, action bus.SessionAction, p bus.AgentRequestPayload) {
	ev := bus.New(bus.AgentDispatch, "orchestrator", p)
	ev.MsgID = msgID
	ev.SessionID = sessionID
	ev.SessionAction = action
	o.controller.Publish(ev)
}
