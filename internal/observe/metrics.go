// Package observe provides application-wide observability for the assistant:
// OpenTelemetry metrics with a Prometheus exporter bridge so /metrics keeps
// working, plus tracing provider setup.
//
// All Record helpers are nil-safe: a nil *Metrics records nothing, so
// pipeline code never needs to guard metric calls.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all assistant metrics.
const meterName = "github.com/brookwillow/kiwi"

// Metrics holds the OpenTelemetry instruments for the voice pipeline. All
// fields are safe for concurrent use.
type Metrics struct {
	// ASRDuration tracks speech recognition latency.
	ASRDuration metric.Float64Histogram

	// DecisionDuration tracks orchestrator routing latency.
	DecisionDuration metric.Float64Histogram

	// AgentDuration tracks agent execution latency. Use with attribute:
	//   attribute.String("agent", ...)
	AgentDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// Turns counts completed conversation turns by outcome.
	Turns metric.Int64Counter

	// EventsProcessed counts events published on the bus.
	EventsProcessed metric.Int64Counter

	// EventsDropped counts audit-ring overflow drops.
	EventsDropped metric.Int64Counter

	// AgentErrors counts agent failures by agent name.
	AgentErrors metric.Int64Counter

	// ActiveSessions tracks the number of live agent sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ASRDuration, err = m.Float64Histogram("kiwi.asr.duration",
		metric.WithDescription("Latency of speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecisionDuration, err = m.Float64Histogram("kiwi.decision.duration",
		metric.WithDescription("Latency of orchestrator routing decisions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AgentDuration, err = m.Float64Histogram("kiwi.agent.duration",
		metric.WithDescription("Latency of agent execution by agent name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("kiwi.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Turns, err = m.Int64Counter("kiwi.turns",
		metric.WithDescription("Completed conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.EventsProcessed, err = m.Int64Counter("kiwi.events.processed",
		metric.WithDescription("Events published on the bus."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("kiwi.events.dropped",
		metric.WithDescription("Audited events dropped on ring overflow."),
	); err != nil {
		return nil, err
	}
	if met.AgentErrors, err = m.Int64Counter("kiwi.agent.errors",
		metric.WithDescription("Agent failures by agent name."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("kiwi.active_sessions",
		metric.WithDescription("Number of live agent sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from [otel.GetMeterProvider]. Tests should use [NewMetrics] with their
// own provider to avoid cross-test pollution.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordASR records one recognition attempt.
func (m *Metrics) RecordASR(ctx context.Context, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.ASRDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.Bool("success", ok)),
	)
}

// RecordDecision records one orchestrator routing decision.
func (m *Metrics) RecordDecision(ctx context.Context, d time.Duration, decider string) {
	if m == nil {
		return
	}
	m.DecisionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("decider", decider)),
	)
}

// RecordAgent records one agent execution.
func (m *Metrics) RecordAgent(ctx context.Context, agent string, d time.Duration, ok bool) {
	if m == nil {
		return
	}
	m.AgentDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("agent", agent)),
	)
	if !ok {
		m.AgentErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
	}
}

// RecordTTS records one synthesis call.
func (m *Metrics) RecordTTS(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.TTSDuration.Record(ctx, d.Seconds())
}

// RecordTurn counts a finished conversation turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// AddEventProcessed increments the bus processed counter.
func (m *Metrics) AddEventProcessed() {
	if m == nil {
		return
	}
	m.EventsProcessed.Add(context.Background(), 1)
}

// AddEventDropped increments the bus dropped counter.
func (m *Metrics) AddEventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Add(context.Background(), 1)
}

// SessionDelta adjusts the live session gauge by n (positive or negative).
func (m *Metrics) SessionDelta(n int64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(context.Background(), n)
}
