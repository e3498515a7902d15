// Package trace records the full audit trail of one conversation turn.
//
// Every turn gets a message id minted by [Tracker.CreateMessageID]. Each
// pipeline stage appends one [Stage] entry; when the dispatcher finishes the
// turn it calls [Tracker.CompleteTrace], which stamps the end time and
// appends the whole trace as a single JSONL line under the trace directory.
package trace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultDir is the trace directory used when none is configured.
const DefaultDir = "logs/message_traces"

const timeLayout = "2006-01-02 15:04:05.000"

// Stage is one pipeline hop inside a turn.
type Stage struct {
	Module    string         `json:"module"`
	EventType string         `json:"event_type"`
	Timestamp time.Time      `json:"-"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MarshalJSON emits the timestamp as a millisecond epoch next to the
// struct's regular fields.
func (s Stage) MarshalJSON() ([]byte, error) {
	type alias Stage
	return json.Marshal(struct {
		alias
		Timestamp int64 `json:"timestamp"`
	}{alias(s), s.Timestamp.UnixMilli()})
}

// Trace is the ordered audit record of one turn. Stages are append-only;
// EndTime is set exactly once by CompleteTrace.
type Trace struct {
	MsgID       string
	SessionType string
	Query       string
	Response    string
	StartTime   time.Time
	EndTime     time.Time
	Stages      []Stage
	Metadata    map[string]any
}

// MarshalJSON emits the persisted JSONL shape: epoch-millisecond times,
// formatted time strings and the turn duration.
func (t Trace) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"msg_id":         t.MsgID,
		"session_type":   t.SessionType,
		"query":          t.Query,
		"response":       t.Response,
		"start_time":     t.StartTime.UnixMilli(),
		"start_time_str": t.StartTime.Format(timeLayout),
		"stages":         t.Stages,
	}
	if len(t.Metadata) > 0 {
		out["metadata"] = t.Metadata
	}
	if !t.EndTime.IsZero() {
		out["end_time"] = t.EndTime.UnixMilli()
		out["end_time_str"] = t.EndTime.Format(timeLayout)
		out["duration_ms"] = t.EndTime.Sub(t.StartTime).Milliseconds()
	}
	return json.Marshal(out)
}

// Tracker mints message ids and stores in-flight traces. Safe for
// concurrent use; all appends for one msg id are ordered.
type Tracker struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	traces map[string]*Trace
	order  []string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker persisting completed traces under dir.
// An empty dir selects [DefaultDir].
func NewTracker(dir string, opts ...Option) *Tracker {
	if dir == "" {
		dir = DefaultDir
	}
	t := &Tracker{
		dir:    dir,
		now:    time.Now,
		traces: make(map[string]*Trace),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// CreateMessageID mints a turn id of the form msg_<ms-epoch>_<8-hex> and
// opens its trace.
func (t *Tracker) CreateMessageID(sessionType string, meta map[string]any) string {
	now := t.now()
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	id := fmt.Sprintf("msg_%d_%s", now.UnixMilli(), suffix)

	t.mu.Lock()
	t.traces[id] = &Trace{
		MsgID:       id,
		SessionType: sessionType,
		StartTime:   now,
		Metadata:    meta,
	}
	t.order = append(t.order, id)
	t.mu.Unlock()

	slog.Debug("trace opened", "msg_id", id, "session_type", sessionType)
	return id
}

// AddTrace appends a stage to the trace of msgID. Unknown ids are logged
// and dropped.
func (t *Tracker) AddTrace(msgID, module, eventType string, input, output, meta map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[msgID]
	if !ok {
		slog.Warn("trace stage for unknown msg id dropped", "msg_id", msgID, "module", module, "event_type", eventType)
		return
	}
	tr.Stages = append(tr.Stages, Stage{
		Module:    module,
		EventType: eventType,
		Timestamp: t.now(),
		Input:     input,
		Output:    output,
		Metadata:  meta,
	})
}

// UpdateQuery records the recognised user query. Last write wins.
func (t *Tracker) UpdateQuery(msgID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.traces[msgID]; ok {
		tr.Query = text
	}
}

// UpdateResponse records the agent response text. Last write wins.
func (t *Tracker) UpdateResponse(msgID, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tr, ok := t.traces[msgID]; ok {
		tr.Response = text
	}
}

// CompleteTrace stamps the end time (once), logs a summary and appends the
// trace as one JSONL line. Disk failures are logged, never returned.
func (t *Tracker) CompleteTrace(msgID string) {
	t.mu.Lock()
	tr, ok := t.traces[msgID]
	if !ok {
		t.mu.Unlock()
		slog.Warn("complete for unknown msg id dropped", "msg_id", msgID)
		return
	}
	if !tr.EndTime.IsZero() {
		t.mu.Unlock()
		return
	}
	tr.EndTime = t.now()
	snapshot := *tr
	t.mu.Unlock()

	slog.Info("turn complete",
		"msg_id", msgID,
		"duration_ms", snapshot.EndTime.Sub(snapshot.StartTime).Milliseconds(),
		"stages", len(snapshot.Stages),
		"query", snapshot.Query,
	)
	t.persist(snapshot)
}

// GetTrace returns a copy of the trace for msgID.
func (t *Tracker) GetTrace(msgID string) (Trace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.traces[msgID]
	if !ok {
		return Trace{}, false
	}
	out := *tr
	out.Stages = append([]Stage(nil), tr.Stages...)
	return out, true
}

// RecentTraces returns up to n most recently opened traces, oldest first.
func (t *Tracker) RecentTraces(n int) []Trace {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.order) {
		n = len(t.order)
	}
	out := make([]Trace, 0, n)
	for _, id := range t.order[len(t.order)-n:] {
		tr := t.traces[id]
		cp := *tr
		cp.Stages = append([]Stage(nil), tr.Stages...)
		out = append(out, cp)
	}
	return out
}

// CleanupOldTraces drops in-memory traces older than maxAge and returns how
// many were removed.
func (t *Tracker) CleanupOldTraces(maxAge time.Duration) int {
	cutoff := t.now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.order[:0]
	removed := 0
	for _, id := range t.order {
		if t.traces[id].StartTime.Before(cutoff) {
			delete(t.traces, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return removed
}

// persist appends the trace to the day's JSONL file. One open-append-close
// per trace keeps lines atomic.
func (t *Tracker) persist(tr Trace) {
	line, err := json.Marshal(tr)
	if err != nil {
		slog.Error("trace marshal failed", "msg_id", tr.MsgID, "err", err)
		return
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		slog.Error("trace dir create failed", "dir", t.dir, "err", err)
		return
	}
	name := fmt.Sprintf("traces_%s.jsonl", tr.EndTime.Format("2006-01-02"))
	path := filepath.Join(t.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("trace file open failed", "path", path, "err", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		slog.Error("trace file write failed", "path", path, "err", err)
	}
}
