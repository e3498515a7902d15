package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"
)

var msgIDPattern = regexp.MustCompile(`^msg_\d+_[0-9a-f]{8}$`)

func TestCreateMessageIDFormat(t *testing.T) {
	t.Parallel()
	tk := NewTracker(t.TempDir())

	id := tk.CreateMessageID("voice", nil)
	if !msgIDPattern.MatchString(id) {
		t.Fatalf("msg id %q does not match msg_<ms>_<8hex>", id)
	}
	tr, ok := tk.GetTrace(id)
	if !ok {
		t.Fatal("trace not opened for new id")
	}
	if tr.SessionType != "voice" || tr.StartTime.IsZero() {
		t.Fatalf("fresh trace = %+v", tr)
	}
}

func TestAddTraceUnknownIDDropped(t *testing.T) {
	t.Parallel()
	tk := NewTracker(t.TempDir())

	tk.AddTrace("msg_0_deadbeef", "asr", "asr_success", nil, nil, nil)
	if _, ok := tk.GetTrace("msg_0_deadbeef"); ok {
		t.Fatal("stage for unknown id created a trace")
	}
}

func TestStagesAppendInOrder(t *testing.T) {
	t.Parallel()
	tk := NewTracker(t.TempDir())
	id := tk.CreateMessageID("voice", nil)

	tk.AddTrace(id, "asr", "asr_success", nil, map[string]any{"text": "你好"}, nil)
	tk.AddTrace(id, "orchestrator", "orchestrator_decision", nil, map[string]any{"agent": "chat_agent"}, nil)
	tk.AddTrace(id, "dispatcher", "agent_response", nil, nil, nil)

	tr, _ := tk.GetTrace(id)
	if len(tr.Stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(tr.Stages))
	}
	want := []string{"asr", "orchestrator", "dispatcher"}
	for i, m := range want {
		if tr.Stages[i].Module != m {
			t.Errorf("stage %d module = %q, want %q", i, tr.Stages[i].Module, m)
		}
	}
}

func TestCompleteTracePersistsJSONL(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := base
	tk := NewTracker(dir, WithClock(func() time.Time {
		clock = clock.Add(250 * time.Millisecond)
		return clock
	}))

	id := tk.CreateMessageID("voice", map[string]any{"source": "mic"})
	tk.UpdateQuery(id, "今天天气怎么样")
	tk.AddTrace(id, "asr", "asr_success", nil, nil, nil)
	tk.UpdateResponse(id, "今天晴，25度。")
	tk.CompleteTrace(id)

	path := filepath.Join(dir, "traces_2026-03-14.jsonl")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("trace file missing: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("trace file empty")
	}
	var rec map[string]any
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatalf("bad JSONL line: %v", err)
	}
	if rec["msg_id"] != id || rec["query"] != "今天天气怎么样" || rec["response"] != "今天晴，25度。" {
		t.Fatalf("persisted record = %v", rec)
	}
	// Two clock ticks between open and complete, 250ms each.
	if got := rec["duration_ms"].(float64); got != 500 {
		t.Errorf("duration_ms = %v, want 500", got)
	}
	if _, ok := rec["start_time_str"]; !ok {
		t.Error("start_time_str missing")
	}
	if sc.Scan() {
		t.Error("expected exactly one line")
	}
}

func TestCompleteTraceIdempotent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tk := NewTracker(dir)
	id := tk.CreateMessageID("text", nil)

	tk.CompleteTrace(id)
	tr, _ := tk.GetTrace(id)
	end := tr.EndTime

	tk.CompleteTrace(id) // second call ignored
	tr, _ = tk.GetTrace(id)
	if !tr.EndTime.Equal(end) {
		t.Fatal("second complete changed the end time")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one trace file, got %d", len(entries))
	}
}

func TestCompleteUnknownIDDropped(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	tk := NewTracker(dir)
	tk.CompleteTrace("msg_0_deadbeef")
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatal("unknown complete wrote a file")
	}
}

func TestRecentTracesOldestFirst(t *testing.T) {
	t.Parallel()
	tk := NewTracker(t.TempDir())

	a := tk.CreateMessageID("voice", nil)
	b := tk.CreateMessageID("voice", nil)
	c := tk.CreateMessageID("text", nil)

	recent := tk.RecentTraces(2)
	if len(recent) != 2 {
		t.Fatalf("got %d traces, want 2", len(recent))
	}
	if recent[0].MsgID != b || recent[1].MsgID != c {
		t.Fatalf("recent = %q, %q; want %q, %q", recent[0].MsgID, recent[1].MsgID, b, c)
	}

	all := tk.RecentTraces(0)
	if len(all) != 3 || all[0].MsgID != a {
		t.Fatalf("RecentTraces(0) = %d traces, first %q", len(all), all[0].MsgID)
	}
}

func TestCleanupOldTraces(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clock := now.Add(-48 * time.Hour)
	tk := NewTracker(t.TempDir(), WithClock(func() time.Time { return clock }))

	old := tk.CreateMessageID("voice", nil)
	clock = now
	fresh := tk.CreateMessageID("voice", nil)

	if removed := tk.CleanupOldTraces(24 * time.Hour); removed != 1 {
		t.Fatalf("removed %d traces, want 1", removed)
	}
	if _, ok := tk.GetTrace(old); ok {
		t.Error("aged trace still present")
	}
	if _, ok := tk.GetTrace(fresh); !ok {
		t.Error("fresh trace removed")
	}
}
