package orchestrator

import (
	"context"
	"testing"

	"github.com/brookwillow/kiwi/internal/agent"
)

func fullRoster(t *testing.T) []agent.Info {
	t.Helper()
	r := agent.NewRegistry()
	if err := agent.RegisterBuiltins(r, nil); err != nil {
		t.Fatal(err)
	}
	return r.Roster()
}

func TestRuleDeciderKeywords(t *testing.T) {
	t.Parallel()
	d := NewRuleDecider("chat_agent")
	roster := fullRoster(t)

	cases := []struct {
		query string
		agent string
		conf  float64
	}{
		{"播放周杰伦的歌", "music_agent", matchedConfidence},
		{"导航到人民广场", "navigation_agent", matchedConfidence},
		{"今天天气怎么样", "weather_agent", matchedConfidence},
		{"把车窗打开", "vehicle_control_agent", matchedConfidence},
		{"给妈妈打电话", "phone_agent", matchedConfidence},
		{"你叫什么名字", "chat_agent", unmatchedConfidence},
	}
	for _, tc := range cases {
		dec, err := d.Decide(context.Background(), tc.query, roster)
		if err != nil {
			t.Fatalf("%q: %v", tc.query, err)
		}
		if dec.SelectedAgent != tc.agent {
			t.Errorf("%q routed to %q, want %q", tc.query, dec.SelectedAgent, tc.agent)
		}
		if dec.Confidence != tc.conf {
			t.Errorf("%q confidence = %v, want %v", tc.query, dec.Confidence, tc.conf)
		}
	}
}

func TestRuleDeciderFuzzyLatin(t *testing.T) {
	t.Parallel()
	d := NewRuleDecider("chat_agent")
	roster := fullRoster(t)

	// One edit away from "music" still routes.
	dec, _ := d.Decide(context.Background(), "请来点 musik", roster)
	if dec.SelectedAgent != "music_agent" {
		t.Fatalf("fuzzy query routed to %q", dec.SelectedAgent)
	}

	// Short words never match fuzzily, so "cal" must not hit "call".
	dec, _ = d.Decide(context.Background(), "cal", roster)
	if dec.SelectedAgent != "chat_agent" {
		t.Fatalf("short word routed to %q", dec.SelectedAgent)
	}
}

func TestRuleDeciderSkipsUninstalledAgents(t *testing.T) {
	t.Parallel()
	d := NewRuleDecider("chat_agent")

	// A roster without the music agent sends music queries to the default.
	roster := []agent.Info{{Name: "chat_agent", Enabled: true}}
	dec, _ := d.Decide(context.Background(), "播放音乐", roster)
	if dec.SelectedAgent != "chat_agent" {
		t.Fatalf("routed to uninstalled agent %q", dec.SelectedAgent)
	}
}

func TestStrongMatch(t *testing.T) {
	t.Parallel()
	d := NewRuleDecider("chat_agent")
	roster := fullRoster(t)

	if got := d.StrongMatch("播放音乐", roster); got != "music_agent" {
		t.Errorf("StrongMatch = %q, want music_agent", got)
	}
	if got := d.StrongMatch("随便聊聊", roster); got != "" {
		t.Errorf("StrongMatch on free text = %q, want empty", got)
	}
}

func TestLatinWords(t *testing.T) {
	t.Parallel()
	got := latinWords("Play 一首 SONG, thanks!")
	want := []string{"play", "song", "thanks"}
	if len(got) != len(want) {
		t.Fatalf("latinWords = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("latinWords = %v, want %v", got, want)
		}
	}
}
