package orchestrator

import (
	"context"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/brookwillow/kiwi/internal/agent"
)

// matchedConfidence is reported when a keyword rule fires; unmatchedConfidence
// when the query falls through to the default agent.
const (
	matchedConfidence   = 0.9
	unmatchedConfidence = 0.5
)

// keywordRule maps trigger substrings to one agent.
type keywordRule struct {
	agent    string
	keywords []string
	// latin holds English trigger words matched fuzzily so minor ASR
	// misspellings still route.
	latin []string
}

// defaultRules is the built-in keyword table, checked in order. The first
// rule whose keyword occurs in the query wins.
var defaultRules = []keywordRule{
	{agent: "music_agent", keywords: []string{"音乐", "歌", "播放"}, latin: []string{"music", "play", "song"}},
	{agent: "navigation_agent", keywords: []string{"导航", "路线", "去"}, latin: []string{"navigate", "route"}},
	{agent: "weather_agent", keywords: []string{"天气", "温度"}, latin: []string{"weather"}},
	{agent: "vehicle_control_agent", keywords: []string{"车窗", "空调", "座椅", "车门"}, latin: []string{"window", "aircon"}},
	{agent: "phone_agent", keywords: []string{"打电话", "拨打", "呼叫", "联系", "电话", "发消息", "发短信"}, latin: []string{"call", "phone", "message"}},
}

// RuleDecider routes by keyword lookup. It never fails, which makes it the
// terminal entry of the decider chain.
type RuleDecider struct {
	rules        []keywordRule
	defaultAgent string
}

// NewRuleDecider creates a rule decider with the built-in table.
// defaultAgent receives everything no rule claims.
func NewRuleDecider(defaultAgent string) *RuleDecider {
	return &RuleDecider{rules: defaultRules, defaultAgent: defaultAgent}
}

// Name implements Decider.
func (d *RuleDecider) Name() string { return "rule" }

// Decide implements Decider.
func (d *RuleDecider) Decide(ctx context.Context, query string, roster []agent.Info) (Decision, error) {
	installed := make(map[string]bool, len(roster))
	for _, info := range roster {
		installed[info.Name] = info.Enabled
	}

	for _, rule := range d.rules {
		if !installed[rule.agent] {
			continue
		}
		for _, kw := range rule.keywords {
			if strings.Contains(query, kw) {
				return Decision{
					SelectedAgent: rule.agent,
					Confidence:    matchedConfidence,
					Reasoning:     "keyword match: " + kw,
				}, nil
			}
		}
		for _, word := range latinWords(query) {
			for _, kw := range rule.latin {
				if fuzzyEqual(word, kw) {
					return Decision{
						SelectedAgent: rule.agent,
						Confidence:    matchedConfidence,
						Reasoning:     "fuzzy match: " + kw,
					}, nil
				}
			}
		}
	}

	return Decision{
		SelectedAgent: d.defaultAgent,
		Confidence:    unmatchedConfidence,
		Reasoning:     "no rule matched",
	}, nil
}

// StrongMatch reports the agent a keyword rule selects with full confidence,
// or "" when only the default would apply. Used by the interrupt classifier.
func (d *RuleDecider) StrongMatch(query string, roster []agent.Info) string {
	dec, _ := d.Decide(context.Background(), query, roster)
	if dec.Confidence >= matchedConfidence {
		return dec.SelectedAgent
	}
	return ""
}

// latinWords extracts lowercase ASCII-letter runs from the query.
func latinWords(q string) []string {
	var words []string
	var cur strings.Builder
	for _, r := range q {
		if r < unicode.MaxASCII && unicode.IsLetter(r) {
			cur.WriteRune(unicode.ToLower(r))
			continue
		}
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}

// fuzzyEqual tolerates one edit between a spoken word and a trigger word.
func fuzzyEqual(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < 4 || len(b) < 4 {
		return false
	}
	return matchr.DamerauLevenshtein(a, b) <= 1
}
