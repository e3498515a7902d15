package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brookwillow/kiwi/internal/agent"
	"github.com/brookwillow/kiwi/pkg/provider/llm"
)

// decisionTemperature keeps routing deterministic-ish while allowing the
// model some judgement on phrasing.
const decisionTemperature = 0.3

// Compile-time assertion that the model-backed decider also classifies
// interrupts.
var _ InterruptClassifier = (*LLMDecider)(nil)

// LLMDecider asks a chat model to pick the agent. The model is forced into
// JSON mode and its answer validated against the roster; anything malformed
// is an error so the chain falls back to rules.
type LLMDecider struct {
	provider llm.Provider
}

// NewLLMDecider creates a model-backed decider.
func NewLLMDecider(p llm.Provider) *LLMDecider {
	return &LLMDecider{provider: p}
}

// Name implements Decider.
func (d *LLMDecider) Name() string { return "llm" }

// Decide implements Decider.
func (d *LLMDecider) Decide(ctx context.Context, query string, roster []agent.Info) (Decision, error) {
	resp, err := d.provider.Complete(ctx, llm.Request{
		SystemPrompt: routingPrompt(roster),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: query}},
		Temperature:  decisionTemperature,
		MaxTokens:    256,
		JSONOnly:     true,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("llm decide: %w", err)
	}

	var dec Decision
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &dec); err != nil {
		return Decision{}, fmt.Errorf("llm decide: parse %q: %w", resp.Content, err)
	}
	if dec.SelectedAgent == "" {
		return Decision{}, fmt.Errorf("llm decide: empty agent in %q", resp.Content)
	}
	known := false
	for _, info := range roster {
		if info.Name == dec.SelectedAgent && info.Enabled {
			known = true
			break
		}
	}
	if !known {
		return Decision{}, fmt.Errorf("llm decide: unknown agent %q", dec.SelectedAgent)
	}
	if dec.Confidence < 0 || dec.Confidence > 1 {
		return Decision{}, fmt.Errorf("llm decide: confidence %v out of range", dec.Confidence)
	}
	return dec, nil
}

// interruptPrompt forces the classification into a two-value JSON verdict.
const interruptPrompt = `你是车载助手的打断分类器。一个 agent 正在等待用户补充信息。判断用户这句话是在回答该 agent 的提问，还是提出了一个新的请求。只输出 JSON：
{"verdict": "answer"} 或 {"verdict": "new_intent"}`

// ClassifyInterrupt implements InterruptClassifier. Malformed model output is
// an error so the caller falls back to the keyword rule.
func (d *LLMDecider) ClassifyInterrupt(ctx context.Context, query, prompt, agentName string) (bool, error) {
	resp, err := d.provider.Complete(ctx, llm.Request{
		SystemPrompt: interruptPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf("等待中的 agent：%s\n它的提问：%s\n用户说：%s", agentName, prompt, query),
		}},
		MaxTokens: 64,
		JSONOnly:  true,
	})
	if err != nil {
		return false, fmt.Errorf("llm classify: %w", err)
	}

	var out struct {
		Verdict string `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &out); err != nil {
		return false, fmt.Errorf("llm classify: parse %q: %w", resp.Content, err)
	}
	switch out.Verdict {
	case "answer":
		return true, nil
	case "new_intent":
		return false, nil
	}
	return false, fmt.Errorf("llm classify: unknown verdict %q", out.Verdict)
}

// routingPrompt renders the roster into the system prompt the model routes
// against.
func routingPrompt(roster []agent.Info) string {
	var b strings.Builder
	b.WriteString("你是车载助手的意图路由器。根据用户的话选择最合适的 agent，只输出 JSON：\n")
	b.WriteString(`{"selected_agent": "...", "confidence": 0.0, "reasoning": "...", "parameters": {}}` + "\n")
	b.WriteString("可选 agent：\n")
	for _, info := range roster {
		if !info.Enabled {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (capabilities: %s)\n",
			info.Name, info.Description, strings.Join(info.Capabilities, ", "))
	}
	b.WriteString("confidence 取值 0 到 1。无法判断时选 chat_agent 并给出较低的 confidence。")
	return b.String()
}
