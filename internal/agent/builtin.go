package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brookwillow/kiwi/pkg/provider/llm"
)

// RegisterBuiltins installs the stock agents. chatLLM may be nil; the chat
// agent then falls back to a canned reply instead of calling a model.
func RegisterBuiltins(r *Registry, chatLLM llm.Provider) error {
	builtins := []struct {
		info Info
		impl Agent
	}{
		{
			Info{Name: "system_agent", Description: "System notices and refusals.", Capabilities: []string{"notify"}, Priority: 3, Enabled: true},
			&systemAgent{},
		},
		{
			Info{Name: "chat_agent", Description: "Open conversation fallback.", Capabilities: []string{"chat"}, Priority: 1, Enabled: true},
			&chatAgent{llm: chatLLM},
		},
		{
			Info{Name: "vehicle_control_agent", Description: "Windows, climate, seats and doors.", Capabilities: []string{"window", "ac", "seat", "door"}, Priority: 2, Enabled: true},
			&vehicleControlAgent{},
		},
		{
			Info{Name: "music_agent", Description: "Playback control and music search.", Capabilities: []string{"play", "pause", "search"}, Priority: 1, Enabled: true},
			&musicAgent{},
		},
		{
			Info{Name: "weather_agent", Description: "Weather and temperature queries.", Capabilities: []string{"forecast"}, Priority: 1, Enabled: true},
			&weatherAgent{},
		},
		{
			Info{Name: "navigation_agent", Description: "Routes and destinations.", Capabilities: []string{"route", "poi"}, Priority: 2, Enabled: true},
			&navigationAgent{},
		},
		{
			Info{Name: "phone_agent", Description: "Calls and messages.", Capabilities: []string{"call", "sms"}, Priority: 3, Enabled: true},
			&phoneAgent{},
		},
		{
			Info{Name: "workflow_agent", Description: "Multi-step tasks that collect input across turns.", Capabilities: []string{"workflow"}, Priority: 2, Enabled: true},
			&workflowAgent{},
		},
	}
	for _, b := range builtins {
		if err := r.Register(b.info, b.impl); err != nil {
			return err
		}
	}
	return nil
}

// ─── system ──────────────────────────────────────────────────────────────────

// systemAgent speaks system notices, most importantly the refusal when a new
// request could not preempt the running session.
type systemAgent struct{}

func (a *systemAgent) Handle(ctx context.Context, req Request) (Response, error) {
	text := "当前有任务正在进行，请稍后再试。"
	if t, ok := req.Context["notice"].(string); ok && t != "" {
		text = t
	}
	return Response{Status: StatusCompleted, Text: text}, nil
}

// ─── chat ────────────────────────────────────────────────────────────────────

// chatAgent answers anything no specialist claimed. With a model configured
// it completes against it; otherwise it returns a canned acknowledgement so
// the pipeline still closes the turn.
type chatAgent struct {
	llm llm.Provider
}

func (a *chatAgent) Handle(ctx context.Context, req Request) (Response, error) {
	query := req.Query
	if req.Resume && req.UserInput != "" {
		query = req.UserInput
	}
	if a.llm == nil {
		return Response{Status: StatusCompleted, Text: "好的，我明白了。"}, nil
	}

	resp, err := a.llm.Complete(ctx, llm.Request{
		SystemPrompt: "你是车载语音助手，回答要简短口语化，适合朗读。",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: query}},
		Temperature:  0.7,
		MaxTokens:    256,
	})
	if err != nil {
		slog.Warn("chat completion failed", "err", err)
		return Response{Status: StatusError, Text: "抱歉，我暂时无法回答。"}, err
	}
	return Response{Status: StatusCompleted, Text: strings.TrimSpace(resp.Content)}, nil
}

// ─── vehicle control ─────────────────────────────────────────────────────────

type vehicleControlAgent struct{}

func (a *vehicleControlAgent) Handle(ctx context.Context, req Request) (Response, error) {
	q := req.Query
	var text string
	switch {
	case strings.Contains(q, "车窗") && (strings.Contains(q, "开") || strings.Contains(q, "打开")):
		text = "好的，已为您打开车窗。"
	case strings.Contains(q, "车窗"):
		text = "好的，已为您关闭车窗。"
	case strings.Contains(q, "空调"):
		text = fmt.Sprintf("好的，空调已调整，当前车内温度%.0f度。", req.World.Cabin.TemperatureC)
	case strings.Contains(q, "座椅"):
		text = "好的，座椅已按您的要求调整。"
	case strings.Contains(q, "车门"):
		text = "好的，车门已处理。"
	default:
		text = "好的，车辆设置已调整。"
	}
	return Response{Status: StatusCompleted, Text: text}, nil
}

// ─── music ───────────────────────────────────────────────────────────────────

type musicAgent struct{}

func (a *musicAgent) Handle(ctx context.Context, req Request) (Response, error) {
	q := req.Query
	switch {
	case strings.Contains(q, "暂停") || strings.Contains(q, "停止"):
		return Response{Status: StatusCompleted, Text: "已为您暂停播放。"}, nil
	case req.World.Media.Playing && strings.Contains(q, "什么歌"):
		return Response{
			Status: StatusCompleted,
			Text:   fmt.Sprintf("正在播放%s的《%s》。", req.World.Media.Artist, req.World.Media.Track),
		}, nil
	default:
		return Response{Status: StatusCompleted, Text: "好的，为您播放音乐。"}, nil
	}
}

// ─── weather ─────────────────────────────────────────────────────────────────

type weatherAgent struct{}

func (a *weatherAgent) Handle(ctx context.Context, req Request) (Response, error) {
	place := req.World.Location.Place
	if place == "" {
		place = "当前位置"
	}
	return Response{
		Status: StatusCompleted,
		Text:   fmt.Sprintf("%s今天多云，气温二十到二十六度，适合出行。", place),
		Data:   map[string]any{"place": place},
	}, nil
}

// ─── navigation ──────────────────────────────────────────────────────────────

type navigationAgent struct{}

func (a *navigationAgent) Handle(ctx context.Context, req Request) (Response, error) {
	dest, _ := req.Context["destination"].(string)
	if dest == "" {
		// First turn without a destination asks for one and keeps the
		// session waiting.
		if !req.Resume {
			return Response{
				Status:        StatusWaitingInput,
				Text:          "请问您要去哪里？",
				Prompt:        "请问您要去哪里？",
				ExpectedInput: "destination",
			}, nil
		}
		dest = req.UserInput
	}
	return Response{
		Status: StatusCompleted,
		Text:   fmt.Sprintf("已为您规划前往%s的路线，全程约二十分钟。", dest),
		Data:   map[string]any{"destination": dest},
	}, nil
}

// ─── phone ───────────────────────────────────────────────────────────────────

type phoneAgent struct{}

func (a *phoneAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if req.Resume {
		return Response{
			Status: StatusCompleted,
			Text:   fmt.Sprintf("好的，正在为您拨打%s。", req.UserInput),
		}, nil
	}
	contact := extractContact(req.Query)
	if contact == "" {
		return Response{
			Status:        StatusWaitingInput,
			Text:          "请问您要联系谁？",
			Prompt:        "请问您要联系谁？",
			ExpectedInput: "contact",
		}, nil
	}
	return Response{Status: StatusCompleted, Text: fmt.Sprintf("好的，正在为您拨打%s。", contact)}, nil
}

// extractContact pulls the callee from utterances like 打电话给张三 or
// 呼叫李四. Empty when no name follows the verb.
func extractContact(q string) string {
	for _, prefix := range []string{"打电话给", "拨打给", "呼叫", "联系", "拨打"} {
		if i := strings.Index(q, prefix); i >= 0 {
			name := strings.TrimSpace(q[i+len(prefix):])
			name = strings.Trim(name, "。？！，")
			if name != "" {
				return name
			}
		}
	}
	return ""
}

// ─── workflow ────────────────────────────────────────────────────────────────

// workflowAgent runs a fixed two-step confirmation flow, exercising the
// waiting-input session path end to end.
type workflowAgent struct{}

func (a *workflowAgent) Handle(ctx context.Context, req Request) (Response, error) {
	if !req.Resume {
		return Response{
			Status:        StatusWaitingInput,
			Text:          "即将执行该任务，确认吗？",
			Prompt:        "即将执行该任务，确认吗？",
			ExpectedInput: "confirmation",
		}, nil
	}
	answer := strings.TrimSpace(req.UserInput)
	if strings.Contains(answer, "取消") || strings.Contains(answer, "不") {
		return Response{Status: StatusCompleted, Text: "好的，任务已取消。"}, nil
	}
	return Response{Status: StatusCompleted, Text: "任务已完成。"}, nil
}
