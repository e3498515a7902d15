package agent

import (
	"context"
	"testing"

	"github.com/brookwillow/kiwi/internal/worldstate"
)

func TestNavigationAsksForDestination(t *testing.T) {
	t.Parallel()
	a := &navigationAgent{}

	resp, err := a.Handle(context.Background(), Request{Query: "帮我导航"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusWaitingInput || resp.ExpectedInput != "destination" {
		t.Fatalf("first turn = %+v", resp)
	}

	resp, err = a.Handle(context.Background(), Request{Query: "帮我导航", Resume: true, UserInput: "外滩"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != StatusCompleted || resp.Data["destination"] != "外滩" {
		t.Fatalf("resumed turn = %+v", resp)
	}
}

func TestPhoneExtractsContact(t *testing.T) {
	t.Parallel()
	a := &phoneAgent{}

	resp, _ := a.Handle(context.Background(), Request{Query: "打电话给张三"})
	if resp.Status != StatusCompleted {
		t.Fatalf("direct call = %+v", resp)
	}

	resp, _ = a.Handle(context.Background(), Request{Query: "我要打电话"})
	if resp.Status != StatusWaitingInput || resp.ExpectedInput != "contact" {
		t.Fatalf("missing contact = %+v", resp)
	}

	cases := []struct{ q, want string }{
		{"打电话给张三", "张三"},
		{"呼叫李四", "李四"},
		{"拨打120", "120"},
		{"联系王经理。", "王经理"},
		{"随便说说", ""},
	}
	for _, tc := range cases {
		if got := extractContact(tc.q); got != tc.want {
			t.Errorf("extractContact(%q) = %q, want %q", tc.q, got, tc.want)
		}
	}
}

func TestWorkflowConfirmAndCancel(t *testing.T) {
	t.Parallel()
	a := &workflowAgent{}

	resp, _ := a.Handle(context.Background(), Request{Query: "执行任务"})
	if resp.Status != StatusWaitingInput || resp.ExpectedInput != "confirmation" {
		t.Fatalf("first turn = %+v", resp)
	}

	resp, _ = a.Handle(context.Background(), Request{Resume: true, UserInput: "确认"})
	if resp.Status != StatusCompleted || resp.Text != "任务已完成。" {
		t.Fatalf("confirmed = %+v", resp)
	}

	resp, _ = a.Handle(context.Background(), Request{Resume: true, UserInput: "取消吧"})
	if resp.Text != "好的，任务已取消。" {
		t.Fatalf("cancelled = %+v", resp)
	}
}

func TestMusicReportsCurrentTrack(t *testing.T) {
	t.Parallel()
	a := &musicAgent{}

	world := worldstate.Snapshot{}
	world.Media.Playing = true
	world.Media.Artist = "周杰伦"
	world.Media.Track = "晴天"

	resp, _ := a.Handle(context.Background(), Request{Query: "这是什么歌", World: world})
	if resp.Text != "正在播放周杰伦的《晴天》。" {
		t.Fatalf("track reply = %q", resp.Text)
	}

	resp, _ = a.Handle(context.Background(), Request{Query: "暂停一下", World: world})
	if resp.Text != "已为您暂停播放。" {
		t.Fatalf("pause reply = %q", resp.Text)
	}
}

func TestChatAgentCannedWithoutModel(t *testing.T) {
	t.Parallel()
	a := &chatAgent{}
	resp, err := a.Handle(context.Background(), Request{Query: "你好"})
	if err != nil || resp.Status != StatusCompleted || resp.Text == "" {
		t.Fatalf("resp = %+v err = %v", resp, err)
	}
}

func TestSystemAgentSpeaksNotice(t *testing.T) {
	t.Parallel()
	a := &systemAgent{}
	resp, _ := a.Handle(context.Background(), Request{Context: map[string]any{"notice": "测试通知"}})
	if resp.Text != "测试通知" {
		t.Fatalf("notice = %q", resp.Text)
	}
	resp, _ = a.Handle(context.Background(), Request{Context: map[string]any{}})
	if resp.Text == "" {
		t.Fatal("default notice empty")
	}
}
