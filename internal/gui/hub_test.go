package gui

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/brookwillow/kiwi/internal/bus"
)

func startedHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(bus.NewController())
	if err := h.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(h.Stop)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, srv
}

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestHubGreetsWithCurrentState(t *testing.T) {
	t.Parallel()
	_, srv := startedHub(t)
	conn := dialHub(t, srv)

	f := readFrame(t, conn)
	if f.Type != string(bus.StateChanged) {
		t.Fatalf("greeting type = %q", f.Type)
	}
	if f.Data["to"] != "idle" {
		t.Fatalf("greeting state = %v, want idle", f.Data["to"])
	}
}

func TestHubBroadcastsConversationFrames(t *testing.T) {
	t.Parallel()
	h, srv := startedHub(t)
	conn := dialHub(t, srv)
	readFrame(t, conn) // greeting; the client is registered from here on

	ev := bus.New(bus.GUIUpdateText, "dispatcher", bus.GUITextPayload{
		Kind: "agent_response", Text: "已为您打开空调。", AgentName: "vehicle_control_agent",
	})
	ev.MsgID = "msg_1_aaaaaaaa"
	h.HandleEvent(ev)

	f := readFrame(t, conn)
	if f.Type != string(bus.GUIUpdateText) || f.MsgID != "msg_1_aaaaaaaa" {
		t.Fatalf("frame = %+v", f)
	}
	if f.Data["text"] != "已为您打开空调。" || f.Data["agent"] != "vehicle_control_agent" {
		t.Fatalf("frame data = %v", f.Data)
	}
}

func TestHubIgnoresUnrelatedEvents(t *testing.T) {
	t.Parallel()
	h, srv := startedHub(t)
	conn := dialHub(t, srv)
	readFrame(t, conn)

	h.HandleEvent(bus.New(bus.AudioFrameReady, "audio", bus.AudioFramePayload{PCM: []byte{0, 0}}))
	h.HandleEvent(bus.New(bus.GUIUpdateText, "orchestrator", bus.GUITextPayload{
		Kind: "user_query", Text: "你好",
	}))

	// The audio frame must not have been forwarded.
	if f := readFrame(t, conn); f.Data["text"] != "你好" {
		t.Fatalf("first broadcast frame = %+v", f)
	}
}

func TestHubStopDisconnectsClients(t *testing.T) {
	t.Parallel()
	h, srv := startedHub(t)
	conn := dialHub(t, srv)
	readFrame(t, conn)

	h.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("connection still open after stop")
	}
	stats := h.Stats()
	if stats["running"] != false || stats["clients"] != 0 {
		t.Fatalf("stats after stop = %v", stats)
	}
}

func TestHubRefusesClientsWhenStopped(t *testing.T) {
	t.Parallel()
	h := NewHub(bus.NewController())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn := dialHub(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("stopped hub accepted a client")
	}
}
