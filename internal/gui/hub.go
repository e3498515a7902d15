// Package gui streams conversation and state updates to dashboard clients
// over websockets.
package gui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/brookwillow/kiwi/internal/bus"
)

// sendBuffer bounds each client's outbound queue. A client that cannot keep
// up is disconnected rather than allowed to stall the hub.
const sendBuffer = 32

// Compile-time assertions.
var (
	_ bus.Module   = (*Hub)(nil)
	_ http.Handler = (*Hub)(nil)
)

// Frame is one JSON message pushed to dashboard clients.
type Frame struct {
	Type      string         `json:"type"`
	MsgID     string         `json:"msg_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans dashboard frames out to connected websocket clients. It consumes
// conversation text and state transitions from the bus; everything else is
// ignored.
type Hub struct {
	controller *bus.Controller

	mu      sync.Mutex
	running bool
	clients map[*client]struct{}
	sent    uint64
	dropped uint64
}

// NewHub creates the dashboard hub.
func NewHub(controller *bus.Controller) *Hub {
	return &Hub{
		controller: controller,
		clients:    make(map[*client]struct{}),
	}
}

// Name implements bus.Module.
func (h *Hub) Name() string { return "gui" }

// Initialize implements bus.Module.
func (h *Hub) Initialize() error { return nil }

// Start implements bus.Module.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = true
	return nil
}

// Stop implements bus.Module. Closes every client.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.running = false
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
		c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

// Cleanup implements bus.Module.
func (h *Hub) Cleanup() {}

// IsRunning implements bus.Module.
func (h *Hub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// HandleEvent implements bus.Module.
func (h *Hub) HandleEvent(ev bus.Event) {
	if !h.IsRunning() {
		return
	}
	switch ev.Type {
	case bus.GUIUpdateText, bus.StateChanged, bus.TTSSpeakStart, bus.TTSSpeakEnd:
		h.broadcast(Frame{
			Type:      string(ev.Type),
			MsgID:     ev.MsgID,
			Timestamp: ev.Timestamp,
			Data:      ev.Payload.Fields(),
		})
	}
}

// ServeHTTP upgrades the request and registers the client. The handler
// returns once the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // dashboard is same-host only
	})
	if err != nil {
		slog.Warn("gui websocket accept failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "not running")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("gui client connected", "remote", r.RemoteAddr)

	// Greet with the current machine state so the dashboard renders
	// immediately.
	if state, err := json.Marshal(Frame{
		Type:      string(bus.StateChanged),
		Timestamp: time.Now(),
		Data:      map[string]any{"to": string(h.controller.CurrentState())},
	}); err == nil {
		select {
		case c.send <- state:
		default:
		}
	}

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)
}

// broadcast queues data on every client, dropping clients that are full.
func (h *Hub) broadcast(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
			h.sent++
		default:
			h.dropped++
			delete(h.clients, c)
			close(c.send)
			go c.conn.Close(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for data := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop drains inbound messages so pings are answered; dashboard clients
// never send application data.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		c.conn.Close(websocket.StatusNormalClosure, "bye")
	}
}

// Stats returns hub counters for the status endpoint.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]any{
		"clients":        len(h.clients),
		"frames_sent":    h.sent,
		"frames_dropped": h.dropped,
		"running":        h.running,
	}
}
