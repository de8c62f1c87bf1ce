package service

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"learnpath_backend/internal/config"
	"learnpath_backend/internal/model"
)

type broadcast struct {
	room  Room
	event string
	data  interface{}
}

// recordingHub 记录所有广播，不做投递
type recordingHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (r *recordingHub) Broadcast(room Room, event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, broadcast{room: room, event: event, data: data})
}

func (r *recordingHub) to(room Room) []broadcast {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broadcast
	for _, b := range r.sent {
		if b.room == room {
			out = append(out, b)
		}
	}
	return out
}

func (r *recordingHub) reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}

type recordingEmitter struct {
	events []broadcast
}

func (e *recordingEmitter) Emit(event string, data interface{}) {
	e.events = append(e.events, broadcast{event: event, data: data})
}

type decodedEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

var testLimits = config.RealtimeConfig{
	MessageRate:    100,
	MessageBurst:   100,
	SendBuffer:     8,
	MaxMessageSize: 4096,
	EventTimeout:   time.Second,
}

// detachedClient 不带网络连接的客户端，直接读取发送队列
func detachedClient(h *ChatHub, p model.Principal) *Client {
	return newClient(h, nil, p, nil, h.Limits())
}

func nextEvent(t *testing.T, c *Client) decodedEvent {
	t.Helper()
	select {
	case b, ok := <-c.send:
		if !ok {
			t.Fatal("send queue closed")
		}
		var ev decodedEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return decodedEvent{}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b := <-c.send:
		t.Fatalf("unexpected event: %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}
