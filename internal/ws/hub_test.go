package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestClient(h *Hub, buffer int) *Client {
	return &Client{
		hub:  h,
		send: make(chan []byte, buffer),
	}
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, h.ClientCount())
}

func TestHub_BroadcastReachesAllClients(t *testing.T) {
	h := NewHub(nil)
	go h.Run()
	defer h.Stop()

	a := newTestClient(h, 8)
	b := newTestClient(h, 8)
	h.register <- a
	h.register <- b
	waitForCount(t, h, 2)

	h.Broadcast(Event{Type: EventNewAlert, Data: map[string]string{"id": "1"}})

	for _, c := range []*Client{a, b} {
		var event Event
		if err := json.Unmarshal(receive(t, c), &event); err != nil {
			t.Fatalf("failed to decode event: %v", err)
		}
		if event.Type != EventNewAlert {
			t.Errorf("expected %s, got %s", EventNewAlert, event.Type)
		}
	}
}

func TestHub_UnregisteredClientExcluded(t *testing.T) {
	h := NewHub(nil)
	go h.Run()
	defer h.Stop()

	a := newTestClient(h, 8)
	b := newTestClient(h, 8)
	h.register <- a
	h.register <- b
	waitForCount(t, h, 2)

	h.unregister <- b
	waitForCount(t, h, 1)

	h.Broadcast(Event{Type: EventNewComment})
	receive(t, a)

	// b's channel was closed on unregister; nothing new arrives.
	select {
	case msg, ok := <-b.send:
		if ok && len(msg) > 0 {
			t.Error("unregistered client should not receive broadcasts")
		}
	default:
	}
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := NewHub(nil)
	go h.Run()
	defer h.Stop()

	fast := newTestClient(h, 8)
	slow := newTestClient(h, 0) // no buffer, never drained
	h.register <- fast
	h.register <- slow
	waitForCount(t, h, 2)

	h.Broadcast(Event{Type: EventAlertUpdated})
	receive(t, fast)

	waitForCount(t, h, 1)

	// The fast client keeps receiving after the slow one is gone.
	h.Broadcast(Event{Type: EventAlertUpdated})
	receive(t, fast)
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	h := NewHub(nil)
	go h.Run()

	c := newTestClient(h, 8)
	h.register <- c
	waitForCount(t, h, 1)

	h.Stop()

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	if got := h.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after stop, got %d", got)
	}
}

func TestHandler_UpgradeAfterStopClosesConnection(t *testing.T) {
	h := NewHub(nil)
	go h.Run()
	h.Stop()

	handler := NewHandler(h, Options{}, nil)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		// The upgrade was already refused; nothing lingers.
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected a stopped hub to close the connection")
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after stop, got %d", got)
	}
}

func TestHub_BroadcastAfterStopDoesNotBlock(t *testing.T) {
	h := NewHub(nil)
	go h.Run()
	h.Stop()

	done := make(chan struct{})
	go func() {
		h.Broadcast(Event{Type: EventNewAlert})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked after Stop")
	}
}
