// Package ws implements the real-time fan-out channel for dashboard
// clients. Delivery is at-most-once and best effort: events broadcast while
// a client is disconnected are lost to that client, and a client that
// cannot keep up is dropped rather than allowed to stall the rest.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event is the envelope pushed to every connected client.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types emitted by the pipelines.
const (
	EventNewAlert         = "new_alert"
	EventAlertUpdated     = "alert_updated"
	EventNewInvestigation = "new_investigation"
	EventNewComment       = "new_comment"
	EventNewChatMessages  = "new_chat_messages"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "socboard_ws_connections_active",
		Help: "Number of currently connected WebSocket clients.",
	})
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socboard_ws_messages_sent_total",
		Help: "Messages delivered to client send buffers.",
	})
	messagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socboard_ws_messages_dropped_total",
		Help: "Messages dropped because a client send buffer was full.",
	})
)

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	// relay, when set, receives every locally broadcast payload for
	// cross-replica distribution.
	relay func([]byte)

	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// SetRelay wires an outbound relay for broadcast payloads. Must be called
// before Run.
func (h *Hub) SetRelay(relay func([]byte)) {
	h.relay = relay
}

// Run processes register, unregister and broadcast requests until Stop is
// called. It owns the clients set; all mutation happens on this goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			activeConnections.Inc()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				activeConnections.Dec()
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
					messagesSent.Inc()
				default:
					// Slow client: drop it instead of blocking the fan-out.
					close(client.send)
					delete(h.clients, client)
					activeConnections.Dec()
					messagesDropped.Inc()
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
				activeConnections.Dec()
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop shuts the hub down and disconnects all clients.
func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast serializes the event once and queues it for every connected
// client. Delivery is fire-and-forget; serialization failures are logged
// and swallowed so a broadcast can never fail the originating request.
func (h *Hub) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event", "type", event.Type, "error", err)
		return
	}

	h.broadcastLocal(payload)

	if h.relay != nil {
		h.relay(payload)
	}
}

// broadcastLocal fans a pre-serialized payload out to local clients only.
// The Redis bridge uses it to re-inject events from other replicas.
func (h *Hub) broadcastLocal(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
