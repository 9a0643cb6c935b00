package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const pingFraction = 9 // pingPeriod = pongWait * 9/10

// Options configures per-connection behavior.
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
}

func (o *Options) applyDefaults() {
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = 1024
	}
	if o.WriteBufferSize == 0 {
		o.WriteBufferSize = 1024
	}
	if o.SendBufferSize == 0 {
		o.SendBufferSize = 256
	}
	if o.PongWait == 0 {
		o.PongWait = 60 * time.Second
	}
	if o.WriteWait == 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = 512
	}
}

// Client is one connected dashboard session.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// userID is whatever the client asserted in its auth handshake. It is
	// not verified against the session that established the transport.
	userID string

	send chan []byte
	opts Options

	logger *slog.Logger
}

// authMessage is the optional one-time inbound handshake.
type authMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// Handler upgrades HTTP requests to WebSocket connections and attaches
// them to the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger
}

func NewHandler(hub *Hub, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()

	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			// The dashboard is served from a separate origin in development;
			// session auth happens at the HTTP layer before the upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		opts:   opts,
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h.hub,
		conn:   conn,
		send:   make(chan []byte, h.opts.SendBufferSize),
		opts:   h.opts,
		logger: h.logger,
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		// The hub is shutting down; refuse the session.
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads inbound messages until the connection drops. The only
// message the server interprets is the one-time auth handshake; everything
// else is ignored. Running the pump also services pong frames.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", "error", err)
			}
			break
		}

		var msg authMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Debug("ignoring malformed client message", "error", err)
			continue
		}
		if msg.Type == "auth" && msg.UserID != "" {
			c.userID = msg.UserID
		}
	}
}

// writePump writes queued payloads and periodic pings to the connection.
// All writes go through this goroutine.
func (c *Client) writePump() {
	pingPeriod := c.opts.PongWait * pingFraction / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
