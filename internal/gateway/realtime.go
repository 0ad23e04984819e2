package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/internal/bus"
	"github.com/nextlevelbuilder/ytmc/internal/tokens"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

const (
	// maxWSMessageSize is the maximum allowed WebSocket message size (512KB).
	maxWSMessageSize = 512 * 1024
	pongWait         = 60 * time.Second
	pingPeriod       = 30 * time.Second
	writeWait        = 10 * time.Second
	sendQueueSize    = 256
)

// realtimeHub serves /api/v1/realtime: one bus subscription per companion
// socket, each with its own bounded FIFO.
type realtimeHub struct {
	events   *bus.Bus
	tokens   *tokens.Store
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*realtimeClient
}

type realtimeClient struct {
	id      string
	appName string
	conn    *websocket.Conn
	send    chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newRealtimeHub(events *bus.Bus, tokens *tokens.Store) *realtimeHub {
	return &realtimeHub{
		events: events,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Companions are native apps and scripts, not browser pages;
			// the bearer token is the credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]*realtimeClient),
	}
}

// ServeHTTP authenticates before upgrading: an invalid token gets a plain
// 401 UNAUTHORIZED response and never becomes a subscriber.
func (h *realtimeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := extractBearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	app, ok := h.tokens.Validate(r.Context(), token)
	if !ok {
		slog.Warn("security.unauthorized", "path", r.URL.Path, "ip", clientIP(r))
		writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "missing or invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("realtime.upgrade_failed", "app", app, "error", err)
		return
	}

	c := &realtimeClient{
		id:      uuid.NewString(),
		appName: app,
		conn:    conn,
		send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
	h.add(c)
	defer h.remove(c)

	go c.writePump()
	c.readPump()
}

func (h *realtimeHub) add(c *realtimeClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.events.Subscribe("realtime:"+c.id, c.deliver)
	slog.Info("realtime.connected", "client", c.id, "app", c.appName, "clients", n)
}

func (h *realtimeHub) remove(c *realtimeClient) {
	h.events.Unsubscribe("realtime:" + c.id)
	c.close()

	h.mu.Lock()
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("realtime.disconnected", "client", c.id, "app", c.appName, "clients", n)
}

func (h *realtimeHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *realtimeHub) closeAll() {
	h.mu.Lock()
	clients := make([]*realtimeClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// deliver is the client's bus handler; it never blocks.
func (c *realtimeClient) deliver(ev bus.Event) {
	frame, err := protocol.NewEvent(ev.Name, ev.Payload)
	if err != nil {
		slog.Error("realtime.marshal_failed", "event", ev.Name, "error", err)
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("realtime.marshal_failed", "event", ev.Name, "error", err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		slog.Warn("realtime.send_buffer_full", "client", c.id, "app", c.appName, "event", ev.Name)
	}
}

// readPump only services control frames; companions do not send commands
// over the socket.
func (c *realtimeClient) readPump() {
	c.conn.SetReadLimit(maxWSMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("realtime.read_error", "client", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *realtimeClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *realtimeClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
