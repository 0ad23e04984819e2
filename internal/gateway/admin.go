package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// Version is reported in the connect handshake and by `ytmc version`;
// release builds set it with -ldflags "-X .../internal/gateway.Version=...".
var Version = "dev"

// StatusFunc reports server state for the admin "status" method.
type StatusFunc func(ctx context.Context) any

// AdminHub owns the operator connections on /ws/admin and their method
// router. It implements consent.Broadcaster.
type AdminHub struct {
	token    string
	router   *MethodRouter
	upgrader websocket.Upgrader
	seq      atomic.Int64

	mu      sync.RWMutex
	clients map[string]*Client
	status  StatusFunc
}

// NewAdminHub creates the hub. An empty token admits loopback clients only.
func NewAdminHub(token string) *AdminHub {
	h := &AdminHub{
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
	h.router = NewMethodRouter(h)
	return h
}

// Router exposes the method router so method groups can register.
func (h *AdminHub) Router() *MethodRouter { return h.router }

func (h *AdminHub) SetStatusFunc(fn StatusFunc) {
	h.mu.Lock()
	h.status = fn
	h.mu.Unlock()
}

func (h *AdminHub) statusFunc() StatusFunc {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *AdminHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("admin.upgrade_failed", "error", err)
		return
	}

	client := NewClient(conn, h, isLoopback(r))
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()
		slog.Debug("admin.disconnected", "client", client.id)
	}()

	client.Run(r.Context())
}

// Broadcast sends event to every authenticated operator and returns how
// many were reached.
func (h *AdminHub) Broadcast(event string, payload any) int {
	frame, err := protocol.NewEvent(event, payload)
	if err != nil {
		slog.Error("admin.marshal_failed", "event", event, "error", err)
		return 0
	}
	frame.Seq = h.seq.Add(1)

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.isAuthenticated() {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.SendEvent(frame)
	}
	return len(targets)
}

func (h *AdminHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.isAuthenticated() {
			n++
		}
	}
	return n
}

// Close disconnects every operator.
func (h *AdminHub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}
}
