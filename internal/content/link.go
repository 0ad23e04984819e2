// Package content serves the WebSocket the embedded player page connects to.
// Telemetry flows in as event frames and is folded into the aggregator;
// commands and catalog requests flow out as request frames.
package content

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/internal/bus"
	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/playerstate"
	"github.com/nextlevelbuilder/ytmc/internal/tracing"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// DefaultRequestTimeout bounds a catalog round trip.
const DefaultRequestTimeout = 5 * time.Second

// SecretHeader carries the shared content secret on the upgrade request.
// The query parameter "secret" is accepted as well.
const SecretHeader = "X-Ytmc-Content-Secret"

var (
	ErrUnavailable   = errors.New("content: player not connected")
	ErrResultTimeout = errors.New("content: player did not answer in time")
)

// Options configures a Link. Zero values select the defaults.
type Options struct {
	Secret  string
	Timeout time.Duration
	Clock   clock.Clock
}

// Link is the single active connection to the embedded player.
type Link struct {
	agg     *playerstate.Aggregator
	events  *bus.Bus
	dedupe  *bus.DedupeCache
	clock   clock.Clock
	secret  string
	timeout time.Duration

	upgrader websocket.Upgrader

	mu      sync.Mutex
	active  *conn
	pending map[string]*pendingCall
}

type pendingCall struct {
	conn *conn
	done chan *protocol.ResponseFrame
}

func New(agg *playerstate.Aggregator, events *bus.Bus, opts Options) *Link {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Link{
		agg:     agg,
		events:  events,
		dedupe:  bus.NewDedupeCache(clk, 2*time.Second, 128),
		clock:   clk,
		secret:  opts.Secret,
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Loopback and the shared secret are the gate; the player page
			// origin is not stable across builds.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pending: make(map[string]*pendingCall),
	}
}

// Connected reports whether a player is attached.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil
}

// ServeHTTP upgrades a loopback request carrying the shared secret and
// serves it until the socket closes. A new connection replaces the old one.
func (l *Link) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		slog.Warn("security.content_rejected", "remote", r.RemoteAddr, "reason", "not loopback")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !l.checkSecret(r) {
		slog.Warn("security.content_rejected", "remote", r.RemoteAddr, "reason", "bad secret")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("content.upgrade_failed", "error", err)
		return
	}

	c := newConn(ws, l)
	l.attach(c)
	defer l.detach(c)

	go c.writePump()
	c.readPump()
}

// Close drops the active connection, failing its pending calls.
func (l *Link) Close() {
	if c := l.current(); c != nil {
		c.close()
	}
}

// SendCommand forwards a remote-control command without waiting for an
// answer.
func (l *Link) SendCommand(command string, value any) error {
	c := l.current()
	if c == nil {
		return ErrUnavailable
	}
	req, err := protocol.NewRequest(uuid.NewString(), protocol.ContentMethodRemoteControl, map[string]any{
		"command": command,
		"value":   value,
	})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if !c.enqueue(req) {
		return ErrUnavailable
	}
	return nil
}

// RequestPlaylists asks the player for the account's playlists and returns
// its payload verbatim. It fails with ErrUnavailable when no player is
// attached (or it goes away mid-request) and ErrResultTimeout when no
// answer arrives in time.
func (l *Link) RequestPlaylists(ctx context.Context) (_ json.RawMessage, err error) {
	ctx, span := tracing.Start(ctx, "content.get_playlists")
	defer func() { tracing.End(span, err) }()

	c := l.current()
	if c == nil {
		return nil, ErrUnavailable
	}

	id := uuid.NewString()
	req, err := protocol.NewRequest(id, protocol.ContentMethodGetPlaylists, nil)
	if err != nil {
		return nil, err
	}
	call := &pendingCall{conn: c, done: make(chan *protocol.ResponseFrame, 1)}

	l.mu.Lock()
	l.pending[id] = call
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, id)
		l.mu.Unlock()
	}()

	if !c.enqueue(req) {
		return nil, ErrUnavailable
	}

	timedOut := make(chan struct{})
	timer := l.clock.AfterFunc(l.timeout, func() { close(timedOut) })
	defer timer.Stop()

	select {
	case resp := <-call.done:
		if resp == nil {
			return nil, ErrUnavailable
		}
		if !resp.OK {
			msg := "player error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, msg)
		}
		return resp.Payload, nil
	case <-timedOut:
		slog.Warn("content.request_timeout", "method", protocol.ContentMethodGetPlaylists, "id", id)
		return nil, ErrResultTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Link) current() *conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Link) attach(c *conn) {
	l.mu.Lock()
	old := l.active
	l.active = c
	l.mu.Unlock()

	if old != nil {
		slog.Info("content.replaced", "old", old.id, "new", c.id)
		old.close()
	}
	slog.Info("content.connected", "conn", c.id)
}

// detach drops c and fails every call still waiting on it.
func (l *Link) detach(c *conn) {
	c.close()

	l.mu.Lock()
	if l.active == c {
		l.active = nil
	}
	for id, call := range l.pending {
		if call.conn == c {
			delete(l.pending, id)
			call.done <- nil
		}
	}
	l.mu.Unlock()
	slog.Info("content.disconnected", "conn", c.id)
}

func (l *Link) resolve(c *conn, resp *protocol.ResponseFrame) {
	l.mu.Lock()
	call, ok := l.pending[resp.ID]
	if ok && call.conn == c {
		delete(l.pending, resp.ID)
	} else {
		ok = false
	}
	l.mu.Unlock()

	if !ok {
		// Command acks and late catalog answers land here.
		slog.Debug("content.unmatched_response", "id", resp.ID, "ok", resp.OK)
		return
	}
	call.done <- resp
}

func (l *Link) checkSecret(r *http.Request) bool {
	if l.secret == "" {
		return true
	}
	got := r.Header.Get(SecretHeader)
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(l.secret)) == 1
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
