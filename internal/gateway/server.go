package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/ytmc/internal/bus"
	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/config"
	"github.com/nextlevelbuilder/ytmc/internal/consent"
	"github.com/nextlevelbuilder/ytmc/internal/content"
	"github.com/nextlevelbuilder/ytmc/internal/pairing"
	"github.com/nextlevelbuilder/ytmc/internal/playerstate"
	"github.com/nextlevelbuilder/ytmc/internal/tokens"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

const shutdownTimeout = 5 * time.Second

// Deps are the components the gateway fronts. All are required except
// Content (catalog and commands then report the player as unavailable) and
// Admin (no /ws/admin route).
type Deps struct {
	Gate    *pairing.Gate
	Codes   *pairing.Registry
	Consent *consent.Orchestrator
	Tokens  *tokens.Store
	Player  *playerstate.Aggregator
	Content *content.Link
	Events  *bus.Bus
	Admin   *AdminHub
	Clock   clock.Clock
}

type routeLimiters struct {
	global      *RateLimiter
	requestCode *RateLimiter
	request     *RateLimiter
	state       *RateLimiter
	playlists   *RateLimiter
	command     *RateLimiter
}

func (l routeLimiters) all() []*RateLimiter {
	return []*RateLimiter{l.global, l.requestCode, l.request, l.state, l.playlists, l.command}
}

// Server is the companion HTTP surface: REST under /api/v1, the realtime
// socket, the embedded player link and the admin control plane.
type Server struct {
	gate    *pairing.Gate
	codes   *pairing.Registry
	consent *consent.Orchestrator
	tokens  *tokens.Store
	player  *playerstate.Aggregator
	content *content.Link
	events  *bus.Bus
	admin   *AdminHub

	limits   routeLimiters
	realtime *realtimeHub
	handler  http.Handler
}

func NewServer(cfg *config.Config, d Deps) *Server {
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	rl := cfg.RateLimits
	s := &Server{
		gate:    d.Gate,
		codes:   d.Codes,
		consent: d.Consent,
		tokens:  d.Tokens,
		player:  d.Player,
		content: d.Content,
		events:  d.Events,
		admin:   d.Admin,
		limits: routeLimiters{
			global:      NewRateLimiter("global", rl.Global.Max, rl.Global.Window(), clk),
			requestCode: NewRateLimiter("auth.requestcode", rl.RequestCode.Max, rl.RequestCode.Window(), clk),
			request:     NewRateLimiter("auth.request", rl.Request.Max, rl.Request.Window(), clk),
			state:       NewRateLimiter("state", rl.State.Max, rl.State.Window(), clk),
			playlists:   NewRateLimiter("playlists", rl.Playlists.Max, rl.Playlists.Window(), clk),
			command:     NewRateLimiter("command", rl.Command.Max, rl.Command.Window(), clk),
		},
	}
	s.realtime = newRealtimeHub(d.Events, d.Tokens)

	// Every accepted player update is pushed to realtime subscribers as
	// the public view.
	s.player.Subscribe("gateway", func(ps *playerstate.PlayerState) {
		s.events.Publish(bus.Event{Name: protocol.EventStateUpdate, Payload: playerstate.NewView(ps)})
	})

	if s.admin != nil {
		s.admin.SetStatusFunc(s.status)
	}

	s.handler = recoverer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	api := protocol.APIPrefix

	public := func(rl *RateLimiter, h http.HandlerFunc) http.Handler {
		return limit(s.limits.global, limit(rl, h))
	}
	authed := func(rl *RateLimiter, h http.HandlerFunc) http.Handler {
		return limit(s.limits.global, s.requireToken(limit(rl, h)))
	}

	mux.Handle("POST "+api+"/auth/requestcode", public(s.limits.requestCode, s.handleRequestCode))
	mux.Handle("POST "+api+"/auth/request", public(s.limits.request, s.handleAuthorize))
	mux.Handle("GET "+api+"/state", authed(s.limits.state, s.handleState))
	mux.Handle("GET "+api+"/playlists", authed(s.limits.playlists, s.handlePlaylists))
	mux.Handle("POST "+api+"/command", authed(s.limits.command, s.handleCommand))
	mux.Handle("GET "+api+"/realtime", limit(s.limits.global, s.realtime))

	if s.content != nil {
		mux.Handle("GET /content", s.content)
	}
	if s.admin != nil {
		mux.Handle("GET /ws/admin", s.admin)
	}
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Handler returns the root handler, for tests and custom listeners.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve accepts connections on ln until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("gateway.listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked sockets are not tracked by http.Server.
	s.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("gateway.shutdown_error", "error", err)
	}
	return nil
}

// Close drops every WebSocket client and stops background work.
func (s *Server) Close() {
	s.player.Unsubscribe("gateway")
	s.realtime.closeAll()
	if s.admin != nil {
		s.admin.Close()
	}
	if s.content != nil {
		s.content.Close()
	}
	for _, rl := range s.limits.all() {
		rl.Stop()
	}
}

func (s *Server) status(ctx context.Context) any {
	limits := make(map[string]bool)
	for _, rl := range s.limits.all() {
		limits[rl.name] = rl.Enabled()
	}
	gate, err := s.gate.Status(ctx)
	if err != nil {
		slog.Warn("gateway.gate_status_failed", "error", err)
	}
	return map[string]any{
		"gate":            gate,
		"playerConnected": s.content != nil && s.content.Connected(),
		"realtimeClients": s.realtime.count(),
		"pendingConsents": len(s.consent.Pending()),
		"pendingCodes":    len(s.codes.Pending()),
		"trackState":      s.player.State().TrackState.String(),
		"rateLimits":      limits,
	}
}
