package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// MethodHandler processes a single RPC method request.
type MethodHandler func(ctx context.Context, client *Client, req *protocol.RequestFrame)

// MethodRouter maps method names to handlers.
type MethodRouter struct {
	handlers map[string]MethodHandler
	hub      *AdminHub
}

func NewMethodRouter(hub *AdminHub) *MethodRouter {
	r := &MethodRouter{
		handlers: make(map[string]MethodHandler),
		hub:      hub,
	}
	r.registerDefaults()
	return r
}

// Register adds a method handler.
func (r *MethodRouter) Register(method string, handler MethodHandler) {
	r.handlers[method] = handler
}

// Handle dispatches a request to the appropriate handler.
func (r *MethodRouter) Handle(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	handler, ok := r.handlers[req.Method]
	if !ok {
		slog.Warn("unknown method", "method", req.Method, "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(
			req.ID,
			protocol.ErrInvalidRequest,
			"unknown method: "+req.Method,
		))
		return
	}

	slog.Debug("handling method", "method", req.Method, "client", client.id, "req_id", req.ID)
	handler(ctx, client, req)
}

func (r *MethodRouter) registerDefaults() {
	r.Register(protocol.MethodConnect, r.handleConnect)
	r.Register(protocol.MethodHealth, r.handleHealth)
	r.Register(protocol.MethodStatus, r.handleStatus)
}

// handleConnect authenticates the operator. With an admin token configured
// it must match; without one only loopback clients are admitted.
func (r *MethodRouter) handleConnect(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	var params struct {
		Token string `json:"token"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}

	expected := r.hub.token
	switch {
	case expected != "" && subtle.ConstantTimeCompare([]byte(params.Token), []byte(expected)) == 1:
	case expected == "" && client.loopback:
	default:
		slog.Warn("security.admin_unauthorized", "client", client.id)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrUnauthorized, "invalid admin token"))
		return
	}

	client.setAuthenticated()
	slog.Info("admin.connected", "client", client.id)
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"protocol": protocol.ProtocolVersion,
		"server": map[string]any{
			"name":    "ytmc",
			"version": Version,
		},
	}))
}

func (r *MethodRouter) handleHealth(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"status": "ok",
	}))
}

func (r *MethodRouter) handleStatus(ctx context.Context, client *Client, req *protocol.RequestFrame) {
	payload := map[string]any{"operators": r.hub.count()}
	if fn := r.hub.statusFunc(); fn != nil {
		payload["server"] = fn(ctx)
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, payload))
}
