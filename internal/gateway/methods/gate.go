package methods

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/ytmc/internal/gateway"
	"github.com/nextlevelbuilder/ytmc/internal/pairing"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// GateMethods handles gate.enable, gate.disable and gate.status.
type GateMethods struct {
	gate  *pairing.Gate
	codes *pairing.Registry
}

func NewGateMethods(gate *pairing.Gate, codes *pairing.Registry) *GateMethods {
	return &GateMethods{gate: gate, codes: codes}
}

func (m *GateMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodGateEnable, m.handleEnable)
	router.Register(protocol.MethodGateDisable, m.handleDisable)
	router.Register(protocol.MethodGateStatus, m.handleStatus)
}

func (m *GateMethods) handleEnable(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if err := m.gate.Enable(ctx); err != nil {
		slog.Error("pairing.gate_enable_failed", "client", client.ID(), "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	m.respondStatus(ctx, client, req)
}

func (m *GateMethods) handleDisable(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	if err := m.gate.Disable(ctx); err != nil {
		slog.Error("pairing.gate_disable_failed", "client", client.ID(), "error", err)
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	m.respondStatus(ctx, client, req)
}

func (m *GateMethods) handleStatus(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	m.respondStatus(ctx, client, req)
}

func (m *GateMethods) respondStatus(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	st, err := m.gate.Status(ctx)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	type pendingCode struct {
		AppName   string `json:"appName"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	codes := make([]pendingCode, 0)
	for _, c := range m.codes.Pending() {
		codes = append(codes, pendingCode{AppName: c.AppName, ExpiresAt: c.ExpiresAt.UnixMilli()})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"gate":         st,
		"pendingCodes": codes,
	}))
}
