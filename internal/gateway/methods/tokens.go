package methods

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/ytmc/internal/gateway"
	"github.com/nextlevelbuilder/ytmc/internal/tokens"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// TokenMethods handles tokens.list, tokens.revoke and tokens.revokeAll.
type TokenMethods struct {
	store *tokens.Store
}

func NewTokenMethods(store *tokens.Store) *TokenMethods {
	return &TokenMethods{store: store}
}

func (m *TokenMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodTokensList, m.handleList)
	router.Register(protocol.MethodTokensRevoke, m.handleRevoke)
	router.Register(protocol.MethodTokensRevokeAll, m.handleRevokeAll)
}

type tokenInfo struct {
	AppName  string `json:"appName"`
	IssuedAt int64  `json:"issuedAt"`
}

func (m *TokenMethods) handleList(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	list, err := m.store.List(ctx)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	// Hashes stay server-side.
	items := make([]tokenInfo, 0, len(list))
	for _, t := range list {
		items = append(items, tokenInfo{AppName: t.AppName, IssuedAt: t.IssuedAt.UnixMilli()})
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"tokens": items,
	}))
}

func (m *TokenMethods) handleRevoke(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	var params struct {
		AppName string `json:"appName"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.AppName == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "appName is required"))
		return
	}

	n, err := m.store.Revoke(ctx, params.AppName)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	slog.Info("tokens.revoked", "app", params.AppName, "count", n, "client", client.ID())
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"revoked": n,
	}))
}

func (m *TokenMethods) handleRevokeAll(ctx context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	n, err := m.store.RevokeAll(ctx)
	if err != nil {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInternal, err.Error()))
		return
	}
	slog.Info("tokens.revoked_all", "count", n, "client", client.ID())
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"revoked": n,
	}))
}
