package methods

import (
	"context"
	"encoding/json"

	"github.com/nextlevelbuilder/ytmc/internal/consent"
	"github.com/nextlevelbuilder/ytmc/internal/gateway"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// ConsentMethods handles consent.list, consent.get, consent.approve,
// consent.deny and consent.dismiss.
type ConsentMethods struct {
	orchestrator *consent.Orchestrator
}

func NewConsentMethods(o *consent.Orchestrator) *ConsentMethods {
	return &ConsentMethods{orchestrator: o}
}

func (m *ConsentMethods) Register(router *gateway.MethodRouter) {
	router.Register(protocol.MethodConsentList, m.handleList)
	router.Register(protocol.MethodConsentGet, m.handleGet)
	router.Register(protocol.MethodConsentApprove, m.resolveWith(func(id string) error { return m.orchestrator.Resolve(id, true) }, "approved"))
	router.Register(protocol.MethodConsentDeny, m.resolveWith(func(id string) error { return m.orchestrator.Resolve(id, false) }, "denied"))
	router.Register(protocol.MethodConsentDismiss, m.resolveWith(m.orchestrator.Dismiss, "dismissed"))
}

func (m *ConsentMethods) handleList(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	pending := m.orchestrator.Pending()
	items := make([]consent.PromptInfo, 0, len(pending))
	for _, p := range pending {
		items = append(items, p.Info())
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
		"pending": items,
	}))
}

func (m *ConsentMethods) handleGet(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
	id, ok := promptID(client, req)
	if !ok {
		return
	}
	p, found := m.orchestrator.Get(id)
	if !found {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, "no pending prompt "+id))
		return
	}
	client.SendResponse(protocol.NewOKResponse(req.ID, p.Info()))
}

func (m *ConsentMethods) resolveWith(apply func(id string) error, outcome string) gateway.MethodHandler {
	return func(_ context.Context, client *gateway.Client, req *protocol.RequestFrame) {
		id, ok := promptID(client, req)
		if !ok {
			return
		}
		if err := apply(id); err != nil {
			client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrNotFound, err.Error()))
			return
		}
		client.SendResponse(protocol.NewOKResponse(req.ID, map[string]any{
			"resolved": true,
			"decision": outcome,
		}))
	}
}

func promptID(client *gateway.Client, req *protocol.RequestFrame) (string, bool) {
	var params struct {
		ID string `json:"id"`
	}
	if req.Params != nil {
		json.Unmarshal(req.Params, &params)
	}
	if params.ID == "" {
		client.SendResponse(protocol.NewErrorResponse(req.ID, protocol.ErrInvalidRequest, "id is required"))
		return "", false
	}
	return params.ID, true
}
