package consent

import (
	"errors"
	"log/slog"

	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// Surface presents a prompt to the local operator. Open must not block on
// the decision; the decision arrives later through Orchestrator.Resolve or
// Orchestrator.Dismiss. Close is called exactly once for every prompt whose
// Open succeeded.
type Surface interface {
	Open(p *Prompt) error
	Close(p *Prompt)
}

// ErrNoOperator is returned by BroadcastSurface when nobody is listening.
var ErrNoOperator = errors.New("consent: no operator connected")

// Broadcaster pushes an event to connected operator clients and reports how
// many received it.
type Broadcaster interface {
	Broadcast(event string, payload any) int
}

// BroadcastSurface shows prompts on the admin channel: consent.requested on
// open, consent.closed on close.
type BroadcastSurface struct {
	b Broadcaster
}

func NewBroadcastSurface(b Broadcaster) *BroadcastSurface {
	return &BroadcastSurface{b: b}
}

func (s *BroadcastSurface) Open(p *Prompt) error {
	if n := s.b.Broadcast(protocol.EventConsentRequested, p.Info()); n == 0 {
		return ErrNoOperator
	}
	return nil
}

func (s *BroadcastSurface) Close(p *Prompt) {
	n := s.b.Broadcast(protocol.EventConsentClosed, map[string]string{"id": p.ID()})
	slog.Debug("consent.surface_closed", "id", p.ID(), "clients", n)
}

// FuncSurface adapts plain functions, for headless runs and tests. A nil
// OpenFunc accepts every prompt without showing it.
type FuncSurface struct {
	OpenFunc  func(p *Prompt) error
	CloseFunc func(p *Prompt)
}

func (s FuncSurface) Open(p *Prompt) error {
	if s.OpenFunc == nil {
		return nil
	}
	return s.OpenFunc(p)
}

func (s FuncSurface) Close(p *Prompt) {
	if s.CloseFunc != nil {
		s.CloseFunc(p)
	}
}
