// Package consent runs the human approval step of companion pairing. A
// request opens a prompt on a Surface and waits for the first of: an
// operator decision, the prompt being dismissed, the absolute timeout, the
// requester going away, or context cancellation.
package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultDisconnectPoll = 250 * time.Millisecond
)

var (
	// ErrAlreadyPending is returned when the app already has a prompt open.
	ErrAlreadyPending = errors.New("consent: authorization already pending for app")
	// ErrNotFound is returned when resolving an unknown or finished prompt.
	ErrNotFound = errors.New("consent: no pending authorization with that id")
)

// Orchestrator tracks pending prompts. At most one prompt exists per app.
type Orchestrator struct {
	surface Surface
	clock   clock.Clock
	timeout time.Duration
	poll    time.Duration

	mu      sync.Mutex
	pending map[string]*Prompt // by id
	byApp   map[string]string  // app name -> id
}

func New(surface Surface, clk clock.Clock, timeout, poll time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if poll <= 0 {
		poll = DefaultDisconnectPoll
	}
	return &Orchestrator{
		surface: surface,
		clock:   clk,
		timeout: timeout,
		poll:    poll,
		pending: make(map[string]*Prompt),
		byApp:   make(map[string]string),
	}
}

// Request shows a prompt for appName/code and blocks until it is decided.
// alive is polled while waiting; when it reports false the request ends as
// Cancelled. A nil alive is never polled.
func (o *Orchestrator) Request(ctx context.Context, appName, code string, alive func() bool) (Decision, error) {
	p, err := o.register(appName, code)
	if err != nil {
		return Denied, err
	}
	defer o.unregister(p)

	if o.surface == nil {
		slog.Warn("consent.no_surface", "app", appName)
		return Denied, nil
	}
	if err := o.surface.Open(p); err != nil {
		slog.Warn("consent.surface_open_failed", "app", appName, "error", err)
		return Denied, nil
	}
	defer o.surface.Close(p)

	timer := o.clock.AfterFunc(o.timeout, func() { p.resolve(Expired) })
	defer timer.Stop()

	ticker := o.clock.NewTicker(o.poll)
	defer ticker.Stop()

	slog.Info("consent.requested", "app", appName, "id", p.id, "timeout", o.timeout)

	var decision Decision
wait:
	for {
		select {
		case decision = <-p.result:
			break wait
		case <-ticker.C:
			if alive != nil && !alive() {
				if p.resolve(Cancelled) {
					decision = <-p.result
					break wait
				}
			}
		case <-ctx.Done():
			p.resolve(Cancelled)
			decision = <-p.result
			break wait
		}
	}

	slog.Info("consent.resolved", "app", appName, "id", p.id, "decision", decision)
	return decision, nil
}

// Resolve records an operator decision for prompt id.
func (o *Orchestrator) Resolve(id string, approved bool) error {
	d := Denied
	if approved {
		d = Approved
	}
	return o.deliver(id, d)
}

// Dismiss closes prompt id without a decision, which counts as Denied.
func (o *Orchestrator) Dismiss(id string) error {
	return o.deliver(id, Denied)
}

// Get returns the pending prompt with id.
func (o *Orchestrator) Get(id string) (*Prompt, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[id]
	return p, ok
}

// HasPending reports whether appName has a prompt open.
func (o *Orchestrator) HasPending(appName string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.byApp[appName]
	return ok
}

// Pending lists open prompts, oldest first.
func (o *Orchestrator) Pending() []*Prompt {
	o.mu.Lock()
	out := make([]*Prompt, 0, len(o.pending))
	for _, p := range o.pending {
		out = append(out, p)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

func (o *Orchestrator) deliver(id string, d Decision) error {
	p, ok := o.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !p.resolve(d) {
		return fmt.Errorf("%w: already decided", ErrNotFound)
	}
	return nil
}

func (o *Orchestrator) register(appName, code string) (*Prompt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.byApp[appName]; ok {
		return nil, ErrAlreadyPending
	}
	p := newPrompt(uuid.NewString(), appName, code, o.clock.Now(), o.timeout)
	o.pending[p.id] = p
	o.byApp[appName] = p.id
	return p, nil
}

func (o *Orchestrator) unregister(p *Prompt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, p.id)
	if o.byApp[p.appName] == p.id {
		delete(o.byApp, p.appName)
	}
}
