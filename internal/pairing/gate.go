// Package pairing holds the two primitives in front of companion consent:
// the auto-expiring Gate that must be open for any pairing attempt, and the
// Registry of short single-use codes.
//
// Gate state lives in the store as two sealed values so that it survives a
// restart and cannot be forced open by editing the store by hand. On start,
// Reconcile re-arms the expiry timer or closes a gate whose window already
// passed.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/crypto"
	"github.com/nextlevelbuilder/ytmc/internal/store"
)

// DefaultWindow is how long the gate stays open after Enable.
const DefaultWindow = 300 * time.Second

const enabledValue = "true"

// GateStatus describes the gate at one instant.
type GateStatus struct {
	Open      bool      `json:"open"`
	EnabledAt time.Time `json:"enabledAt,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Gate is the process-wide pairing switch. Create one per process and Close
// it on shutdown.
type Gate struct {
	kv     store.KV
	box    *crypto.Box
	clock  clock.Clock
	window time.Duration

	mu       sync.Mutex
	timer    *clock.Timer
	timerGen uint64
	handlers []func(GateStatus)
}

func NewGate(kv store.KV, box *crypto.Box, clk clock.Clock, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Gate{kv: kv, box: box, clock: clk, window: window}
}

// OnChange registers fn to run after every open/close transition.
func (g *Gate) OnChange(fn func(GateStatus)) {
	g.mu.Lock()
	g.handlers = append(g.handlers, fn)
	g.mu.Unlock()
}

// Enable opens the gate for one window, restarting the window if it was
// already open.
func (g *Gate) Enable(ctx context.Context) error {
	now := g.clock.Now()

	sealedTime, err := g.box.Seal(now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("seal gate time: %w", err)
	}
	sealedFlag, err := g.box.Seal(enabledValue)
	if err != nil {
		return fmt.Errorf("seal gate flag: %w", err)
	}
	if err := g.kv.Set(ctx, store.KeyAuthWindowEnabledAt, sealedTime); err != nil {
		return fmt.Errorf("persist gate time: %w", err)
	}
	if err := g.kv.Set(ctx, store.KeyAuthWindowEnabled, sealedFlag); err != nil {
		return fmt.Errorf("persist gate flag: %w", err)
	}

	g.mu.Lock()
	g.armLocked(g.window)
	g.mu.Unlock()

	slog.Info("pairing.gate_enabled", "window", g.window)
	g.notify(GateStatus{Open: true, EnabledAt: now, ExpiresAt: now.Add(g.window)})
	return nil
}

// Disable closes the gate and cancels the expiry timer.
func (g *Gate) Disable(ctx context.Context) error {
	g.mu.Lock()
	g.cancelLocked()
	g.mu.Unlock()

	errFlag := g.kv.Delete(ctx, store.KeyAuthWindowEnabled)
	errTime := g.kv.Delete(ctx, store.KeyAuthWindowEnabledAt)
	if err := errors.Join(errFlag, errTime); err != nil {
		return fmt.Errorf("clear gate: %w", err)
	}

	slog.Info("pairing.gate_disabled")
	g.notify(GateStatus{Open: false})
	return nil
}

// IsOpen reports whether pairing is currently allowed. Any read or decrypt
// failure counts as closed. A gate found past its window is closed on the
// spot, covering a timer that has not fired yet.
func (g *Gate) IsOpen(ctx context.Context) bool {
	st, err := g.read(ctx)
	if err != nil {
		slog.Warn("pairing.gate_unreadable", "error", err)
		return false
	}
	if st.Open && !g.clock.Now().Before(st.ExpiresAt) {
		if err := g.Disable(ctx); err != nil {
			slog.Warn("pairing.gate_disable_failed", "error", err)
		}
		return false
	}
	return st.Open
}

// Status returns the gate state with its window bounds when open.
func (g *Gate) Status(ctx context.Context) (GateStatus, error) {
	st, err := g.read(ctx)
	if err != nil {
		return GateStatus{}, err
	}
	if st.Open && !g.clock.Now().Before(st.ExpiresAt) {
		return GateStatus{}, nil
	}
	return st, nil
}

// Reconcile brings the gate in line with wall time after a restart: a
// window already elapsed, or unreadable state, force-closes the gate;
// otherwise the timer is armed for the remainder.
func (g *Gate) Reconcile(ctx context.Context) error {
	flag, err := g.kv.Get(ctx, store.KeyAuthWindowEnabled)
	if errors.Is(err, store.ErrNotFound) {
		// Stray timestamp without a flag is cleared too.
		if _, terr := g.kv.Get(ctx, store.KeyAuthWindowEnabledAt); terr == nil {
			return g.Disable(ctx)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read gate flag: %w", err)
	}

	st, rerr := g.decode(ctx, flag)
	now := g.clock.Now()
	switch {
	case rerr != nil:
		slog.Warn("pairing.gate_reconcile_unreadable", "error", rerr)
		return g.Disable(ctx)
	case !st.Open:
		return g.Disable(ctx)
	case !now.Before(st.ExpiresAt):
		slog.Info("pairing.gate_reconcile_expired", "enabled_at", st.EnabledAt)
		return g.Disable(ctx)
	}

	remaining := st.ExpiresAt.Sub(now)
	g.mu.Lock()
	g.armLocked(remaining)
	g.mu.Unlock()
	slog.Info("pairing.gate_reconcile_rearmed", "remaining", remaining)
	return nil
}

// Close stops the expiry timer. Persisted state is left as is so the next
// process can reconcile it.
func (g *Gate) Close() {
	g.mu.Lock()
	g.cancelLocked()
	g.mu.Unlock()
}

func (g *Gate) read(ctx context.Context) (GateStatus, error) {
	flag, err := g.kv.Get(ctx, store.KeyAuthWindowEnabled)
	if errors.Is(err, store.ErrNotFound) {
		return GateStatus{}, nil
	}
	if err != nil {
		return GateStatus{}, fmt.Errorf("read gate flag: %w", err)
	}
	return g.decode(ctx, flag)
}

func (g *Gate) decode(ctx context.Context, sealedFlag string) (GateStatus, error) {
	flag, err := g.box.Open(sealedFlag)
	if err != nil {
		return GateStatus{}, fmt.Errorf("open gate flag: %w", err)
	}
	if flag != enabledValue {
		return GateStatus{}, nil
	}
	sealedTime, err := g.kv.Get(ctx, store.KeyAuthWindowEnabledAt)
	if err != nil {
		return GateStatus{}, fmt.Errorf("read gate time: %w", err)
	}
	raw, err := g.box.Open(sealedTime)
	if err != nil {
		return GateStatus{}, fmt.Errorf("open gate time: %w", err)
	}
	enabledAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return GateStatus{}, fmt.Errorf("parse gate time: %w", err)
	}
	return GateStatus{Open: true, EnabledAt: enabledAt, ExpiresAt: enabledAt.Add(g.window)}, nil
}

func (g *Gate) armLocked(d time.Duration) {
	g.cancelLocked()
	gen := g.timerGen
	g.timer = g.clock.AfterFunc(d, func() { g.expire(gen) })
}

func (g *Gate) cancelLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.timerGen++
}

func (g *Gate) expire(gen uint64) {
	g.mu.Lock()
	if gen != g.timerGen {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	g.mu.Unlock()

	slog.Info("pairing.gate_expired")
	if err := g.Disable(context.Background()); err != nil {
		slog.Error("pairing.gate_expire_failed", "error", err)
	}
}

func (g *Gate) notify(st GateStatus) {
	g.mu.Lock()
	handlers := make([]func(GateStatus), len(g.handlers))
	copy(handlers, g.handlers)
	g.mu.Unlock()
	for _, h := range handlers {
		h(st)
	}
}
