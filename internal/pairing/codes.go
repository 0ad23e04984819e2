package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
)

const (
	// CodeAlphabet excludes ambiguous characters (0, O, 1, I, L).
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// CodeLength is the number of characters in a pairing code.
	CodeLength = 4
	// DefaultCodeTTL is shorter than the consent timeout so a code can never
	// outlive the prompt it was shown in.
	DefaultCodeTTL = 20 * time.Second
	// maxIssueAttempts bounds retries when a generated code is already held
	// by another app.
	maxIssueAttempts = 5
)

// ErrAuthorizationTimeout is returned by Issue when the app already holds an
// unexpired code or no unique code could be generated.
var ErrAuthorizationTimeout = errors.New("pairing: authorization code unavailable")

// IssuedCode is a live temporary code.
type IssuedCode struct {
	AppName   string    `json:"appName"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Registry holds at most one temporary code per app name.
type Registry struct {
	clock clock.Clock
	ttl   time.Duration
	gen   func() (string, error)

	mu    sync.Mutex
	codes map[string]IssuedCode // by app name
}

func NewRegistry(clk clock.Clock, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	return &Registry{
		clock: clk,
		ttl:   ttl,
		gen:   generateCode,
		codes: make(map[string]IssuedCode),
	}
}

// Issue creates a code for appName.
func (r *Registry) Issue(appName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	r.pruneExpiredLocked(now)

	if _, ok := r.codes[appName]; ok {
		return "", ErrAuthorizationTimeout
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := r.gen()
		if err != nil {
			slog.Warn("pairing.code_generate_failed", "error", err)
			continue
		}
		if r.inUseLocked(code) {
			continue
		}
		r.codes[appName] = IssuedCode{
			AppName:   appName,
			Code:      code,
			IssuedAt:  now,
			ExpiresAt: now.Add(r.ttl),
		}
		slog.Info("pairing.code_issued", "app", appName, "expires_in", r.ttl)
		return code, nil
	}

	slog.Warn("pairing.code_collisions_exhausted", "app", appName)
	return "", ErrAuthorizationTimeout
}

// ValidateAndConsume reports whether code is the live code for appName. The
// entry is removed whatever the outcome, so a code is redeemable at most
// once.
func (r *Registry) ValidateAndConsume(appName, code string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.codes[appName]
	if !ok {
		return false
	}
	delete(r.codes, appName)

	if !r.clock.Now().Before(entry.ExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(entry.Code), []byte(code)) == 1
}

// Pending lists unexpired codes sorted by issue time.
func (r *Registry) Pending() []IssuedCode {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneExpiredLocked(r.clock.Now())
	out := make([]IssuedCode, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func (r *Registry) inUseLocked(code string) bool {
	for _, c := range r.codes {
		if c.Code == code {
			return true
		}
	}
	return false
}

func (r *Registry) pruneExpiredLocked(now time.Time) {
	for app, c := range r.codes {
		if !now.Before(c.ExpiresAt) {
			delete(r.codes, app)
		}
	}
}

func generateCode() (string, error) {
	b := make([]byte, CodeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	code := make([]byte, CodeLength)
	for i := range code {
		code[i] = CodeAlphabet[int(b[i])%len(CodeAlphabet)]
	}
	return string(code), nil
}
