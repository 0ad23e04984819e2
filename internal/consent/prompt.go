package consent

import (
	"sync"
	"time"
)

// Decision is the terminal outcome of a consent request.
type Decision string

const (
	Approved  Decision = "approved"
	Denied    Decision = "denied"
	Expired   Decision = "expired"
	Cancelled Decision = "cancelled"
)

// Approved reports whether the requester may be issued a token.
func (d Decision) Approved() bool { return d == Approved }

// Prompt is one pending authorization as seen by a consent surface. The app
// name and code are read-only; the operator compares the code against the
// one shown by the companion app.
type Prompt struct {
	id        string
	appName   string
	code      string
	createdAt time.Time
	expiresAt time.Time

	once   sync.Once
	result chan Decision
}

func newPrompt(id, appName, code string, createdAt time.Time, timeout time.Duration) *Prompt {
	return &Prompt{
		id:        id,
		appName:   appName,
		code:      code,
		createdAt: createdAt,
		expiresAt: createdAt.Add(timeout),
		result:    make(chan Decision, 1),
	}
}

func (p *Prompt) ID() string           { return p.id }
func (p *Prompt) AppName() string      { return p.appName }
func (p *Prompt) Code() string         { return p.code }
func (p *Prompt) CreatedAt() time.Time { return p.createdAt }
func (p *Prompt) ExpiresAt() time.Time { return p.expiresAt }

// resolve delivers d if no decision was delivered yet.
func (p *Prompt) resolve(d Decision) bool {
	delivered := false
	p.once.Do(func() {
		p.result <- d
		delivered = true
	})
	return delivered
}

// PromptInfo is the JSON form sent to operator clients.
type PromptInfo struct {
	ID        string    `json:"id"`
	AppName   string    `json:"appName"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (p *Prompt) Info() PromptInfo {
	return PromptInfo{
		ID:        p.id,
		AppName:   p.appName,
		Code:      p.code,
		CreatedAt: p.createdAt,
		ExpiresAt: p.expiresAt,
	}
}
