package pairing

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
)

func newTestRegistry() (*Registry, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(clk, DefaultCodeTTL), clk
}

func TestIssue_CodeShape(t *testing.T) {
	r, _ := newTestRegistry()
	code, err := r.Issue("remote")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(code) != CodeLength {
		t.Errorf("len(code) = %d, want %d", len(code), CodeLength)
	}
	for _, c := range code {
		if !strings.ContainsRune(CodeAlphabet, c) {
			t.Errorf("code %q contains %q outside alphabet", code, c)
		}
	}
}

func TestIssue_OnePendingPerApp(t *testing.T) {
	r, clk := newTestRegistry()

	if _, err := r.Issue("remote"); err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	if _, err := r.Issue("remote"); err != ErrAuthorizationTimeout {
		t.Errorf("second Issue err = %v, want ErrAuthorizationTimeout", err)
	}
	if _, err := r.Issue("other-app"); err != nil {
		t.Errorf("different app blocked: %v", err)
	}

	clk.Advance(DefaultCodeTTL)
	if _, err := r.Issue("remote"); err != nil {
		t.Errorf("Issue after expiry: %v", err)
	}
}

func TestIssue_CollisionRetriesExhausted(t *testing.T) {
	r, _ := newTestRegistry()
	r.gen = func() (string, error) { return "AB23", nil }

	if _, err := r.Issue("first"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := r.Issue("second"); err != ErrAuthorizationTimeout {
		t.Errorf("err = %v, want ErrAuthorizationTimeout", err)
	}
}

func TestIssue_CollisionRetrySucceeds(t *testing.T) {
	r, _ := newTestRegistry()
	codes := []string{"AB23", "AB23", "CD45"}
	r.gen = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	r.Issue("first")
	code, err := r.Issue("second")
	if err != nil || code != "CD45" {
		t.Errorf("Issue = %q, %v; want CD45", code, err)
	}
}

func TestValidateAndConsume_SingleUse(t *testing.T) {
	r, _ := newTestRegistry()
	code, _ := r.Issue("remote")

	if !r.ValidateAndConsume("remote", code) {
		t.Fatal("valid code rejected")
	}
	if r.ValidateAndConsume("remote", code) {
		t.Error("code accepted twice")
	}
}

func TestValidateAndConsume_FailedAttemptConsumes(t *testing.T) {
	r, _ := newTestRegistry()
	r.gen = func() (string, error) { return "AB23", nil }
	r.Issue("remote")

	if r.ValidateAndConsume("remote", "ZZZZ") {
		t.Fatal("wrong code accepted")
	}
	if r.ValidateAndConsume("remote", "AB23") {
		t.Error("correct code accepted after a failed attempt consumed it")
	}
}

func TestValidateAndConsume_WrongApp(t *testing.T) {
	r, _ := newTestRegistry()
	code, _ := r.Issue("remote")
	if r.ValidateAndConsume("impostor", code) {
		t.Error("code accepted for a different app name")
	}
	if !r.ValidateAndConsume("remote", code) {
		t.Error("lookup under another name consumed the real entry")
	}
}

func TestValidateAndConsume_Expired(t *testing.T) {
	r, clk := newTestRegistry()
	code, _ := r.Issue("remote")
	clk.Advance(DefaultCodeTTL)
	if r.ValidateAndConsume("remote", code) {
		t.Error("expired code accepted")
	}
}

func TestPending(t *testing.T) {
	r, clk := newTestRegistry()
	r.Issue("a")
	clk.Advance(time.Second)
	r.Issue("b")

	p := r.Pending()
	if len(p) != 2 || p[0].AppName != "a" || p[1].AppName != "b" {
		t.Errorf("Pending = %+v", p)
	}
	clk.Advance(DefaultCodeTTL - time.Second)
	if p := r.Pending(); len(p) != 1 || p[0].AppName != "b" {
		t.Errorf("Pending after a expired = %+v", p)
	}
}
