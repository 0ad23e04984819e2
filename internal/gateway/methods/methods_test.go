package methods

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/consent"
	"github.com/nextlevelbuilder/ytmc/internal/crypto"
	"github.com/nextlevelbuilder/ytmc/internal/gateway"
	"github.com/nextlevelbuilder/ytmc/internal/pairing"
	"github.com/nextlevelbuilder/ytmc/internal/store"
	"github.com/nextlevelbuilder/ytmc/internal/tokens"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

const adminToken = "admin-secret"

type adminEnv struct {
	hub    *gateway.AdminHub
	gate   *pairing.Gate
	tokens *tokens.Store
	orch   *consent.Orchestrator
	clk    *clock.FakeClock
	url    string
}

func newAdminEnv(t *testing.T) *adminEnv {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	kv := store.NewMemoryKV()
	key, _ := crypto.GenerateKey()
	box, err := crypto.NewBox(key)
	if err != nil {
		t.Fatal(err)
	}
	toks, err := tokens.New(kv, clk, 0)
	if err != nil {
		t.Fatal(err)
	}

	hub := gateway.NewAdminHub(adminToken)
	env := &adminEnv{
		hub:    hub,
		gate:   pairing.NewGate(kv, box, clk, pairing.DefaultWindow),
		tokens: toks,
		orch:   consent.New(consent.NewBroadcastSurface(hub), clk, consent.DefaultTimeout, consent.DefaultDisconnectPoll),
		clk:    clk,
	}
	NewGateMethods(env.gate, pairing.NewRegistry(clk, pairing.DefaultCodeTTL)).Register(hub.Router())
	NewTokenMethods(toks).Register(hub.Router())
	NewConsentMethods(env.orch).Register(hub.Router())

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		env.gate.Close()
	})
	env.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return env
}

type rpcConn struct {
	t    *testing.T
	ws   *websocket.Conn
	seq  int
	seen []protocol.EventFrame
}

func (e *adminEnv) dial(t *testing.T) *rpcConn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &rpcConn{t: t, ws: ws}
}

// call sends method and reads until its response, keeping events.
func (c *rpcConn) call(method string, params any) *protocol.ResponseFrame {
	c.t.Helper()
	c.seq++
	id := "r" + strconv.Itoa(c.seq)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.ws.WriteJSON(req); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	for {
		data := c.read()
		var head struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		}
		json.Unmarshal(data, &head)
		switch head.Type {
		case protocol.FrameTypeEvent:
			var ev protocol.EventFrame
			json.Unmarshal(data, &ev)
			c.seen = append(c.seen, ev)
		case protocol.FrameTypeResponse:
			if head.ID != id {
				continue
			}
			var resp protocol.ResponseFrame
			json.Unmarshal(data, &resp)
			return &resp
		}
	}
}

func (c *rpcConn) read() []byte {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return data
}

func (c *rpcConn) nextEvent(name string) protocol.EventFrame {
	c.t.Helper()
	for i, ev := range c.seen {
		if ev.Event == name {
			c.seen = append(c.seen[:i], c.seen[i+1:]...)
			return ev
		}
	}
	for {
		var ev protocol.EventFrame
		if err := json.Unmarshal(c.read(), &ev); err == nil && ev.Event == name {
			return ev
		}
	}
}

func TestConnect_RequiresToken(t *testing.T) {
	env := newAdminEnv(t)
	c := env.dial(t)

	if resp := c.call(protocol.MethodGateStatus, nil); resp.OK || resp.Error.Code != protocol.ErrUnauthorized {
		t.Fatalf("pre-connect call = %+v", resp)
	}
	if resp := c.call(protocol.MethodConnect, map[string]string{"token": "wrong"}); resp.OK {
		t.Fatal("connect accepted wrong token")
	}
	if resp := c.call(protocol.MethodConnect, map[string]string{"token": adminToken}); !resp.OK {
		t.Fatalf("connect = %+v", resp.Error)
	}
	if resp := c.call("no.such.method", nil); resp.OK || resp.Error.Code != protocol.ErrInvalidRequest {
		t.Errorf("unknown method = %+v", resp)
	}
}

func TestGateMethods(t *testing.T) {
	env := newAdminEnv(t)
	c := env.dial(t)
	c.call(protocol.MethodConnect, map[string]string{"token": adminToken})

	resp := c.call(protocol.MethodGateEnable, nil)
	if !resp.OK {
		t.Fatalf("enable = %+v", resp.Error)
	}
	var out struct {
		Gate pairing.GateStatus `json:"gate"`
	}
	json.Unmarshal(resp.Payload, &out)
	if !out.Gate.Open {
		t.Error("gate not reported open")
	}
	if !env.gate.IsOpen(context.Background()) {
		t.Error("gate not open")
	}

	c.call(protocol.MethodGateDisable, nil)
	if env.gate.IsOpen(context.Background()) {
		t.Error("gate still open after disable")
	}
}

func TestTokenMethods(t *testing.T) {
	env := newAdminEnv(t)
	ctx := context.Background()
	env.tokens.Mint(ctx, "remote")
	env.tokens.Mint(ctx, "remote")
	keep, _ := env.tokens.Mint(ctx, "other")

	c := env.dial(t)
	c.call(protocol.MethodConnect, map[string]string{"token": adminToken})

	resp := c.call(protocol.MethodTokensList, nil)
	if strings.Contains(string(resp.Payload), "secretHash") {
		t.Error("list leaks hashes")
	}

	resp = c.call(protocol.MethodTokensRevoke, map[string]string{"appName": "remote"})
	var out struct {
		Revoked int `json:"revoked"`
	}
	json.Unmarshal(resp.Payload, &out)
	if out.Revoked != 2 {
		t.Errorf("revoked = %d, want 2", out.Revoked)
	}
	if _, ok := env.tokens.Validate(ctx, keep); !ok {
		t.Error("other app's token revoked")
	}

	if resp := c.call(protocol.MethodTokensRevoke, nil); resp.OK {
		t.Error("revoke without appName accepted")
	}
}

func TestConsentMethods_ApproveOverAdminChannel(t *testing.T) {
	env := newAdminEnv(t)
	c := env.dial(t)
	c.call(protocol.MethodConnect, map[string]string{"token": adminToken})

	result := make(chan consent.Decision, 1)
	go func() {
		d, _ := env.orch.Request(context.Background(), "remote", "AB23", nil)
		result <- d
	}()

	ev := c.nextEvent(protocol.EventConsentRequested)
	var info consent.PromptInfo
	json.Unmarshal(ev.Payload, &info)
	if info.AppName != "remote" || info.Code != "AB23" {
		t.Fatalf("prompt = %+v", info)
	}

	list := c.call(protocol.MethodConsentList, nil)
	if !strings.Contains(string(list.Payload), info.ID) {
		t.Errorf("pending list = %s", list.Payload)
	}

	if resp := c.call(protocol.MethodConsentApprove, map[string]string{"id": info.ID}); !resp.OK {
		t.Fatalf("approve = %+v", resp.Error)
	}
	select {
	case d := <-result:
		if d != consent.Approved {
			t.Errorf("decision = %s", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request not resolved")
	}
	c.nextEvent(protocol.EventConsentClosed)

	if resp := c.call(protocol.MethodConsentDeny, map[string]string{"id": info.ID}); resp.OK {
		t.Error("deny on a closed prompt succeeded")
	}
}

func TestConsent_NoOperatorDenies(t *testing.T) {
	env := newAdminEnv(t)
	d, err := env.orch.Request(context.Background(), "remote", "AB23", nil)
	if err != nil || d != consent.Denied {
		t.Errorf("Request = %s, %v; want denied with nobody listening", d, err)
	}
}
