package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/internal/bus"
	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/config"
	"github.com/nextlevelbuilder/ytmc/internal/consent"
	"github.com/nextlevelbuilder/ytmc/internal/content"
	"github.com/nextlevelbuilder/ytmc/internal/crypto"
	"github.com/nextlevelbuilder/ytmc/internal/pairing"
	"github.com/nextlevelbuilder/ytmc/internal/playerstate"
	"github.com/nextlevelbuilder/ytmc/internal/store"
	"github.com/nextlevelbuilder/ytmc/internal/tokens"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

type testEnv struct {
	t       *testing.T
	clk     *clock.FakeClock
	kv      *store.MemoryKV
	gate    *pairing.Gate
	codes   *pairing.Registry
	orch    *consent.Orchestrator
	tokens  *tokens.Store
	player  *playerstate.Aggregator
	events  *bus.Bus
	link    *content.Link
	prompts chan *consent.Prompt
	srv     *Server
	ts      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	clk := clock.Fake(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	kv := store.NewMemoryKV()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	box, err := crypto.NewBox(key)
	if err != nil {
		t.Fatal(err)
	}
	toks, err := tokens.New(kv, clk, 0)
	if err != nil {
		t.Fatal(err)
	}

	prompts := make(chan *consent.Prompt, 4)
	surface := consent.FuncSurface{OpenFunc: func(p *consent.Prompt) error {
		prompts <- p
		return nil
	}}

	env := &testEnv{
		t:       t,
		clk:     clk,
		kv:      kv,
		gate:    pairing.NewGate(kv, box, clk, cfg.Pairing.Window()),
		codes:   pairing.NewRegistry(clk, cfg.Pairing.CodeTTL()),
		orch:    consent.New(surface, clk, cfg.Pairing.ConsentTimeout(), cfg.Pairing.DisconnectPoll()),
		tokens:  toks,
		player:  playerstate.NewAggregator(clk, playerstate.DefaultSettle),
		events:  bus.New(),
		prompts: prompts,
	}
	link := content.New(env.player, env.events, content.Options{Clock: clk})
	env.link = link
	env.srv = NewServer(cfg, Deps{
		Gate:    env.gate,
		Codes:   env.codes,
		Consent: env.orch,
		Tokens:  env.tokens,
		Player:  env.player,
		Content: link,
		Events:  env.events,
		Admin:   NewAdminHub("admin-secret"),
		Clock:   clk,
	})
	env.ts = httptest.NewServer(env.srv.Handler())
	t.Cleanup(func() {
		env.srv.Close()
		env.ts.Close()
		env.gate.Close()
	})
	return env
}

type apiResponse struct {
	status int
	header http.Header
	body   map[string]any
}

func (e *testEnv) do(method, path string, body any, token string) apiResponse {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+protocol.APIPrefix+path, rd)
	if err != nil {
		e.t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := apiResponse{status: resp.StatusCode, header: resp.Header}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		json.Unmarshal(raw, &out.body)
	}
	return out
}

func (r apiResponse) errorCode() string {
	code, _ := r.body["error"].(string)
	return code
}

func (e *testEnv) requestCode(app string) string {
	e.t.Helper()
	resp := e.do("POST", "/auth/requestcode", map[string]string{"appName": app}, "")
	if resp.status != http.StatusOK {
		e.t.Fatalf("requestcode = %d %v", resp.status, resp.body)
	}
	return resp.body["code"].(string)
}

// authorizeAsync starts POST /auth/request and returns its eventual result.
func (e *testEnv) authorizeAsync(app, code string) <-chan apiResponse {
	ch := make(chan apiResponse, 1)
	go func() {
		ch <- e.do("POST", "/auth/request", map[string]string{"appName": app, "code": code}, "")
	}()
	return ch
}

func (e *testEnv) nextPrompt() *consent.Prompt {
	e.t.Helper()
	select {
	case p := <-e.prompts:
		return p
	case <-time.After(5 * time.Second):
		e.t.Fatal("consent prompt never opened")
		return nil
	}
}

func waitResponse(t *testing.T, ch <-chan apiResponse) apiResponse {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete")
		return apiResponse{}
	}
}

// pair runs the happy path and returns a token for app.
func (e *testEnv) pair(app string) string {
	e.t.Helper()
	if err := e.gate.Enable(context.Background()); err != nil {
		e.t.Fatal(err)
	}
	code := e.requestCode(app)
	ch := e.authorizeAsync(app, code)
	p := e.nextPrompt()
	if err := e.orch.Resolve(p.ID(), true); err != nil {
		e.t.Fatal(err)
	}
	resp := waitResponse(e.t, ch)
	if resp.status != http.StatusOK {
		e.t.Fatalf("auth/request = %d %v", resp.status, resp.body)
	}
	return resp.body["token"].(string)
}

func TestPairing_HappyPathClosesGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	token := env.pair("remote")

	if app, ok := env.tokens.Validate(ctx, token); !ok || app != "remote" {
		t.Errorf("minted token invalid: %q %v", app, ok)
	}
	if env.gate.IsOpen(ctx) {
		t.Error("gate still open after a successful pairing")
	}

	resp := env.do("GET", "/state", nil, token)
	if resp.status != http.StatusOK {
		t.Fatalf("GET /state = %d", resp.status)
	}
	player, _ := resp.body["player"].(map[string]any)
	if player == nil || player["trackState"] != float64(playerstate.Unknown) {
		t.Errorf("state body = %v", resp.body)
	}
}

func TestPairing_GateClosed(t *testing.T) {
	env := newTestEnv(t)
	code := env.requestCode("x")

	resp := env.do("POST", "/auth/request", map[string]string{"appName": "x", "code": code}, "")
	if resp.status != http.StatusForbidden || resp.errorCode() != protocol.ErrAuthorizationDisabled {
		t.Errorf("got %d %v, want 403 AUTHORIZATION_DISABLED", resp.status, resp.body)
	}
}

func TestPairing_DeniedCodeNotReusable(t *testing.T) {
	env := newTestEnv(t)
	env.gate.Enable(context.Background())
	code := env.requestCode("remote")

	ch := env.authorizeAsync("remote", code)
	p := env.nextPrompt()
	if p.AppName() != "remote" || p.Code() != code {
		t.Errorf("prompt shows %q/%q", p.AppName(), p.Code())
	}
	env.orch.Resolve(p.ID(), false)

	resp := waitResponse(t, ch)
	if resp.status != http.StatusForbidden || resp.errorCode() != protocol.ErrAuthorizationDenied {
		t.Fatalf("got %d %v, want 403 AUTHORIZATION_DENIED", resp.status, resp.body)
	}

	retry := env.do("POST", "/auth/request", map[string]string{"appName": "remote", "code": code}, "")
	if retry.status != http.StatusBadRequest || retry.errorCode() != protocol.ErrAuthorizationInvalid {
		t.Errorf("retry got %d %v, want 400 AUTHORIZATION_INVALID", retry.status, retry.body)
	}
}

func TestPairing_ConsentTimeoutMintsNothing(t *testing.T) {
	env := newTestEnv(t)
	env.gate.Enable(context.Background())
	code := env.requestCode("remote")

	before := env.clk.Pending()
	ch := env.authorizeAsync("remote", code)
	env.nextPrompt()
	env.clk.WaitForWaiters(before + 2)
	env.clk.Advance(30 * time.Second)

	resp := waitResponse(t, ch)
	if resp.status != http.StatusForbidden || resp.errorCode() != protocol.ErrAuthorizationDenied {
		t.Fatalf("got %d %v, want 403 AUTHORIZATION_DENIED", resp.status, resp.body)
	}
	list, _ := env.tokens.List(context.Background())
	if len(list) != 0 {
		t.Errorf("tokens minted after timeout: %v", list)
	}
}

func TestPairing_WrongCode(t *testing.T) {
	env := newTestEnv(t)
	env.gate.Enable(context.Background())
	code := env.requestCode("remote")

	wrong := "ZZZZ"
	if code == wrong {
		wrong = "YYYY"
	}
	resp := env.do("POST", "/auth/request", map[string]string{"appName": "remote", "code": wrong}, "")
	if resp.status != http.StatusBadRequest || resp.errorCode() != protocol.ErrAuthorizationInvalid {
		t.Errorf("got %d %v", resp.status, resp.body)
	}
	// The real code was consumed by the failed attempt.
	resp = env.do("POST", "/auth/request", map[string]string{"appName": "remote", "code": code}, "")
	if resp.errorCode() != protocol.ErrAuthorizationInvalid {
		t.Errorf("consumed code accepted: %d %v", resp.status, resp.body)
	}
}

func TestRequestCode_PendingCodeTimesOut(t *testing.T) {
	env := newTestEnv(t)
	env.requestCode("remote")

	resp := env.do("POST", "/auth/requestcode", map[string]string{"appName": "remote"}, "")
	if resp.status != http.StatusGatewayTimeout || resp.errorCode() != protocol.ErrAuthorizationTimeout {
		t.Errorf("got %d %v, want 504 AUTHORIZATION_TIMEOUT", resp.status, resp.body)
	}

	bad := env.do("POST", "/auth/requestcode", map[string]string{"appName": "  "}, "")
	if bad.status != http.StatusBadRequest {
		t.Errorf("blank appName = %d", bad.status)
	}
}

func TestRequestCode_RejectedWhileConsentPending(t *testing.T) {
	env := newTestEnv(t)
	env.gate.Enable(context.Background())
	code := env.requestCode("x")

	ch := env.authorizeAsync("x", code)
	p := env.nextPrompt()
	if n := len(env.codes.Pending()); n != 0 {
		t.Fatalf("pending codes = %d, want the code consumed", n)
	}

	resp := env.do("POST", "/auth/requestcode", map[string]string{"appName": "x"}, "")
	if resp.status != http.StatusGatewayTimeout || resp.errorCode() != protocol.ErrAuthorizationTimeout {
		t.Errorf("got %d %v, want 504 AUTHORIZATION_TIMEOUT", resp.status, resp.body)
	}
	if n := len(env.codes.Pending()); n != 0 {
		t.Errorf("second code issued while prompt open: %d pending", n)
	}

	// Other apps are unaffected.
	env.requestCode("y")

	env.orch.Resolve(p.ID(), false)
	waitResponse(t, ch)
	env.requestCode("x")
}

func TestPairing_AppNameIsTrimmed(t *testing.T) {
	env := newTestEnv(t)
	env.gate.Enable(context.Background())
	code := env.requestCode("  remote ")

	ch := env.authorizeAsync("remote", code)
	p := env.nextPrompt()
	if p.AppName() != "remote" {
		t.Errorf("prompt app = %q", p.AppName())
	}
	env.orch.Resolve(p.ID(), true)

	resp := waitResponse(t, ch)
	if resp.status != http.StatusOK {
		t.Fatalf("auth/request = %d %v", resp.status, resp.body)
	}
	app, ok := env.tokens.Validate(context.Background(), resp.body["token"].(string))
	if !ok || app != "remote" {
		t.Errorf("token app = %q %v", app, ok)
	}
}

func TestStatus_ReportsRateLimits(t *testing.T) {
	env := newTestEnv(t)
	st := env.srv.status(context.Background()).(map[string]any)
	limits, _ := st["rateLimits"].(map[string]bool)
	for _, name := range []string{"global", "auth.requestcode", "auth.request", "state", "playlists", "command"} {
		if !limits[name] {
			t.Errorf("limiter %q not reported enabled: %v", name, limits)
		}
	}
}

func TestState_InvalidBearer(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "not-a-token", strings.Repeat("a", 64)} {
		resp := env.do("GET", "/state", nil, token)
		if resp.status != http.StatusUnauthorized || resp.errorCode() != protocol.ErrUnauthorized {
			t.Errorf("token %q: got %d %v", token, resp.status, resp.body)
		}
	}
}

func TestState_RateLimitedPerApp(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.tokens.Mint(context.Background(), "remote")

	if resp := env.do("GET", "/state", nil, token); resp.status != http.StatusOK {
		t.Fatalf("first = %d", resp.status)
	}
	resp := env.do("GET", "/state", nil, token)
	if resp.status != http.StatusTooManyRequests || resp.errorCode() != protocol.ErrRateLimited {
		t.Fatalf("second = %d %v", resp.status, resp.body)
	}
	if got := resp.header.Get("Retry-After"); got != "5" {
		t.Errorf("Retry-After = %q, want 5", got)
	}

	// A different app has its own bucket.
	other, _ := env.tokens.Mint(context.Background(), "other")
	if r := env.do("GET", "/state", nil, other); r.status != http.StatusOK {
		t.Errorf("other app = %d", r.status)
	}

	env.clk.Advance(5 * time.Second)
	if r := env.do("GET", "/state", nil, token); r.status != http.StatusOK {
		t.Errorf("after window = %d", r.status)
	}
}

func TestPlaylists_NoPlayer(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.tokens.Mint(context.Background(), "remote")
	resp := env.do("GET", "/playlists", nil, token)
	if resp.status != http.StatusServiceUnavailable || resp.errorCode() != protocol.ErrYTMUnavailable {
		t.Errorf("got %d %v", resp.status, resp.body)
	}
}

// connectPlayer attaches a fake player page to /content.
func (e *testEnv) connectPlayer() *websocket.Conn {
	e.t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/content"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		e.t.Fatalf("dial content: %v", err)
	}
	e.t.Cleanup(func() { ws.Close() })
	deadline := time.Now().Add(5 * time.Second)
	for !e.link.Connected() {
		if time.Now().After(deadline) {
			e.t.Fatal("player never attached")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ws
}

// dialRealtime opens /realtime for token and waits until it is subscribed.
func (e *testEnv) dialRealtime(token string) *websocket.Conn {
	e.t.Helper()
	want := e.events.Len() + 1
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + protocol.APIPrefix + "/realtime"
	hdr := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		e.t.Fatalf("dial realtime: %v", err)
	}
	e.t.Cleanup(func() { ws.Close() })
	deadline := time.Now().Add(5 * time.Second)
	for e.events.Len() < want {
		if time.Now().After(deadline) {
			e.t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return ws
}

func sendPlayerEvent(t *testing.T, ws *websocket.Conn, name string, payload any) {
	t.Helper()
	ev, err := protocol.NewEvent(name, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(ev); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) protocol.EventFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev protocol.EventFrame
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	return ev
}

func TestPlaylists_PlayerTimeout(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.tokens.Mint(context.Background(), "remote")
	player := env.connectPlayer()

	before := env.clk.Pending()
	ch := make(chan apiResponse, 1)
	go func() { ch <- env.do("GET", "/playlists", nil, token) }()

	player.SetReadDeadline(time.Now().Add(5 * time.Second))
	var req protocol.RequestFrame
	if err := player.ReadJSON(&req); err != nil {
		t.Fatalf("player read: %v", err)
	}
	if req.Method != protocol.ContentMethodGetPlaylists {
		t.Fatalf("method = %s", req.Method)
	}

	env.clk.WaitForWaiters(before + 1)
	env.clk.Advance(content.DefaultRequestTimeout)

	resp := waitResponse(t, ch)
	if resp.status != http.StatusGatewayTimeout || resp.errorCode() != protocol.ErrYTMResultTimeout {
		t.Errorf("got %d %v, want 504 YTM_RESULT_TIMEOUT", resp.status, resp.body)
	}
}

func TestPlaylists_PlayerAnswers(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.tokens.Mint(context.Background(), "remote")
	player := env.connectPlayer()

	ch := make(chan apiResponse, 1)
	go func() { ch <- env.do("GET", "/playlists", nil, token) }()

	player.SetReadDeadline(time.Now().Add(5 * time.Second))
	var req protocol.RequestFrame
	if err := player.ReadJSON(&req); err != nil {
		t.Fatalf("player read: %v", err)
	}
	player.WriteJSON(protocol.NewOKResponse(req.ID, map[string]any{"items": []string{"PL1"}}))

	resp := waitResponse(t, ch)
	if resp.status != http.StatusOK {
		t.Fatalf("got %d %v", resp.status, resp.body)
	}
	if items, _ := resp.body["items"].([]any); len(items) != 1 || items[0] != "PL1" {
		t.Errorf("body = %v", resp.body)
	}
}

func TestRealtime_PlaylistEventsFromPlayer(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.tokens.Mint(context.Background(), "remote")
	player := env.connectPlayer()
	ws := env.dialRealtime(token)

	created := map[string]any{"playlistId": "PL9", "title": "Road trip"}
	sendPlayerEvent(t, player, protocol.ContentCreatePlaylistObserved, created)
	// Repeats inside the dedupe window are dropped.
	sendPlayerEvent(t, player, protocol.ContentCreatePlaylistObserved, created)
	sendPlayerEvent(t, player, protocol.ContentDeletePlaylistObserved, "PL9")

	first := readEvent(t, ws)
	if first.Event != protocol.EventPlaylistCreated {
		t.Fatalf("first event = %s", first.Event)
	}
	var got map[string]any
	json.Unmarshal(first.Payload, &got)
	if got["playlistId"] != "PL9" || got["title"] != "Road trip" {
		t.Errorf("created payload = %s", first.Payload)
	}

	second := readEvent(t, ws)
	if second.Event != protocol.EventPlaylistDeleted || string(second.Payload) != `"PL9"` {
		t.Fatalf("second = %s %s", second.Event, second.Payload)
	}

	env.clk.Advance(2*time.Second + time.Millisecond)
	sendPlayerEvent(t, player, protocol.ContentCreatePlaylistObserved, created)
	if again := readEvent(t, ws); again.Event != protocol.EventPlaylistCreated {
		t.Errorf("after dedupe window = %s", again.Event)
	}
}

func TestCommand(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tests := []struct {
		name   string
		body   map[string]any
		status int
	}{
		{"simple", map[string]any{"command": "playPause"}, http.StatusNoContent},
		{"unknown", map[string]any{"command": "explode"}, http.StatusBadRequest},
		{"seek", map[string]any{"command": "seekTo", "data": 42}, http.StatusNoContent},
		{"seek without data", map[string]any{"command": "seekTo"}, http.StatusBadRequest},
		{"navigate bad data", map[string]any{"command": "navigate", "data": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Fresh app per case so the 2/s bucket does not interfere.
			token, _ := env.tokens.Mint(ctx, "app-"+tt.name)
			resp := env.do("POST", "/command", tt.body, token)
			if resp.status != tt.status {
				t.Errorf("status = %d, want %d (%v)", resp.status, tt.status, resp.body)
			}
		})
	}
}

func TestRealtime_RejectsBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + protocol.APIPrefix + "/realtime?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("upgrade succeeded with bogus token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v", resp)
	}
	if env.events.Len() != 0 {
		t.Error("rejected client subscribed to the bus")
	}
}

func TestRealtime_ReceivesStateUpdates(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.tokens.Mint(context.Background(), "remote")

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + protocol.APIPrefix + "/realtime"
	hdr := http.Header{"Authorization": []string{"Bearer " + token}}
	ws, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(5 * time.Second)
	for env.events.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.player.UpdateTrackState(1)
	env.events.Publish(bus.Event{Name: protocol.EventPlaylistDeleted, Payload: "PL1"})

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var first, second protocol.EventFrame
	if err := ws.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := ws.ReadJSON(&second); err != nil {
		t.Fatalf("read: %v", err)
	}

	if first.Event != protocol.EventStateUpdate {
		t.Fatalf("first event = %s", first.Event)
	}
	var view playerstate.View
	json.Unmarshal(first.Payload, &view)
	if view.Player.TrackState != playerstate.Playing {
		t.Errorf("trackState = %v", view.Player.TrackState)
	}
	if second.Event != protocol.EventPlaylistDeleted || string(second.Payload) != `"PL1"` {
		t.Errorf("second = %s %s", second.Event, second.Payload)
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), protocol.ErrInternal) {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}
