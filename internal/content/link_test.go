package content

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/ytmc/internal/bus"
	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/playerstate"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

const testSecret = "s3cret"

type harness struct {
	link   *Link
	agg    *playerstate.Aggregator
	events *bus.Bus
	clk    *clock.FakeClock
	srv    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	agg := playerstate.NewAggregator(clk, playerstate.DefaultSettle)
	events := bus.New()
	link := New(agg, events, Options{Secret: testSecret, Clock: clk})
	srv := httptest.NewServer(link)
	t.Cleanup(srv.Close)
	return &harness{link: link, agg: agg, events: events, clk: clk, srv: srv}
}

func (h *harness) dial(t *testing.T, secret string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	hdr := http.Header{}
	if secret != "" {
		hdr.Set(SecretHeader, secret)
	}
	return websocket.DefaultDialer.Dial(url, hdr)
}

func (h *harness) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, _, err := h.dial(t, testSecret)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	waitFor(t, h.link.Connected)
	return ws
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sendEvent(t *testing.T, ws *websocket.Conn, name string, payload any) {
	t.Helper()
	ev, err := protocol.NewEvent(name, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteJSON(ev); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readRequest(t *testing.T, ws *websocket.Conn) protocol.RequestFrame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var req protocol.RequestFrame
	if err := ws.ReadJSON(&req); err != nil {
		t.Fatalf("read: %v", err)
	}
	return req
}

func TestServeHTTP_RejectsBadSecret(t *testing.T) {
	h := newHarness(t)
	_, resp, err := h.dial(t, "wrong")
	if err == nil {
		t.Fatal("dial succeeded with wrong secret")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v", resp)
	}
	if h.link.Connected() {
		t.Error("link attached")
	}
}

func TestIsLoopback(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:5000":     true,
		"192.168.1.2:80": false,
		"10.0.0.1":       false,
		"not-an-address": false,
	} {
		if got := isLoopback(addr); got != want {
			t.Errorf("isLoopback(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestTelemetry_FeedsAggregator(t *testing.T) {
	h := newHarness(t)
	got := make(chan *playerstate.PlayerState, 8)
	h.agg.Subscribe("test", func(s *playerstate.PlayerState) { got <- s })

	ws := h.connect(t)
	sendEvent(t, ws, protocol.ContentVideoStateChanged, map[string]int{"state": 1})

	select {
	case s := <-got:
		if s.TrackState != playerstate.Playing {
			t.Errorf("TrackState = %v", s.TrackState)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no state published")
	}

	sendEvent(t, ws, protocol.ContentNavigated, map[string]string{"url": "https://music.youtube.com/watch?v=abc"})
	waitFor(t, func() bool {
		return h.agg.Resume().Snapshot().LastURL == "https://music.youtube.com/watch?v=abc"
	})
}

func TestPlaylistEvents_Deduplicated(t *testing.T) {
	h := newHarness(t)
	got := make(chan bus.Event, 8)
	h.events.Subscribe("test", func(e bus.Event) { got <- e })

	ws := h.connect(t)
	playlist := map[string]string{"id": "PL1", "title": "Mix"}
	sendEvent(t, ws, protocol.ContentCreatePlaylistObserved, playlist)
	sendEvent(t, ws, protocol.ContentCreatePlaylistObserved, playlist)
	sendEvent(t, ws, protocol.ContentDeletePlaylistObserved, "PL1")

	first := <-got
	if first.Name != protocol.EventPlaylistCreated {
		t.Fatalf("first event = %s", first.Name)
	}
	second := <-got
	if second.Name != protocol.EventPlaylistDeleted || second.Payload != "PL1" {
		t.Errorf("second event = %+v", second)
	}
}

func TestRequestPlaylists_RoundTrip(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(t)

	go func() {
		var req protocol.RequestFrame
		if err := ws.ReadJSON(&req); err != nil || req.Method != protocol.ContentMethodGetPlaylists {
			return
		}
		ws.WriteJSON(protocol.NewOKResponse(req.ID, json.RawMessage(`[{"id":"PL1"}]`)))
	}()

	payload, err := h.link.RequestPlaylists(context.Background())
	if err != nil {
		t.Fatalf("RequestPlaylists: %v", err)
	}
	if string(payload) != `[{"id":"PL1"}]` {
		t.Errorf("payload = %s", payload)
	}
}

func TestRequestPlaylists_Timeout(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.link.RequestPlaylists(context.Background())
		errc <- err
	}()

	req := readRequest(t, ws)
	h.clk.WaitForWaiters(1)
	h.clk.Advance(DefaultRequestTimeout)

	if err := <-errc; !errors.Is(err, ErrResultTimeout) {
		t.Fatalf("err = %v, want ErrResultTimeout", err)
	}

	// A late answer is ignored.
	ws.WriteJSON(protocol.NewOKResponse(req.ID, []string{}))
}

func TestRequestPlaylists_Unavailable(t *testing.T) {
	h := newHarness(t)
	if _, err := h.link.RequestPlaylists(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if err := h.link.SendCommand("play", nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("SendCommand err = %v", err)
	}
}

func TestRequestPlaylists_DisconnectFailsPending(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(t)

	errc := make(chan error, 1)
	go func() {
		_, err := h.link.RequestPlaylists(context.Background())
		errc <- err
	}()
	readRequest(t, ws)
	ws.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("err = %v, want ErrUnavailable", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("request not failed on disconnect")
	}
}

func TestSendCommand_Frame(t *testing.T) {
	h := newHarness(t)
	ws := h.connect(t)

	if err := h.link.SendCommand("seekTo", 42); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	req := readRequest(t, ws)
	if req.Method != protocol.ContentMethodRemoteControl {
		t.Fatalf("method = %s", req.Method)
	}
	var params struct {
		Command string `json:"command"`
		Value   int    `json:"value"`
	}
	json.Unmarshal(req.Params, &params)
	if params.Command != "seekTo" || params.Value != 42 {
		t.Errorf("params = %+v", params)
	}
}

func TestNewConnectionReplacesOld(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t)
	h.connect(t)

	first.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	if !h.link.Connected() {
		t.Error("replacement connection not active")
	}
}
