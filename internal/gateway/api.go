package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/ytmc/internal/consent"
	"github.com/nextlevelbuilder/ytmc/internal/content"
	"github.com/nextlevelbuilder/ytmc/internal/pairing"
	"github.com/nextlevelbuilder/ytmc/internal/playerstate"
	"github.com/nextlevelbuilder/ytmc/internal/tracing"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

// maxAppNameLength bounds the operator-visible app name.
const maxAppNameLength = 64

// Remote commands accepted by POST /command. The value says whether the
// command carries data.
var remoteCommands = map[string]bool{
	"playPause":  false,
	"play":       false,
	"pause":      false,
	"volumeUp":   false,
	"volumeDown": false,
	"mute":       false,
	"unmute":     false,
	"next":       false,
	"previous":   false,
	"thumbsUp":   false,
	"thumbsDown": false,
	"seekTo":     true,
	"navigate":   true,
}

// normalizeAppName trims name and reports whether the result is usable.
func normalizeAppName(name string) (string, bool) {
	name = strings.TrimSpace(name)
	return name, name != "" && utf8.RuneCountInString(name) <= maxAppNameLength
}

// POST /api/v1/auth/requestcode {appName}
func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AppName string `json:"appName"`
	}
	err := decodeBody(r, &body)
	appName, ok := normalizeAppName(body.AppName)
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "appName is required")
		return
	}
	body.AppName = appName

	// A prompt still waiting on the operator counts as a pending
	// authorization even though its code was already consumed.
	if s.consent.HasPending(body.AppName) {
		writeError(w, http.StatusGatewayTimeout, protocol.ErrAuthorizationTimeout, "")
		return
	}

	code, err := s.codes.Issue(body.AppName)
	if err != nil {
		if errors.Is(err, pairing.ErrAuthorizationTimeout) {
			writeError(w, http.StatusGatewayTimeout, protocol.ErrAuthorizationTimeout, "")
			return
		}
		slog.Error("gateway.issue_code_failed", "app", body.AppName, "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

// POST /api/v1/auth/request {appName, code}
//
// The order matters: gate, then code (consumed either way), then the
// operator. A token is minted only on approval and the gate is closed
// right after.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AppName string `json:"appName"`
		Code    string `json:"code"`
	}
	err := decodeBody(r, &body)
	appName, ok := normalizeAppName(body.AppName)
	if err != nil || !ok || body.Code == "" {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "appName and code are required")
		return
	}
	body.AppName = appName

	ctx, span := tracing.Start(r.Context(), "pairing.authorize", tracing.App(body.AppName))
	var spanErr error
	defer func() { tracing.End(span, spanErr) }()

	if !s.gate.IsOpen(ctx) {
		slog.Warn("security.pairing_disabled", "app", body.AppName, "ip", clientIP(r))
		writeError(w, http.StatusForbidden, protocol.ErrAuthorizationDisabled, "")
		return
	}

	if !s.codes.ValidateAndConsume(body.AppName, body.Code) {
		slog.Warn("security.pairing_invalid_code", "app", body.AppName, "ip", clientIP(r))
		writeError(w, http.StatusBadRequest, protocol.ErrAuthorizationInvalid, "")
		return
	}

	alive := func() bool { return r.Context().Err() == nil }
	decision, err := s.consent.Request(ctx, body.AppName, body.Code, alive)
	if err != nil {
		if !errors.Is(err, consent.ErrAlreadyPending) {
			spanErr = err
		}
		slog.Warn("consent.request_failed", "app", body.AppName, "error", err)
		writeError(w, http.StatusForbidden, protocol.ErrAuthorizationDenied, "")
		return
	}
	slog.Info("consent.resolved", "app", body.AppName, "decision", string(decision))
	if !decision.Approved() {
		writeError(w, http.StatusForbidden, protocol.ErrAuthorizationDenied, "")
		return
	}

	token, err := s.tokens.Mint(ctx, body.AppName)
	if err != nil {
		spanErr = err
		slog.Error("tokens.mint_failed", "app", body.AppName, "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "internal error")
		return
	}
	if err := s.gate.Disable(ctx); err != nil {
		slog.Error("pairing.gate_disable_failed", "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// GET /api/v1/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, playerstate.NewView(s.player.State()))
}

// GET /api/v1/playlists
func (s *Server) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	if s.content == nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrYTMUnavailable, "")
		return
	}
	payload, err := s.content.RequestPlaylists(r.Context())
	switch {
	case err == nil:
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		writeRawJSON(w, http.StatusOK, payload)
	case errors.Is(err, content.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, protocol.ErrYTMUnavailable, "")
	case errors.Is(err, content.ErrResultTimeout):
		writeError(w, http.StatusGatewayTimeout, protocol.ErrYTMResultTimeout, "")
	case r.Context().Err() != nil:
		// requester went away
	default:
		slog.Error("gateway.playlists_failed", "error", err)
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "internal error")
	}
}

// POST /api/v1/command {command, data?}
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Command string          `json:"command"`
		Data    json.RawMessage `json:"data,omitempty"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "malformed body")
		return
	}
	takesData, ok := remoteCommands[body.Command]
	if !ok {
		writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, "unknown command: "+body.Command)
		return
	}

	var value any
	if takesData {
		if err := validateCommandData(body.Command, body.Data); err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrInvalidRequest, err.Error())
			return
		}
		value = body.Data
	}

	if s.content != nil {
		if err := s.content.SendCommand(body.Command, value); err != nil {
			// Fire-and-forget: a missing player is not the companion's error.
			slog.Debug("gateway.command_dropped", "command", body.Command, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateCommandData(command string, data json.RawMessage) error {
	if len(data) == 0 || string(data) == "null" {
		return errors.New(command + " requires data")
	}
	switch command {
	case "seekTo":
		var seconds float64
		if err := json.Unmarshal(data, &seconds); err != nil || seconds < 0 {
			return errors.New("seekTo data must be a non-negative number of seconds")
		}
	case "navigate":
		var endpoint map[string]json.RawMessage
		if err := json.Unmarshal(data, &endpoint); err != nil || len(endpoint) == 0 {
			return errors.New("navigate data must be an endpoint object")
		}
	}
	return nil
}
