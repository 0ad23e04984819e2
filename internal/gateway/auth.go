package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

type ctxKey int

const appNameKey ctxKey = iota

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// AppNameFromContext returns the companion app authenticated for the
// request, or "".
func AppNameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(appNameKey).(string)
	return name
}

// requireToken rejects requests without a valid companion token before
// next (and anything it touches) runs.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app, ok := s.tokens.Validate(r.Context(), extractBearerToken(r))
		if !ok {
			slog.Warn("security.unauthorized", "path", r.URL.Path, "ip", clientIP(r))
			writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), appNameKey, app)))
	})
}

// limit applies rl keyed by the authenticated app name, falling back to
// the requester IP.
func limit(rl *RateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ip:" + clientIP(r)
		if app := AppNameFromContext(r.Context()); app != "" {
			key = "app:" + app
		}
		if ok, retry := rl.Allow(key); !ok {
			writeRateLimited(w, retry)
			return
		}
		next.ServeHTTP(w, r)
	})
}
