//go:build tsnet

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/nextlevelbuilder/ytmc/internal/config"
)

// initTailscale starts an additional Tailscale listener so companions on the
// tailnet can pair without exposing the LAN port. Only compiled with
// -tags tsnet. The content link stays loopback-only: tailnet peers never
// pass its address check.
func initTailscale(ctx context.Context, cfg *config.Config, handler http.Handler) func() {
	tc := cfg.Tailscale
	if tc.Hostname == "" {
		slog.Debug("Tailscale available but not configured (set tailscale.hostname to enable)")
		return nil
	}

	srv := &tsnet.Server{
		Hostname: tc.Hostname,
		AuthKey:  tc.AuthKey,
	}
	if tc.StateDir != "" {
		srv.Dir = tc.StateDir
	}

	ln, err := srv.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		slog.Warn("Tailscale listener failed to start", "error", err)
		srv.Close()
		return nil
	}
	slog.Info("Tailscale listener started", "hostname", tc.Hostname, "addr", ln.Addr().String())

	httpSrv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Warn("Tailscale HTTP server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	return func() {
		httpSrv.Close()
		ln.Close()
		srv.Close()
		slog.Info("Tailscale listener stopped")
	}
}
