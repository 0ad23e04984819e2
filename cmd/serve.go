package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/ytmc/internal/bus"
	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/config"
	"github.com/nextlevelbuilder/ytmc/internal/consent"
	"github.com/nextlevelbuilder/ytmc/internal/content"
	"github.com/nextlevelbuilder/ytmc/internal/crypto"
	"github.com/nextlevelbuilder/ytmc/internal/gateway"
	"github.com/nextlevelbuilder/ytmc/internal/gateway/methods"
	"github.com/nextlevelbuilder/ytmc/internal/pairing"
	"github.com/nextlevelbuilder/ytmc/internal/playerstate"
	"github.com/nextlevelbuilder/ytmc/internal/store"
	"github.com/nextlevelbuilder/ytmc/internal/store/backends"
	"github.com/nextlevelbuilder/ytmc/internal/tokens"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the companion server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)
	slog.Info("ytmc.starting", "version", gateway.Version, "config", cfgPath, "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	kv, err := backends.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer kv.Close()

	key, err := crypto.ResolveKey(cfg.Security.EncryptionKey, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve encryption key: %w", err)
	}
	box, err := crypto.NewBox(key)
	if err != nil {
		return fmt.Errorf("init encryption: %w", err)
	}

	clk := clock.Real()
	shutdownTracing := initOTelExporter(ctx, cfg)
	defer shutdownTracing()

	admin := gateway.NewAdminHub(cfg.Admin.Token)
	events := bus.New()

	gate := pairing.NewGate(kv, box, clk, cfg.Pairing.Window())
	defer gate.Close()
	gate.OnChange(func(st pairing.GateStatus) {
		admin.Broadcast(protocol.EventGateChanged, st)
	})
	if err := gate.Reconcile(ctx); err != nil {
		slog.Warn("pairing.reconcile_failed", "error", err)
	}
	if !cfg.Server.Enabled {
		if err := gate.Disable(ctx); err != nil {
			slog.Warn("pairing.gate_disable_failed", "error", err)
		}
	}

	codes := pairing.NewRegistry(clk, cfg.Pairing.CodeTTL())
	orchestrator := consent.New(consent.NewBroadcastSurface(admin), clk,
		cfg.Pairing.ConsentTimeout(), cfg.Pairing.DisconnectPoll())

	tokenStore, err := tokens.New(kv, clk, 0)
	if err != nil {
		return fmt.Errorf("init token store: %w", err)
	}

	player := playerstate.NewAggregator(clk, cfg.Player.Settle())
	defer player.Close()
	if resume, err := playerstate.LoadResume(ctx, kv); err != nil {
		slog.Warn("playerstate.resume_load_failed", "error", err)
	} else {
		player.Resume().Restore(resume)
		if resume.LastURL != "" {
			slog.Info("playerstate.resume_loaded", "url", resume.LastURL)
		}
	}
	defer saveResume(kv, player)

	link := content.New(player, events, content.Options{
		Secret:  cfg.Content.Secret,
		Timeout: cfg.Player.CatalogTimeout(),
		Clock:   clk,
	})

	server := gateway.NewServer(cfg, gateway.Deps{
		Gate:    gate,
		Codes:   codes,
		Consent: orchestrator,
		Tokens:  tokenStore,
		Player:  player,
		Content: link,
		Events:  events,
		Admin:   admin,
		Clock:   clk,
	})
	router := admin.Router()
	methods.NewGateMethods(gate, codes).Register(router)
	methods.NewTokenMethods(tokenStore).Register(router)
	methods.NewConsentMethods(orchestrator).Register(router)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Redis.URL != "" {
		client, err := bus.DialRedis(ctx, cfg.Redis.URL, bus.DefaultRetryConfig())
		if err != nil {
			slog.Warn("bus.redis_unavailable", "error", err)
		} else {
			defer client.Close()
			mirror := bus.NewRedisMirror(client, cfg.Redis.Channel, 0)
			events.Subscribe("redis", mirror.Handle)
			g.Go(func() error { return mirror.Run(ctx) })
		}
	}

	watcher, err := config.NewWatcher(cfgPath, cfg)
	if err != nil {
		slog.Warn("config.watcher_unavailable", "error", err)
	} else {
		watcher.OnChange(func(prev, next *config.Config) {
			onConfigReload(prev, next, gate)
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("config.watcher_unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	if cfg.Server.Enabled {
		ln, err := net.Listen("tcp", cfg.Addr())
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
		}
		g.Go(func() error { return server.Serve(ctx, ln) })
		if stopTS := initTailscale(ctx, cfg, server.Handler()); stopTS != nil {
			defer stopTS()
		}
	} else {
		slog.Info("gateway.disabled", "hint", "set server.enabled and restart")
		defer server.Close()
		g.Go(func() error {
			<-ctx.Done()
			return nil
		})
	}

	err = g.Wait()
	slog.Info("ytmc.stopped")
	return err
}

// onConfigReload applies the settings that take effect without a restart.
func onConfigReload(prev, next *config.Config, gate *pairing.Gate) {
	if prev.Log.Level != next.Log.Level {
		applyLogLevel(next.Log.Level)
		slog.Info("config.log_level_changed", "level", next.Log.Level)
	}
	if prev.Server.Enabled && !next.Server.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gate.Disable(ctx); err != nil {
			slog.Warn("pairing.gate_disable_failed", "error", err)
		}
		slog.Info("config.server_disabled", "hint", "restart to stop the listener")
	}
	if prev.Addr() != next.Addr() || prev.Store != next.Store {
		slog.Warn("config.restart_required", "reason", "listener or store settings changed")
	}
}

func saveResume(kv store.KV, player *playerstate.Aggregator) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := player.Resume().Save(ctx, kv); err != nil {
		slog.Warn("playerstate.resume_save_failed", "error", err)
	}
}
