// Package backends opens the store.KV implementation named by a
// store.Config.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/ytmc/internal/store"
	"github.com/nextlevelbuilder/ytmc/internal/store/file"
	"github.com/nextlevelbuilder/ytmc/internal/store/pg"
	"github.com/nextlevelbuilder/ytmc/internal/store/sqlite"
)

// Open returns the configured backend. Driver "memory" is for tests and
// dry runs; nothing survives a restart.
func Open(ctx context.Context, cfg store.Config) (store.KV, error) {
	switch cfg.Driver {
	case "", "sqlite":
		kv, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		slog.Info("store.opened", "driver", "sqlite", "path", cfg.Path)
		return kv, nil
	case "file":
		kv, err := file.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		slog.Info("store.opened", "driver", "file", "path", cfg.Path)
		return kv, nil
	case "postgres":
		kv, err := pg.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		slog.Info("store.opened", "driver", "postgres")
		return kv, nil
	case "memory":
		slog.Warn("store.opened", "driver", "memory", "note", "state is not persisted")
		return store.NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
