package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/ytmc/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS ytmc_kv (
	key        VARCHAR(255) PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type kvRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// KV implements store.KV backed by Postgres.
type KV struct {
	db *sqlx.DB
}

// Open connects with OpenDB and ensures the kv table exists.
func Open(ctx context.Context, dsn string) (*KV, error) {
	raw, err := OpenDB(dsn)
	if err != nil {
		return nil, err
	}
	db := sqlx.NewDb(raw, "pgx")
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv schema: %w", err)
	}
	return &KV{db: db}, nil
}

func (s *KV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM ytmc_kv WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

func (s *KV) Set(ctx context.Context, key, value string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ytmc_kv (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = $2, updated_at = $3`,
		key, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *KV) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ytmc_kv WHERE key = $1`, key)
	return err
}

func (s *KV) List(ctx context.Context, prefix string) (map[string]string, error) {
	var rows []kvRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT key, value FROM ytmc_kv WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *KV) Close() error { return s.db.Close() }
