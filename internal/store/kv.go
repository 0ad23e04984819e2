// Package store defines the persisted key/value contract used for the pairing
// gate, token records and resume state. Backends live in subpackages:
// file (standalone JSON file), sqlite (default) and pg (Postgres).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Persisted keys shared across packages.
const (
	KeyAuthWindowEnabled   = "integrations.companionServerAuthWindowEnabled"
	KeyAuthWindowEnabledAt = "state.companionServerAuthWindowEnableTime"
	KeyLastURL             = "state.lastUrl"
	KeyLastVideoID         = "state.lastVideoId"
	KeyLastPlaylistID      = "state.lastPlaylistId"
	TokenKeyPrefix         = "tokens/"
)

// KV is a flat string key/value store. Every mutation is a single-key write.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	// List returns every entry whose key starts with prefix.
	List(ctx context.Context, prefix string) (map[string]string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver: "sqlite" (default), "file", "postgres" or "memory".
	Driver string `json:"driver,omitempty"`
	// Path is the sqlite database or JSON file path.
	Path string `json:"path,omitempty"`
	// DSN is the Postgres connection string.
	DSN string `json:"dsn,omitempty"`
}

// MaxKeyLength matches the VARCHAR(255) key column of the SQL backends.
const MaxKeyLength = 255

// ValidateKey rejects empty and oversized keys.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("store: empty key")
	}
	if len(key) > MaxKeyLength {
		return fmt.Errorf("store: key too long: %d chars (max %d)", len(key), MaxKeyLength)
	}
	return nil
}
