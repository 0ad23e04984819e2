// Package tokens mints and validates companion bearer tokens. Only a BLAKE3
// hash of each token is persisted; the plaintext is returned once by Mint.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/nextlevelbuilder/ytmc/internal/clock"
	"github.com/nextlevelbuilder/ytmc/internal/store"
)

const (
	secretBytes      = 32
	DefaultCacheSize = 256
)

// Token is the persisted record for one issued bearer token.
type Token struct {
	AppName    string    `json:"appName"`
	SecretHash string    `json:"secretHash"`
	IssuedAt   time.Time `json:"issuedAt"`
}

// Store persists token hashes in a store.KV under "tokens/<hash>".
type Store struct {
	kv    store.KV
	clock clock.Clock

	// mu orders cache fills against revocation so a revoked hash is never
	// re-cached by a concurrent Validate.
	mu    sync.RWMutex
	cache *lru.Cache[string, string] // hash -> app name
}

func New(kv store.KV, clk clock.Clock, cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("token cache: %w", err)
	}
	return &Store{kv: kv, clock: clk, cache: cache}, nil
}

// Mint creates a token for appName and returns its plaintext.
func (s *Store) Mint(ctx context.Context, appName string) (string, error) {
	if strings.TrimSpace(appName) == "" {
		return "", errors.New("tokens: empty app name")
	}
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	secret := hex.EncodeToString(raw)
	hash := HashSecret(secret)

	rec := Token{AppName: appName, SecretHash: hash, IssuedAt: s.clock.Now().UTC()}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(ctx, store.TokenKeyPrefix+hash, string(data)); err != nil {
		return "", fmt.Errorf("persist token: %w", err)
	}
	slog.Info("tokens.minted", "app", appName)
	return secret, nil
}

// Validate returns the app name the token was minted for.
func (s *Store) Validate(ctx context.Context, token string) (string, bool) {
	if !wellFormed(token) {
		return "", false
	}
	hash := HashSecret(token)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if app, ok := s.cache.Get(hash); ok {
		return app, true
	}
	data, err := s.kv.Get(ctx, store.TokenKeyPrefix+hash)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("tokens.lookup_failed", "error", err)
		}
		return "", false
	}
	var rec Token
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		slog.Warn("tokens.record_corrupt", "error", err)
		return "", false
	}
	s.cache.Add(hash, rec.AppName)
	return rec.AppName, true
}

// Revoke deletes every token of appName and returns how many were removed.
func (s *Store) Revoke(ctx context.Context, appName string) (int, error) {
	return s.revokeWhere(ctx, func(t Token) bool { return t.AppName == appName })
}

// RevokeAll deletes every token.
func (s *Store) RevokeAll(ctx context.Context) (int, error) {
	return s.revokeWhere(ctx, func(Token) bool { return true })
}

// List returns all token records, oldest first.
func (s *Store) List(ctx context.Context) ([]Token, error) {
	entries, err := s.kv.List(ctx, store.TokenKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	out := make([]Token, 0, len(entries))
	for key, data := range entries {
		var rec Token
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			slog.Warn("tokens.record_corrupt", "key", key, "error", err)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (s *Store) revokeWhere(ctx context.Context, match func(Token) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.kv.List(ctx, store.TokenKeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list tokens: %w", err)
	}
	removed := 0
	for key, data := range entries {
		var rec Token
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			continue
		}
		if !match(rec) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete token: %w", err)
		}
		s.cache.Remove(strings.TrimPrefix(key, store.TokenKeyPrefix))
		removed++
	}
	if removed > 0 {
		slog.Info("tokens.revoked", "count", removed)
	}
	return removed, nil
}

// HashSecret is the hex BLAKE3-256 digest stored for a token.
func HashSecret(secret string) string {
	sum := blake3.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func wellFormed(token string) bool {
	if len(token) != secretBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}
