package crypto

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "ytmc"
	keyringUser    = "storage-encryption-key"
	keyFileName    = "encryption.key"
)

// ResolveKey picks the at-rest encryption key. Order: the configured key,
// the OS keychain entry, a key file under dataDir. When none exist a new key
// is generated and stored in the keychain, falling back to the key file when
// no keychain is available (headless Linux).
func ResolveKey(configured, dataDir string) (string, error) {
	if configured != "" {
		if _, err := DeriveKey(configured); err != nil {
			return "", fmt.Errorf("configured encryption key: %w", err)
		}
		return configured, nil
	}

	key, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		if _, derr := DeriveKey(key); derr == nil {
			return key, nil
		}
		slog.Warn("crypto.keyring_key_invalid", "service", keyringService)
	} else if !errors.Is(err, keyring.ErrNotFound) {
		slog.Debug("crypto.keyring_unavailable", "error", err)
	}

	path := filepath.Join(dataDir, keyFileName)
	if data, err := os.ReadFile(path); err == nil {
		key := strings.TrimSpace(string(data))
		if _, err := DeriveKey(key); err != nil {
			return "", fmt.Errorf("key file %s: %w", path, err)
		}
		return key, nil
	}

	key, err = GenerateKey()
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, key); err == nil {
		slog.Info("crypto.key_generated", "backend", "keyring")
		return key, nil
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write key file: %w", err)
	}
	slog.Info("crypto.key_generated", "backend", "file", "path", path)
	return key, nil
}
