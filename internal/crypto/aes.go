// Package crypto seals small persisted values (pairing gate flag and
// timestamp) with AES-256-GCM so they cannot be flipped by editing the
// store on disk.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const prefix = "aes-gcm:"

var (
	// ErrNotSealed is returned by Open for values without the sealed prefix.
	ErrNotSealed = errors.New("crypto: value is not sealed")
	// ErrDecrypt is returned when the key is wrong or the value was tampered with.
	ErrDecrypt = errors.New("crypto: decrypt failed: invalid key or corrupted data")
)

// Box encrypts and decrypts values with a fixed key.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a key accepted by DeriveKey.
func NewBox(key string) (*Box, error) {
	keyBytes, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Box{aead: gcm}, nil
}

// Seal returns "aes-gcm:" + base64(nonce + ciphertext + tag).
func (b *Box) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open reverses Seal. Unlike a lenient decoder it never passes plain text
// through: anything that is not a valid sealed value is an error, so callers
// can treat a failure as "not set".
func (b *Box) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrNotSealed
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, prefix))
	if err != nil {
		return "", ErrDecrypt
	}
	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrDecrypt
	}
	plaintext, err := b.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// IsSealed reports whether the value has the "aes-gcm:" prefix.
func IsSealed(value string) bool {
	return strings.HasPrefix(value, prefix)
}

// DeriveKey converts the input string to a 32-byte AES key.
// Accepts: hex-encoded (64 chars), base64-encoded (44 chars), or raw 32 bytes.
func DeriveKey(input string) ([]byte, error) {
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}

	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}

	if len(input) == 32 {
		return []byte(input), nil
	}

	return nil, errors.New("encryption key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}

// GenerateKey returns a new random hex-encoded 32-byte key.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
