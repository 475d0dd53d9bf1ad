package store

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const (
	secretSize = 32
	keySize    = 32

	keyInfo = "proctord:journal-hmac:v1"
)

// ErrWeakSecret is returned when the secret file holds too few bytes.
var ErrWeakSecret = errors.New("store: journal secret too short")

// LoadOrCreateSecret reads the per-install secret at path, creating it
// with 0600 permissions when missing.
func LoadOrCreateSecret(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	if err == nil {
		if len(secret) < secretSize {
			return nil, fmt.Errorf("%w: %d bytes, need %d", ErrWeakSecret, len(secret), secretSize)
		}
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create secret directory: %w", err)
	}
	secret = make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// Lost a race with another process; use its secret.
			return LoadOrCreateSecret(path)
		}
		return nil, fmt.Errorf("create secret: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(secret); err != nil {
		return nil, fmt.Errorf("write secret: %w", err)
	}
	return secret, nil
}

// DeriveKey derives the journal HMAC key from secret with HKDF-SHA256.
func DeriveKey(secret []byte) ([]byte, error) {
	if len(secret) < secretSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrWeakSecret, len(secret), secretSize)
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}
