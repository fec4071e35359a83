package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const securePrefix = "secure:"

// SecureStore encrypts values with XChaCha20-Poly1305 before handing them to
// the underlying store. The key name is bound as additional data, so a value
// copied under another key fails to open.
type SecureStore struct {
	store Store
	aead  cipher.AEAD
}

func NewSecureStore(store Store, masterKey []byte) (*SecureStore, error) {
	key, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init secure store cipher: %w", err)
	}
	return &SecureStore{store: store, aead: aead}, nil
}

func deriveKey(master []byte) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("secure store: empty master key")
	}
	h := hkdf.New(sha256.New, master, nil, []byte("device-secure-store"))
	out := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SecureStore) Get(key string) (string, error) {
	raw, err := s.store.Get(securePrefix + key)
	if err != nil {
		return "", err
	}
	blob, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("secure store: corrupt value for %s: %w", key, err)
	}
	ns := s.aead.NonceSize()
	if len(blob) < ns {
		return "", fmt.Errorf("secure store: short value for %s", key)
	}
	plain, err := s.aead.Open(nil, blob[:ns], blob[ns:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("secure store: open %s: %w", key, err)
	}
	return string(plain), nil
}

func (s *SecureStore) Set(key, value string) error {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(value)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	blob := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return s.store.Set(securePrefix+key, base64.StdEncoding.EncodeToString(blob))
}

func (s *SecureStore) Delete(key string) error {
	return s.store.Delete(securePrefix + key)
}

// Close is a no-op; the underlying store is owned by the caller.
func (s *SecureStore) Close() error { return nil }

// LoadOrCreateMasterKey returns configured when set, otherwise the key file at
// path, generating a random one with owner-only permissions on first use.
func LoadOrCreateMasterKey(path, configured string) ([]byte, error) {
	if configured != "" {
		return []byte(configured), nil
	}
	if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
		return data, nil
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write master key: %w", err)
	}
	return key, nil
}
