// Package credential stores provider API keys encrypted at rest.
// Values are sealed with AES-256-GCM under a machine-derived key, so a
// copied database file does not leak keys on another machine.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/felixgeelhaar/recall/internal/store"
)

// EncryptedPrefix marks sealed values in storage.
const EncryptedPrefix = "enc:v1:"

// configKeyPrefix namespaces credential entries in the config table.
const configKeyPrefix = "credential."

var (
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrInvalidFormat    = errors.New("invalid encrypted format")
	ErrNotFound         = errors.New("credential not found")
)

// Vault seals and opens credential values with a machine-derived key.
type Vault struct {
	key []byte
}

// NewVault derives the encryption key from machine identifiers so that
// credentials decrypt only on the host that stored them.
func NewVault() (*Vault, error) {
	key, err := deriveKey()
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return &Vault{key: key}, nil
}

// Seal encrypts a plaintext value and returns a storable string.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a stored value back to plaintext. Unprefixed values are
// returned as-is so plaintext keys written by hand still work.
func (v *Vault) Open(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	if !strings.HasPrefix(stored, EncryptedPrefix) {
		return stored, nil
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %v", ErrInvalidFormat, err)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrInvalidFormat
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// StoreKey seals an API key for the named provider and writes it to the
// configuration table.
func (v *Vault) StoreKey(s store.Storage, providerName, apiKey string) error {
	sealed, err := v.Seal(apiKey)
	if err != nil {
		return err
	}
	return s.SetConfig(configKeyPrefix+providerName, sealed)
}

// LookupKey reads and opens the API key for the named provider. It returns
// ErrNotFound when no key has been stored.
func (v *Vault) LookupKey(s store.Storage, providerName string) (string, error) {
	sealed, err := s.GetConfig(configKeyPrefix + providerName)
	if err != nil {
		return "", err
	}
	if sealed == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, providerName)
	}
	return v.Open(sealed)
}

// IsEncrypted reports whether a stored value carries the sealed prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// deriveKey hashes machine identifiers into a 32-byte AES-256 key that is
// stable across restarts on the same host.
func deriveKey() ([]byte, error) {
	var entropy strings.Builder

	hostname, _ := os.Hostname()
	entropy.WriteString(hostname)

	home, _ := os.UserHomeDir()
	entropy.WriteString(home)

	entropy.WriteString(runtime.GOOS)
	entropy.WriteString(runtime.GOARCH)

	entropy.WriteString("recall-credential-vault-v1")

	if uid := os.Getuid(); uid != -1 {
		entropy.WriteString(fmt.Sprintf("uid:%d", uid))
	}
	if username := os.Getenv("USER"); username != "" {
		entropy.WriteString(username)
	}

	hash := sha256.Sum256([]byte(entropy.String()))
	return hash[:], nil
}

// MaskSecret returns a display-safe form of a secret, keeping only the
// first and last four characters of long values.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
