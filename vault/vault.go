package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrMissingKey indicates the vault secret was absent or unusable at startup.
	ErrMissingKey = errors.New("vault: VAULT_SECRET environment variable is required")
	// ErrCiphertext indicates the ciphertext is malformed, truncated, or was
	// produced under a different key.
	ErrCiphertext = errors.New("vault: ciphertext is invalid or was sealed with a different key")
)

// Vault encrypts and decrypts stored connection credentials with a single
// process-wide AES-GCM key. Credential fields are sealed independently and
// only opened at the moment of use.
type Vault struct {
	key []byte
}

// New constructs a Vault from a raw AES key (16, 24, or 32 bytes).
func New(key []byte) (*Vault, error) {
	switch len(key) {
	case 16, 24, 32:
		return &Vault{key: append([]byte(nil), key...)}, nil
	default:
		return nil, fmt.Errorf("%w: key must be 16, 24, or 32 bytes, got %d", ErrMissingKey, len(key))
	}
}

// NewFromEnv reads the key from VAULT_SECRET. The value may be the raw key or
// its standard base64 encoding.
func NewFromEnv() (*Vault, error) {
	raw := strings.TrimSpace(os.Getenv("VAULT_SECRET"))
	if raw == "" {
		return nil, ErrMissingKey
	}

	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		switch len(decoded) {
		case 16, 24, 32:
			return New(decoded)
		}
	}

	return New([]byte(raw))
}

// EncryptString seals plaintext and returns base64(nonce || ciphertext).
// Empty input stays empty so optional credential fields round-trip unchanged.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	if v == nil || len(v.key) == 0 {
		return "", ErrMissingKey
	}
	if plaintext == "" {
		return "", nil
	}

	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens ciphertext produced by EncryptString. Tampered or
// foreign ciphertext fails with ErrCiphertext, never garbage output.
func (v *Vault) DecryptString(ciphertext string) (string, error) {
	if v == nil || len(v.key) == 0 {
		return "", ErrMissingKey
	}
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCiphertext
	}

	gcm, err := v.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", ErrCiphertext
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrCiphertext
	}

	return string(plaintext), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return gcm, nil
}
