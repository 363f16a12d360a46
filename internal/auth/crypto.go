// Package auth implements registration, bearer-token issuance and
// verification, and AEAD encryption of stored provider credentials.
// Every request that reaches the engine carries a TenantContext derived
// from a verified token; the store rejects cross-tenant access.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// nonceSize is the GCM standard nonce size (12 bytes).
	nonceSize = 12
	// keySize is the required key length for AES-256-GCM (32 bytes).
	keySize = 32
)

var (
	ErrInvalidKeySize     = fmt.Errorf("encryption key must be exactly %d bytes", keySize)
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Vault encrypts and decrypts provider API keys with a process-wide
// AES-256-GCM key. Ciphertexts carry the nonce prepended:
// [nonce(12)] + [sealed data], base64-encoded for storage.
type Vault struct {
	key []byte
}

// NewVault creates a Vault from a 32-byte key.
func NewVault(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, ErrInvalidKeySize
	}
	v := &Vault{key: make([]byte, keySize)}
	copy(v.key, key)
	return v, nil
}

// EncryptString seals plaintext and returns a base64 ciphertext suitable for
// storage in the users table.
func (v *Vault) EncryptString(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	// Seal appends the encrypted+authenticated data to the nonce.
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString.
func (v *Vault) DecryptString(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < nonceSize {
		return "", ErrCiphertextTooShort
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce, data := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, data, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
