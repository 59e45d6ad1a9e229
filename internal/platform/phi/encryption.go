// Package phi provides AES-256-GCM field-level encryption for patient
// identity data. Ciphertext is non-deterministic (random nonce per call),
// so stored values cannot be matched with SQL equality; callers that need
// to search encrypted fields must decrypt and compare in memory.
package phi

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Cipher is the minimal contract repositories and matchers depend on.
// A nil Cipher means fields are stored as plaintext (legacy environments).
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Encryptor implements Cipher with AES-256-GCM.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a 32-byte AES-256 key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("phi: key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("phi: create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phi: create GCM: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// Encrypt encrypts the plaintext and returns base64(nonce + ciphertext).
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("phi encrypt: generate nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, so the result is nonce + ciphertext.
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt decodes the base64 value, extracts the prepended nonce, and decrypts.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("phi decrypt: base64 decode: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("phi decrypt: ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("phi decrypt: %w", err)
	}
	return string(plaintext), nil
}

// DecryptOrRaw decrypts v with c, falling back to the raw stored value when
// decryption fails or no cipher is configured. Rows written before field
// encryption was enabled hold plaintext, and a failed decrypt must never
// abort a candidate scan.
func DecryptOrRaw(c Cipher, v string) string {
	if c == nil || v == "" {
		return v
	}
	plain, err := c.Decrypt(v)
	if err != nil {
		return v
	}
	return plain
}

// EncryptOrRaw encrypts v with c, returning v unchanged when no cipher is
// configured or v is empty.
func EncryptOrRaw(c Cipher, v string) (string, error) {
	if c == nil || v == "" {
		return v, nil
	}
	return c.Encrypt(v)
}
