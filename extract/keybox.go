// Package extract relays AI document-extraction requests through a
// server-side-held encrypted API key, extracting plain text from uploaded
// PDF and HTML documents before they are sent upstream.
package extract

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Keybox seals and opens the relay's upstream API key so only the
// encrypted form appears in configuration files and environment values.
// The AES-256 key is derived from a passphrase with SHA-256.
type Keybox struct {
	aead cipher.AEAD
}

// NewKeybox derives a keybox from the passphrase.
func NewKeybox(passphrase string) (*Keybox, error) {
	if passphrase == "" {
		return nil, errors.New("keybox passphrase is required")
	}

	sum := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("derive cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("wrap cipher: %w", err)
	}

	return &Keybox{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func (k *Keybox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := k.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Tampered ciphertext or a key
// sealed under a different passphrase fails authentication.
func (k *Keybox) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode encrypted key: %w", err)
	}
	if len(raw) < k.aead.NonceSize() {
		return "", errors.New("encrypted key too short")
	}

	nonce, ciphertext := raw[:k.aead.NonceSize()], raw[k.aead.NonceSize():]
	plaintext, err := k.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt key: %w", err)
	}

	return string(plaintext), nil
}
