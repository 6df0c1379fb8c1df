package sealedbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// Box encrypts retry-queue payloads before they are written to the shared
// store. Eligibility payloads carry PHI; nothing leaves the process
// unsealed.
type Box struct {
	key []byte
}

// ErrNoKey is returned when a Box is constructed without key material.
// Callers are expected to fail closed: refuse to persist, never fall back
// to plaintext.
var ErrNoKey = errors.New("sealedbox: no encryption key configured")

// New derives a 256-bit AES key from the configured secret. An empty
// secret returns ErrNoKey.
func New(secret string) (*Box, error) {
	if secret == "" {
		return nil, ErrNoKey
	}
	key := sha256.Sum256([]byte(secret))
	return &Box{key: key[:]}, nil
}

// Seal encrypts plaintext with AES-GCM and returns a base64 string with
// the nonce prepended to the ciphertext.
func (b *Box) Seal(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed string produced by Seal.
func (b *Box) Open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("sealed payload too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
