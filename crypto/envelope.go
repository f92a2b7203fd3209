// Package crypto implements the envelope encryption used for stored carrier
// credentials: AES-256-GCM under a process-wide key, with a fresh random IV
// per sealed value and the serialization base64(iv):base64(tag):base64(ciphertext).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// KeyLen is the AES-256 key length in bytes.
	KeyLen = 32
	ivLen  = 12
	tagLen = 16
)

// ErrAuthFailed is returned when GCM authentication of a ciphertext fails:
// the envelope was produced under a different key, or was tampered with.
// It carries no detail about the failing input.
var ErrAuthFailed = errors.New("decryption authentication failed")

// ParseKey decodes a 64-hex-character encryption key into its 32 raw bytes.
// Configuration loading calls this at startup and treats an error as fatal.
func ParseKey(hexKey string) ([]byte, error) {
	if len(hexKey) != KeyLen*2 {
		return nil, fmt.Errorf("encryption key must be %d hex characters, got %d", KeyLen*2, len(hexKey))
	}
	var key, err = hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return key, nil
}

// Box seals and opens envelope-encrypted values under a single key.
// It's safe for concurrent use.
type Box struct {
	aead cipher.AEAD
}

// NewBox builds a Box from a raw 32-byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("initializing AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// EncryptToString seals |plaintext| and renders the envelope as
// base64(iv):base64(tag):base64(ciphertext). Each call draws a fresh IV, so
// equal plaintexts produce distinct envelopes.
func (b *Box) EncryptToString(plaintext []byte) (string, error) {
	var iv = make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("drawing IV: %w", err)
	}

	// Seal appends the GCM tag to the ciphertext; split it back apart for
	// the iv:tag:ciphertext wire layout.
	var sealed = b.aead.Seal(nil, iv, plaintext, nil)
	var ciphertext = sealed[:len(sealed)-tagLen]
	var tag = sealed[len(sealed)-tagLen:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// DecryptFromString validates and opens an envelope produced by
// EncryptToString. Authentication failures surface as ErrAuthFailed;
// all other errors describe the malformed envelope shape only.
func (b *Box) DecryptFromString(envelope string) ([]byte, error) {
	var parts = strings.Split(envelope, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed envelope: expected 3 segments, got %d", len(parts))
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("malformed envelope IV: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("malformed envelope tag: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("malformed envelope ciphertext: %w", err)
	}

	if len(iv) != ivLen {
		return nil, fmt.Errorf("malformed envelope: IV must be %d bytes, got %d", ivLen, len(iv))
	}
	if len(tag) != tagLen {
		return nil, fmt.Errorf("malformed envelope: tag must be %d bytes, got %d", tagLen, len(tag))
	}

	plaintext, err := b.aead.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
