// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/secretbox"
)

var (
	ErrInvalidToken        = errors.New("invalid token format")
	ErrInvalidSignature    = errors.New("invalid token signature")
	ErrInvalidWebhookToken = errors.New("invalid webhook token")
	ErrDecrypt             = errors.New("failed to decrypt secret")
)

// NewID returns a random UUID string for database records
func NewID() string {
	return uuid.NewString()
}

func sign(secret, value string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

// GenerateToken creates the bearer token of a user: "<userID>.<hmac>".
// It is deterministic, so it never needs to be stored.
func GenerateToken(userID, secret string) string {
	return userID + "." + sign(secret, userID)
}

// ParseToken validates a bearer token and returns the user ID it names
func ParseToken(token, secret string) (string, error) {
	userID, sig, ok := strings.Cut(token, ".")
	if !ok || userID == "" || sig == "" {
		return "", ErrInvalidToken
	}
	if !hmac.Equal([]byte(sig), []byte(sign(secret, userID))) {
		return "", ErrInvalidSignature
	}
	return userID, nil
}

func webhookMAC(systemID, secret string) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(systemID))
	return h.Sum(nil)
}

// WebhookToken is the path secret a system's plugs post events to:
// HMAC-SHA256(secret, systemID) in unpadded URL-safe base64, short enough
// for device firmware.
func WebhookToken(systemID, secret string) string {
	return base64.RawURLEncoding.EncodeToString(webhookMAC(systemID, secret))
}

// ValidateWebhookToken checks a webhook path token for the system.
// Bridges that sign in hex are accepted as well.
func ValidateWebhookToken(systemID, token, secret string) error {
	var mac []byte
	var err error
	if len(token) == hex.EncodedLen(sha256.Size) {
		mac, err = hex.DecodeString(token)
	} else {
		mac, err = base64.RawURLEncoding.DecodeString(token)
	}
	if err != nil || !hmac.Equal(mac, webhookMAC(systemID, secret)) {
		return ErrInvalidWebhookToken
	}
	return nil
}

// Sealer encrypts secrets at rest (Shelly cloud tokens) with NaCl secretbox.
type Sealer struct {
	key *[32]byte
}

func NewSealer(key *[32]byte) *Sealer {
	return &Sealer{key: key}
}

// Seal encrypts plaintext and returns base64(nonce || box)
func (s *Sealer) Seal(plaintext string) (string, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, s.key)
	return base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < 24+secretbox.Overhead {
		return "", ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, s.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
