// Copyright (c) 2025 casblasvic.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id1 := NewID()
	id2 := NewID()
	if len(id1) != 36 {
		t.Errorf("NewID() length = %d, want 36", len(id1))
	}
	if id1 == id2 {
		t.Error("NewID() produced duplicate IDs (extremely unlikely)")
	}
}

func TestToken(t *testing.T) {
	tests := []struct {
		name    string
		token   func() string
		secret  string
		wantID  string
		wantErr error
	}{
		{"valid", func() string { return GenerateToken("user-1", "s3cret") }, "s3cret", "user-1", nil},
		{"wrong secret", func() string { return GenerateToken("user-1", "s3cret") }, "other", "", ErrInvalidSignature},
		{"tampered user", func() string {
			tok := GenerateToken("user-1", "s3cret")
			return "user-2" + tok[strings.Index(tok, "."):]
		}, "s3cret", "", ErrInvalidSignature},
		{"no separator", func() string { return "garbage" }, "s3cret", "", ErrInvalidToken},
		{"empty signature", func() string { return "user-1." }, "s3cret", "", ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseToken(tt.token(), tt.secret)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseToken() error = %v, want %v", err, tt.wantErr)
			}
			if id != tt.wantID {
				t.Errorf("ParseToken() = %q, want %q", id, tt.wantID)
			}
		})
	}

	// Deterministic
	if GenerateToken("u", "s") != GenerateToken("u", "s") {
		t.Error("GenerateToken() is not deterministic")
	}
}

func TestWebhookToken(t *testing.T) {
	h := hmac.New(sha256.New, []byte("hook"))
	h.Write([]byte("sys-1"))
	mac := h.Sum(nil)

	tok := WebhookToken("sys-1", "hook")
	if tok != base64.RawURLEncoding.EncodeToString(mac) {
		t.Errorf("WebhookToken() = %s, want the base64url HMAC of the system ID", tok)
	}

	tests := []struct {
		name     string
		systemID string
		token    string
		valid    bool
	}{
		{"issued token", "sys-1", tok, true},
		{"hex signature", "sys-1", hex.EncodeToString(mac), true},
		{"other system", "sys-2", tok, false},
		{"other secret", "sys-1", WebhookToken("sys-1", "other"), false},
		{"truncated", "sys-1", tok[:20], false},
		{"not encoded", "sys-1", "not a token!", false},
		{"empty", "sys-1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWebhookToken(tt.systemID, tt.token, "hook")
			if tt.valid && err != nil {
				t.Errorf("ValidateWebhookToken() error = %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidWebhookToken) {
				t.Errorf("ValidateWebhookToken() error = %v, want ErrInvalidWebhookToken", err)
			}
		})
	}
}

func TestSealer(t *testing.T) {
	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	s := NewSealer(&key)

	sealed, err := s.Seal("refresh-token-value")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if strings.Contains(sealed, "refresh-token-value") {
		t.Error("Seal() leaked plaintext")
	}

	again, _ := s.Seal("refresh-token-value")
	if again == sealed {
		t.Error("Seal() reused a nonce")
	}

	plain, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if plain != "refresh-token-value" {
		t.Errorf("Open() = %q", plain)
	}

	var other [32]byte
	if _, err := NewSealer(&other).Open(sealed); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Open() with wrong key error = %v", err)
	}
	if _, err := s.Open("not base64!"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Open() garbage error = %v", err)
	}
	if _, err := s.Open("c2hvcnQ="); !errors.Is(err, ErrDecrypt) {
		t.Errorf("Open() short input error = %v", err)
	}
}
