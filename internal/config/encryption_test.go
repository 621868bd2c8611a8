// Warden - Bot Session Lifecycle Manager for Messaging Networks
// Copyright 2026 M. Spindler (spindlehq)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/spindlehq/warden

package config

import (
	"errors"
	"testing"
)

func TestNewCredentialEncryptor(t *testing.T) {
	t.Run("empty secret rejected", func(t *testing.T) {
		_, err := NewCredentialEncryptor("")
		if !errors.Is(err, ErrEmptySecret) {
			t.Errorf("got %v, want ErrEmptySecret", err)
		}
	})

	t.Run("valid secret", func(t *testing.T) {
		if _, err := NewCredentialEncryptor("a-long-enough-master-secret"); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewCredentialEncryptor("a-long-enough-master-secret")
	if err != nil {
		t.Fatalf("NewCredentialEncryptor: %v", err)
	}

	plaintext := "bot-token-123:ABCdef"
	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if ciphertext == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if got != plaintext {
		t.Errorf("got %q, want %q", got, plaintext)
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	enc, _ := NewCredentialEncryptor("a-long-enough-master-secret")

	a, _ := enc.Encrypt("same-credential")
	b, _ := enc.Encrypt("same-credential")
	if a == b {
		t.Error("identical plaintexts produced identical ciphertexts")
	}
}

func TestDecryptErrors(t *testing.T) {
	enc, _ := NewCredentialEncryptor("a-long-enough-master-secret")

	tests := []struct {
		name       string
		ciphertext string
		want       error
	}{
		{"empty", "", ErrEmptyCiphertext},
		{"not base64", "!!!not-base64!!!", ErrInvalidCiphertext},
		{"too short", "YWJj", ErrCiphertextTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := enc.Decrypt(tt.ciphertext)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	t.Run("tampered ciphertext", func(t *testing.T) {
		ct, _ := enc.Encrypt("secret")
		tampered := ct[:len(ct)-4] + "AAA="
		if _, err := enc.Decrypt(tampered); !errors.Is(err, ErrDecryptionFailed) && !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("got %v, want decryption failure", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, _ := NewCredentialEncryptor("a-different-master-secret!!")
		ct, _ := enc.Encrypt("secret")
		if _, err := other.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("got %v, want ErrDecryptionFailed", err)
		}
	})
}

func TestMaskCredential(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"ab", "**"},
		{"abcd", "****"},
		{"bot-token-9876", "****9876"},
	}

	for _, tt := range tests {
		if got := MaskCredential(tt.in); got != tt.want {
			t.Errorf("MaskCredential(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
