package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantError string
	}{
		{"empty key", "", "encryption key is empty"},
		{"invalid base64", "not-valid-base64!@#$", "base64 decode failed"},
		{"key too short", base64.StdEncoding.EncodeToString(make([]byte, 16)), "must be 32 bytes"},
		{"key too long", base64.StdEncoding.EncodeToString(make([]byte, 64)), "must be 32 bytes"},
		{"valid 32-byte key", base64.StdEncoding.EncodeToString(make([]byte, 32)), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.wantError != "" {
				if err == nil {
					t.Fatalf("NewAESEncryptor() expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantError) {
					t.Errorf("NewAESEncryptor() error = %v, want containing %q", err, tt.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAESEncryptor() error: %v", err)
			}
			if enc == nil {
				t.Fatal("NewAESEncryptor() returned nil encryptor")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor() error: %v", err)
	}
	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"short", []byte("app-password-1234")},
		{"unicode", []byte("pässwörd-åäö-日本語")},
		{"long", bytes.Repeat([]byte("x"), 4096)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error: %v", err)
			}
			if bytes.Contains(ciphertext, tt.plaintext) {
				t.Error("ciphertext contains plaintext")
			}
			got, err := enc.Decrypt(ciphertext)
			if err != nil {
				t.Fatalf("Decrypt() error: %v", err)
			}
			if !bytes.Equal(got, tt.plaintext) {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	a, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	b, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions of the same plaintext produced identical ciphertext (nonce reuse?)")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	ciphertext, err := enc.Encrypt([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0x01
	if _, err := enc.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	encA, _ := NewAESEncryptor(testKey(t))
	encB, _ := NewAESEncryptor(testKey(t))
	ciphertext, err := encA.Encrypt([]byte("sensitive"))
	if err != nil {
		t.Fatalf("Encrypt() error: %v", err)
	}
	if _, err := encB.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() with wrong key succeeded")
	}
}

func TestDecryptInvalidInput(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	for _, input := range [][]byte{nil, {}, {1, 2, 3}} {
		if _, err := enc.Decrypt(input); err == nil {
			t.Errorf("Decrypt(%v) succeeded, want error", input)
		}
	}
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	if _, err := enc.Encrypt(nil); err == nil {
		t.Error("Encrypt(nil) succeeded, want error")
	}
}

func TestStringHelpers(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	ciphertext, err := EncryptString(enc, "hunter2")
	if err != nil {
		t.Fatalf("EncryptString() error: %v", err)
	}
	if ciphertext == "" || ciphertext == "hunter2" {
		t.Fatalf("EncryptString() = %q", ciphertext)
	}
	if _, err := base64.StdEncoding.DecodeString(ciphertext); err != nil {
		t.Errorf("EncryptString() output is not base64: %v", err)
	}
	got, err := DecryptString(enc, ciphertext)
	if err != nil {
		t.Fatalf("DecryptString() error: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("DecryptString() = %q, want %q", got, "hunter2")
	}

	// Empty strings pass through both ways.
	if out, err := EncryptString(enc, ""); err != nil || out != "" {
		t.Errorf("EncryptString(\"\") = %q, %v", out, err)
	}
	if out, err := DecryptString(enc, ""); err != nil || out != "" {
		t.Errorf("DecryptString(\"\") = %q, %v", out, err)
	}
	if _, err := DecryptString(enc, "!!not base64!!"); err == nil {
		t.Error("DecryptString() accepted invalid base64")
	}
}
