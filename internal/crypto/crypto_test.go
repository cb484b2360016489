package crypto

import (
	"testing"

	"github.com/fernet/fernet-go"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	var key fernet.Key
	if err := key.Generate(); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return New(key.Encode())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	original := "sk-test-key-12345"
	encrypted := c.Encrypt(original)
	if encrypted == original {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}
	if got := c.Decrypt(encrypted); got != original {
		t.Fatalf("round trip failed: got %q, want %q", got, original)
	}
}

func TestDecryptLegacyPlaintext(t *testing.T) {
	c := newTestCipher(t)

	// Values stored before encryption was enabled come back unchanged.
	legacy := "sk-legacy-plaintext-key"
	if got := c.Decrypt(legacy); got != legacy {
		t.Fatalf("expected legacy value unchanged, got %q", got)
	}
}

func TestPlaintextModeWithoutKey(t *testing.T) {
	c := New("")

	secret := "sk-dev-key"
	if got := c.Encrypt(secret); got != secret {
		t.Fatalf("expected plaintext passthrough, got %q", got)
	}
	if got := c.Decrypt(secret); got != secret {
		t.Fatalf("expected plaintext passthrough, got %q", got)
	}
}

func TestEmptyValues(t *testing.T) {
	c := newTestCipher(t)
	if got := c.Encrypt(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := c.Decrypt(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestMaskKey(t *testing.T) {
	if got := MaskKey("sk-ant-REDACTED"); got != "sk-ant-api03***" {
		t.Fatalf("unexpected mask: %q", got)
	}
	if got := MaskKey("short"); got != "***" {
		t.Fatalf("unexpected mask for short key: %q", got)
	}
	if got := MaskKey(""); got != "" {
		t.Fatalf("unexpected mask for empty key: %q", got)
	}
}
