// Package crypto handles API key encryption at rest using fernet tokens.
// Falls back to plaintext storage if no encryption key is configured (dev mode).
package crypto

import (
	"log"

	"github.com/fernet/fernet-go"
)

// Cipher encrypts and decrypts provider credentials.
type Cipher struct {
	key *fernet.Key
}

// New creates a cipher from a base64-encoded fernet key. An empty or invalid
// key yields a plaintext passthrough cipher.
func New(encodedKey string) *Cipher {
	if encodedKey == "" {
		return &Cipher{}
	}
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		log.Printf("WARN: invalid ENCRYPTION_KEY, storing credentials in plaintext: %v", err)
		return &Cipher{}
	}
	return &Cipher{key: key}
}

// Encrypt encrypts a credential. Returns the plaintext unchanged when no
// encryption key is configured.
func (c *Cipher) Encrypt(plaintext string) string {
	if plaintext == "" {
		return ""
	}
	if c.key == nil {
		return plaintext
	}
	token, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		log.Printf("ERROR: failed to encrypt credential: %v", err)
		return plaintext
	}
	return string(token)
}

// Decrypt decrypts a credential. Legacy plaintext values (or anything that is
// not a valid token) are returned as-is.
func (c *Cipher) Decrypt(ciphertext string) string {
	if ciphertext == "" {
		return ""
	}
	if c.key == nil {
		return ciphertext
	}
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{c.key})
	if msg == nil {
		// Not encrypted (legacy or dev mode)
		return ciphertext
	}
	return string(msg)
}

// MaskKey masks a credential for display: first 12 chars plus "***".
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "***"
	}
	return key[:12] + "***"
}
