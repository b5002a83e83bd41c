// Package secret models encrypted-at-rest fields as opaque references that
// are only decrypted at the point of use, with the cipher injected as a
// collaborator.
package secret

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	domainErrors "github.com/cassiomorais/billing/internal/domain/errors"
)

// Ref is an opaque handle to an encrypted value (gateway authorization
// codes, customer emails). It never exposes plaintext; callers go through a
// Codec.
type Ref struct {
	ciphertext []byte
}

// NewRef wraps raw ciphertext loaded from storage.
func NewRef(ciphertext []byte) Ref {
	return Ref{ciphertext: ciphertext}
}

// IsZero reports whether the reference holds no ciphertext.
func (r Ref) IsZero() bool { return len(r.ciphertext) == 0 }

// Bytes returns the ciphertext for persistence.
func (r Ref) Bytes() []byte { return r.ciphertext }

// String keeps ciphertext out of logs.
func (r Ref) String() string {
	if r.IsZero() {
		return "secret.Ref(empty)"
	}
	return "secret.Ref(set)"
}

// Codec encrypts and reveals secret references.
type Codec interface {
	Encrypt(ctx context.Context, plaintext string) (Ref, error)
	// Reveal decrypts r. A zero Ref or undecipherable ciphertext returns
	// ErrDecryptFailed; callers on the renewal path fail closed on it.
	Reveal(ctx context.Context, r Ref) (string, error)
}

// AESCodec is an AES-256-GCM Codec with a nonce-prefixed wire format.
type AESCodec struct {
	aead cipher.AEAD
}

// NewAESCodec creates a codec from a 32-byte key.
func NewAESCodec(key []byte) (*AESCodec, error) {
	if len(key) != 32 {
		return nil, domainErrors.NewConfigError("secret key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &AESCodec{aead: aead}, nil
}

func (c *AESCodec) Encrypt(ctx context.Context, plaintext string) (Ref, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Ref{}, fmt.Errorf("generate nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Ref{ciphertext: out}, nil
}

func (c *AESCodec) Reveal(ctx context.Context, r Ref) (string, error) {
	if r.IsZero() || len(r.ciphertext) < c.aead.NonceSize() {
		return "", domainErrors.ErrDecryptFailed
	}
	nonce := r.ciphertext[:c.aead.NonceSize()]
	plaintext, err := c.aead.Open(nil, nonce, r.ciphertext[c.aead.NonceSize():], nil)
	if err != nil {
		return "", domainErrors.ErrDecryptFailed
	}
	return string(plaintext), nil
}
