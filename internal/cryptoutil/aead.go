// Package cryptoutil provides two independent utilities available to any
// component that persists sensitive content: AES-256-GCM encryption-at-rest
// with a PBKDF2-derived key, and Ed25519 canonical-JSON audit signing.
// Neither is wired to a specific component; each is a small, focused
// concern importable on its own, the way the teacher keeps internal/*
// packages single-purpose.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize         = 16
	nonceSize        = 12
	keySize          = 32 // AES-256
	pbkdf2Iterations = 100_000
)

// ErrCiphertextTooShort is returned by Decrypt when the input is too short
// to contain a salt and nonce.
var ErrCiphertextTooShort = errors.New("cryptoutil: ciphertext too short")

// AEAD encrypts and decrypts data at rest with AES-256-GCM. Each call to
// Encrypt generates a fresh random salt and nonce; the key is derived from
// secret via PBKDF2-HMAC-SHA256 so no raw secret material is ever used
// directly as an AES key.
type AEAD struct {
	secret []byte
}

// NewAEAD builds an AEAD from a long-lived secret (e.g. a config-supplied
// passphrase). The secret itself is never stored verbatim in the resulting
// ciphertext; only the per-message salt is.
func NewAEAD(secret []byte) *AEAD {
	return &AEAD{secret: secret}
}

// Encrypt returns salt || nonce || ciphertext, where ciphertext includes the
// GCM authentication tag. Output format is self-describing so Decrypt needs
// only the secret to invert it.
func (a *AEAD) Encrypt(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("cryptoutil: generate salt: %w", err)
	}

	gcm, err := a.gcmForSalt(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptoutil: generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, saltSize+nonceSize+len(ciphertext))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decrypt inverts Encrypt, deriving the same key from the embedded salt.
func (a *AEAD) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < saltSize+nonceSize {
		return nil, ErrCiphertextTooShort
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize : saltSize+nonceSize]
	ciphertext := blob[saltSize+nonceSize:]

	gcm, err := a.gcmForSalt(salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: decrypt: %w", err)
	}
	return plaintext, nil
}

func (a *AEAD) gcmForSalt(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(a.secret, salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
