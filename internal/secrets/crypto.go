// Package secrets encrypts credential secrets at rest with AES-256-GCM under
// a 32-byte master key and manages loading/generation of that key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// envelopeVersion allows the encryption format to evolve while remaining
	// backward compatible.
	envelopeVersion = "v1"

	// MasterKeyLen is the required master key length in bytes.
	MasterKeyLen = 32

	gcmNonceLen = 12
	gcmTagLen   = 16
)

var (
	// ErrInvalidKeyLength is returned before any cipher operation when the
	// master key is not exactly MasterKeyLen bytes.
	ErrInvalidKeyLength = errors.New("master key must be exactly 32 bytes")
	// ErrInvalidEnvelope indicates the ciphertext envelope is malformed.
	ErrInvalidEnvelope = errors.New("invalid ciphertext envelope")
	// ErrDecryptFailed is returned when authentication of the ciphertext
	// fails (wrong key, or tampered nonce/tag/ciphertext).
	ErrDecryptFailed = errors.New("decryption failed")
)

var b64 = base64.RawURLEncoding

// Encrypt seals plaintext under key and returns a self-describing envelope
// of the form "v1.<nonce>.<tag>.<ciphertext>" with each segment base64url
// encoded. A fresh random 96-bit nonce is used per call.
func Encrypt(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcmNonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	// Seal appends the 128-bit authentication tag to the ciphertext.
	ct := sealed[:len(sealed)-gcmTagLen]
	tag := sealed[len(sealed)-gcmTagLen:]

	return strings.Join([]string{
		envelopeVersion,
		b64.EncodeToString(nonce),
		b64.EncodeToString(tag),
		b64.EncodeToString(ct),
	}, "."), nil
}

// Decrypt opens an envelope produced by Encrypt. Any envelope that does not
// have the expected version.nonce.tag.ciphertext shape is rejected with
// ErrInvalidEnvelope; an authentication failure yields ErrDecryptFailed and
// never a partial plaintext.
func Decrypt(key []byte, envelope string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(envelope, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 segments, got %d", ErrInvalidEnvelope, len(parts))
	}
	if parts[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrInvalidEnvelope, parts[0])
	}

	nonce, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: decode nonce: %v", ErrInvalidEnvelope, err)
	}
	if len(nonce) != gcmNonceLen {
		return nil, fmt.Errorf("%w: invalid nonce size", ErrInvalidEnvelope)
	}
	tag, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: decode tag: %v", ErrInvalidEnvelope, err)
	}
	if len(tag) != gcmTagLen {
		return nil, fmt.Errorf("%w: invalid tag size", ErrInvalidEnvelope)
	}
	ct, err := b64.DecodeString(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrInvalidEnvelope, err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != MasterKeyLen {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKeyLength, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}
