// Package securemem keeps the credential master key in memory protected by
// memguard, so the key cannot be read via debugger, memory dump, or swap.
// The daemon holds exactly one Key for its lifetime.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

func init() {
	memguard.CatchInterrupt()
}

// Key wraps sensitive key material in a locked buffer.
type Key struct {
	buf       *memguard.LockedBuffer
	destroyed bool
}

// NewKey stores a copy of data in protected memory. The input slice is wiped
// by memguard and must not be reused by the caller.
func NewKey(data []byte) *Key {
	return &Key{buf: memguard.NewBufferFromBytes(data)}
}

// WithBytes exposes the key material to fn via a transient copy that is
// wiped when fn returns. fn must not retain references to the slice.
func (k *Key) WithBytes(fn func([]byte) error) error {
	if k == nil || k.destroyed || k.buf == nil {
		return fn(nil)
	}
	b := k.buf.Bytes()
	tmp := make([]byte, len(b))
	copy(tmp, b)
	defer memguard.WipeBytes(tmp)
	return fn(tmp)
}

// Len returns the key length in bytes.
func (k *Key) Len() int {
	if k == nil || k.destroyed || k.buf == nil {
		return 0
	}
	return len(k.buf.Bytes())
}

// Equal compares the key against other in constant time.
func (k *Key) Equal(other []byte) bool {
	if k == nil || k.destroyed || k.buf == nil {
		return len(other) == 0
	}
	return subtle.ConstantTimeCompare(k.buf.Bytes(), other) == 1
}

// Destroy wipes the key from memory. The key must not be used afterwards.
func (k *Key) Destroy() {
	if k == nil || k.destroyed {
		return
	}
	if k.buf != nil {
		k.buf.Destroy()
		k.buf = nil
	}
	k.destroyed = true
}

// Purge wipes all memguard-managed buffers. Called on daemon shutdown.
func Purge() {
	memguard.Purge()
}
