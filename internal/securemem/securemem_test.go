package securemem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	k := NewKey([]byte("0123456789abcdef0123456789abcdef"))
	defer k.Destroy()

	assert.Equal(t, 32, k.Len())
	assert.True(t, k.Equal([]byte("0123456789abcdef0123456789abcdef")))
	assert.False(t, k.Equal([]byte("0123456789abcdef0123456789abcdeX")))

	var seen []byte
	err := k.WithBytes(func(b []byte) error {
		seen = append([]byte(nil), b...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), seen)
}

func TestKeyInputIsWiped(t *testing.T) {
	raw := []byte("super-secret-key-material-here!!")
	k := NewKey(raw)
	defer k.Destroy()

	// memguard takes ownership of the input slice and wipes it.
	assert.NotEqual(t, []byte("super-secret-key-material-here!!"), raw)
}

func TestDestroyedKey(t *testing.T) {
	k := NewKey([]byte("abc"))
	k.Destroy()
	k.Destroy() // idempotent

	assert.Zero(t, k.Len())
	assert.True(t, k.Equal(nil))
	err := k.WithBytes(func(b []byte) error {
		assert.Nil(t, b)
		return nil
	})
	require.NoError(t, err)
}
