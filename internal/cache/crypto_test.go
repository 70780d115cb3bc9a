package cache

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/stagevault/internal/secure"
)

// fastParams keeps Argon2id cheap in tests.
var fastParams = Params{Time: 1, Memory: 64, Threads: 1}

func testKey(t *testing.T, material string) *secure.Key {
	t.Helper()
	key, err := secure.NewKeyFromString(material)
	require.NoError(t, err)
	t.Cleanup(key.Destroy)
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	t.Parallel()

	svc := NewService(fastParams)
	values := map[string]string{
		"db_password": "s3cret",
		"empty":       "",
		"unicode":     "pässwörd ✓",
	}

	blob, err := svc.Encrypt(values, testKey(t, "material"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(blob, magic))
	assert.NotContains(t, string(blob), "s3cret")

	got, err := svc.Decrypt(blob, testKey(t, "material"))
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestEncryptIsRandomized(t *testing.T) {
	t.Parallel()

	svc := NewService(fastParams)
	key := testKey(t, "material")
	a, err := svc.Encrypt(map[string]string{"k": "v"}, key)
	require.NoError(t, err)
	b, err := svc.Encrypt(map[string]string{"k": "v"}, key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh salt and nonce per blob")
}

func TestDecryptUsesParamsFromBlob(t *testing.T) {
	t.Parallel()

	blob, err := NewService(Params{Time: 2, Memory: 128, Threads: 2}).Encrypt(map[string]string{"k": "v"}, testKey(t, "m"))
	require.NoError(t, err)

	got, err := NewService(fastParams).Decrypt(blob, testKey(t, "m"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "v"}, got)
}

func TestEmptySnapshot(t *testing.T) {
	t.Parallel()

	svc := NewService(fastParams)
	blob, err := svc.Encrypt(nil, testKey(t, "m"))
	require.NoError(t, err)

	got, err := svc.Decrypt(blob, testKey(t, "m"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestDecryptFailsClosed(t *testing.T) {
	t.Parallel()

	svc := NewService(fastParams)
	blob, err := svc.Encrypt(map[string]string{"k": "v"}, testKey(t, "right"))
	require.NoError(t, err)

	flip := func(i int) []byte {
		out := append([]byte(nil), blob...)
		out[i] ^= 0x01
		return out
	}
	hugeMemory := append([]byte(nil), blob...)
	hugeMemory[8] = 0xFF

	tests := []struct {
		name string
		blob []byte
		key  string
	}{
		{"wrong key", blob, "wrong"},
		{"empty", nil, "right"},
		{"truncated header", blob[:headerSize-1], "right"},
		{"truncated tag", blob[:len(blob)-1], "right"},
		{"bad magic", flip(0), "right"},
		{"tampered params", flip(4), "right"},
		{"tampered salt", flip(paramsSize), "right"},
		{"tampered nonce", flip(paramsSize + saltSize), "right"},
		{"tampered ciphertext", flip(len(blob) - 1), "right"},
		{"unbounded memory", hugeMemory, "right"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := svc.Decrypt(tt.blob, testKey(t, tt.key))
			assert.ErrorIs(t, err, ErrDecrypt)
			assert.Nil(t, got)
		})
	}
}

func TestEncryptRejectsInvalidParams(t *testing.T) {
	t.Parallel()

	_, err := NewService(Params{Time: 1, Memory: 4, Threads: 1}).Encrypt(map[string]string{}, testKey(t, "m"))
	assert.Error(t, err)
}

func TestEncryptWithoutKey(t *testing.T) {
	t.Parallel()

	_, err := NewService(fastParams).Encrypt(map[string]string{}, nil)
	assert.Error(t, err)
}

func TestEncryptWithDestroyedKey(t *testing.T) {
	t.Parallel()

	key, err := secure.NewKeyFromString("gone")
	require.NoError(t, err)
	key.Destroy()

	_, err = NewService(fastParams).Encrypt(map[string]string{}, key)
	assert.True(t, errors.Is(err, secure.ErrDestroyed))
}

func TestNewServiceDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultParams, NewService(Params{}).params)
	assert.Equal(t, Params{Time: 3, Memory: DefaultParams.Memory, Threads: DefaultParams.Threads}, NewService(Params{Time: 3}).params)
}
