package secure

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{name: "text", data: []byte("correct horse battery staple")},
		{name: "binary", data: []byte{0x00, 0xFF, 0x10, 0x20}},
		{name: "empty", data: []byte{}, wantErr: ErrEmpty},
		{name: "nil", data: nil, wantErr: ErrEmpty},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			want := append([]byte(nil), tt.data...)
			key, err := NewKey(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer key.Destroy()

			assert.Equal(t, len(want), key.Size())
			require.NoError(t, key.Use(func(b []byte) error {
				assert.Equal(t, want, b)
				return nil
			}))
		})
	}
}

func TestUseIsRepeatable(t *testing.T) {
	t.Parallel()

	key, err := NewKeyFromString("repeat")
	require.NoError(t, err)
	defer key.Destroy()

	for i := 0; i < 3; i++ {
		require.NoError(t, key.Use(func(b []byte) error {
			assert.Equal(t, "repeat", string(b))
			return nil
		}))
	}
}

func TestUsePropagatesCallbackError(t *testing.T) {
	t.Parallel()

	key, err := NewKeyFromString("k")
	require.NoError(t, err)
	defer key.Destroy()

	boom := errors.New("boom")
	assert.ErrorIs(t, key.Use(func([]byte) error { return boom }), boom)
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	key, err := NewKeyFromString("short-lived")
	require.NoError(t, err)

	key.Destroy()
	key.Destroy()

	called := false
	err = key.Use(func([]byte) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrDestroyed)
	assert.False(t, called)
	assert.Zero(t, key.Size())
}

func TestConcurrentUse(t *testing.T) {
	t.Parallel()

	key, err := NewKeyFromString("shared")
	require.NoError(t, err)
	defer key.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, key.Use(func(b []byte) error {
				if string(b) != "shared" {
					return errors.New("unexpected material")
				}
				return nil
			}))
		}()
	}
	wg.Wait()
}
