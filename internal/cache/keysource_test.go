package cache

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	dserrors "github.com/systmms/stagevault/internal/errors"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func material(t *testing.T, src KeySource) string {
	t.Helper()
	key, err := src.Key()
	require.NoError(t, err)
	defer key.Destroy()

	var out string
	require.NoError(t, key.Use(func(b []byte) error {
		out = string(b)
		return nil
	}))
	return out
}

func TestKeyringSourceExisting(t *testing.T) {
	t.Parallel()

	require.NoError(t, keyring.Set("stagevault-test-existing", "cache-key", "stored-material"))
	assert.Equal(t, "stored-material", material(t, KeyringSource{Service: "stagevault-test-existing"}))
}

func TestKeyringSourceGenerates(t *testing.T) {
	t.Parallel()

	src := KeyringSource{Service: "stagevault-test-generate", Generate: true}
	first := material(t, src)
	assert.NotEmpty(t, first)

	stored, err := keyring.Get("stagevault-test-generate", KeyringUser)
	require.NoError(t, err)
	assert.Equal(t, first, stored)

	assert.Equal(t, first, material(t, src), "generated once, reused afterwards")
}

func TestKeyringSourceMissing(t *testing.T) {
	t.Parallel()

	_, err := KeyringSource{Service: "stagevault-test-missing"}.Key()
	var userErr dserrors.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Suggestion, "STAGEVAULT_CACHE_KEY")
}

func TestStaticSource(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "from-env", material(t, StaticSource{Material: "from-env"}))

	_, err := StaticSource{Material: "  "}.Key()
	var configErr dserrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "cache.key_source", configErr.Field)
}

func TestNewKeySource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind    string
		want    KeySource
		wantErr bool
	}{
		{kind: "", want: KeyringSource{Generate: true}},
		{kind: "keyring", want: KeyringSource{Generate: true}},
		{kind: " ENV ", want: StaticSource{Material: "m"}},
		{kind: "vault", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.kind, func(t *testing.T) {
			t.Parallel()
			got, err := NewKeySource(tt.kind, "m", true)
			if tt.wantErr {
				var configErr dserrors.ConfigError
				require.ErrorAs(t, err, &configErr)
				assert.Equal(t, "vault", configErr.Value)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
