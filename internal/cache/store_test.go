package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/stagevault/internal/vaults"
	"github.com/systmms/stagevault/pkg/vault"
)

func TestStoreSaveLoad(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "cache")
	store := NewStore(dir, NewService(fastParams))
	key := testKey(t, "material")

	entry, err := store.Save("ssm", "production", map[string]string{"db": "s3cret"}, key)
	require.NoError(t, err)
	assert.Equal(t, "ssm", entry.Vault)
	assert.Equal(t, "production", entry.Stage)
	assert.False(t, entry.Updated.IsZero())

	info, err := os.Stat(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	raw, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")

	values, loaded, err := store.Load("ssm", "production", key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"db": "s3cret"}, values)
	assert.Equal(t, entry.Path, loaded.Path)

	_, err = store.Save("ssm", "production", map[string]string{"db": "rotated"}, key)
	require.NoError(t, err)
	values, _, err = store.Load("ssm", "production", key)
	require.NoError(t, err)
	assert.Equal(t, "rotated", values["db"])
}

func TestStoreLoadErrors(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir(), NewService(fastParams))

	_, _, err := store.Load("ssm", "dev", testKey(t, "k"))
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = store.Save("ssm", "dev", map[string]string{"k": "v"}, testKey(t, "k"))
	require.NoError(t, err)
	_, _, err = store.Load("ssm", "dev", testKey(t, "other"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestStoreEntriesAndRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir, NewService(fastParams))
	key := testKey(t, "k")

	for _, pair := range [][2]string{{"sm", "prod"}, {"ssm", "dev"}, {"sm", "dev"}} {
		_, err := store.Save(pair[0], pair[1], map[string]string{}, key)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	entries, err := store.Entries()
	require.NoError(t, err)
	var got [][2]string
	for _, e := range entries {
		got = append(got, [2]string{e.Vault, e.Stage})
	}
	assert.Equal(t, [][2]string{{"sm", "dev"}, {"sm", "prod"}, {"ssm", "dev"}}, got)

	require.NoError(t, store.Remove("sm", "prod"))
	require.NoError(t, store.Remove("sm", "prod"))
	entries, err = store.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStoreEntriesMissingDir(t *testing.T) {
	t.Parallel()

	entries, err := NewStore(filepath.Join(t.TempDir(), "absent"), nil).Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"ssm", "ssm"},
		{"team/ssm", "team-ssm"},
		{"a@b", "a-b"},
		{"my vault", "my_vault"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}

func TestPull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	v := vaults.NewMemoryVault(vault.Binding{Name: "mem", Stage: "staging"}, nil)
	_, err := v.Set(ctx, "a", "1", true)
	require.NoError(t, err)
	_, err = v.Set(ctx, "b", "2", false)
	require.NoError(t, err)

	store := NewStore(t.TempDir(), NewService(fastParams))
	key := testKey(t, "k")

	entry, n, err := store.Pull(ctx, v, key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "mem", entry.Vault)
	assert.Equal(t, "staging", entry.Stage)

	values, _, err := store.Load("mem", "staging", key)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, values)
}
