package template

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/stagevault/pkg/secret"
	"github.com/systmms/stagevault/pkg/vault"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoaderAppliesStageOverlay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := writeFile(t, dir, ".env.template", "A={x}\nB={b}\n")
	writeFile(t, dir, "production.env", "A={y}\n")

	loader := Loader{Overlay: true}

	prod, err := loader.Load(base, "production")
	require.NoError(t, err)
	assert.Equal(t, []Reference{{Vault: "v", Key: "y"}, {Vault: "v", Key: "b"}}, prod.References("v"))

	staging, err := loader.Load(base, "staging")
	require.NoError(t, err)
	assert.Equal(t, []Reference{{Vault: "v", Key: "x"}, {Vault: "v", Key: "b"}}, staging.References("v"))
}

func TestLoaderOverlayDisabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := writeFile(t, dir, ".env.template", "A={x}\n")
	writeFile(t, dir, "production.env", "A={y}\n")

	tmpl, err := Loader{}.Load(base, "production")
	require.NoError(t, err)
	assert.Equal(t, []Reference{{Vault: "v", Key: "x"}}, tmpl.References("v"))
}

func TestLoaderCustomExtension(t *testing.T) {
	t.Parallel()

	loader := Loader{Overlay: true, Extension: "tpl"}
	assert.Equal(t, filepath.Join("deploy", "production.tpl"), loader.OverlayPath(filepath.Join("deploy", "base.tpl"), "production"))
	assert.Equal(t, filepath.Join("deploy", "local.env"), Loader{}.OverlayPath(filepath.Join("deploy", "base"), "local"))
}

func TestLoaderBaseIsOverlayFile(t *testing.T) {
	t.Parallel()

	reads := 0
	loader := Loader{Overlay: true, ReadFile: func(name string) ([]byte, error) {
		reads++
		return []byte("A={x}\n"), nil
	}}

	_, err := loader.Load(filepath.Join("cfg", "production.env"), "production")
	require.NoError(t, err)
	assert.Equal(t, 1, reads, "a base template is never layered over itself")
}

func TestLoaderErrors(t *testing.T) {
	t.Parallel()

	_, err := Loader{}.Load(filepath.Join(t.TempDir(), "absent"), "dev")
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	denied := errors.New("permission denied")
	loader := Loader{Overlay: true, ReadFile: func(name string) ([]byte, error) {
		if filepath.Base(name) == "dev.env" {
			return nil, denied
		}
		return []byte("A=1\n"), nil
	}}
	_, err = loader.Load("base.env.tpl", "dev")
	assert.ErrorIs(t, err, denied)
}

type namedVault struct {
	vault.Vault
	name string
}

func (n namedVault) Name() string { return n.name }

func TestGenerate(t *testing.T) {
	t.Parallel()

	ssm := namedVault{name: "ssm"}
	sm := namedVault{name: "sm"}

	got := Generate([]secret.Secret{
		{Key: "db.password", Vault: ssm},
		{Key: "stripe-key", Vault: sm},
		{Key: "api_token", Vault: ssm},
		{Key: "loose"},
	})

	want := "# ssm\nDB_PASSWORD={ssm:db.password}\nAPI_TOKEN={ssm:api_token}\n" +
		"\n# sm\nSTRIPE_KEY={sm:stripe-key}\n" +
		"\n# default vault\nLOOSE={loose}\n"
	assert.Equal(t, want, got)

	// generated templates parse back to the same references
	assert.Equal(t, []Reference{
		{Vault: "ssm", Key: "db.password"},
		{Vault: "ssm", Key: "api_token"},
		{Vault: "sm", Key: "stripe-key"},
		{Vault: "mem", Key: "loose"},
	}, Parse("generated", got).References("mem"))

	assert.Equal(t, "", Generate(nil))
}
