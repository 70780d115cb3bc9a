package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/stagevault/internal/cache"
	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/template"
	"github.com/systmms/stagevault/internal/vaults"
)

const fullConfig = `version: 1
namespace: myapp
default_vault: ssm
stages: [local, staging, production]
missing: blank
overlay: { enabled: false, extension: tpl }
concurrency: 8
defaults: { region: eu-west-1, profile: shared }
vaults:
  ssm:
    driver: aws.ssm
    prefix: /teams/web
    timeout_ms: 2500
    settings: { region: us-east-1 }
  sm:
    driver: aws.secretsmanager
    namespace: payments
  mem:
    driver: memory
cache:
  dir: /var/cache/stagevault
  key_source: env
  argon2: { time: 2, memory_kib: 1024, threads: 1 }
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultPath)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func load(t *testing.T, content string) *Config {
	t.Helper()
	cfg := &Config{Path: writeConfig(t, content)}
	require.NoError(t, cfg.Load())
	return cfg
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	cfg := load(t, fullConfig)

	assert.Equal(t, []string{"local", "staging", "production"}, cfg.Stages())
	assert.Equal(t, []string{"mem", "sm", "ssm"}, cfg.VaultNames())
	assert.Equal(t, 8, cfg.Concurrency())

	missing, err := cfg.MissingStrategy()
	require.NoError(t, err)
	assert.Equal(t, template.MissingBlank, missing)

	assert.Equal(t, template.Loader{Overlay: false, Extension: "tpl"}, cfg.TemplateLoader())
	assert.Equal(t, "/var/cache/stagevault", cfg.CacheDir())
	assert.Equal(t, cache.Params{Time: 2, Memory: 1024, Threads: 1}, cfg.CacheParams())
}

func TestVaultBinding(t *testing.T) {
	t.Parallel()

	cfg := load(t, fullConfig)

	ssm, err := cfg.VaultBinding("ssm")
	require.NoError(t, err)
	assert.Equal(t, "ssm", ssm.Name)
	assert.Equal(t, vaults.DriverSSM, ssm.Driver)
	assert.Equal(t, "myapp", ssm.Namespace)
	assert.Equal(t, "/teams/web", ssm.Prefix)
	assert.Equal(t, 2500*time.Millisecond, ssm.Timeout)
	assert.Equal(t, "us-east-1", ssm.Setting("region"), "vault settings win over defaults")
	assert.Equal(t, "shared", ssm.Setting("profile"))

	sm, err := cfg.VaultBinding("sm")
	require.NoError(t, err)
	assert.Equal(t, "payments", sm.Namespace)
	assert.Equal(t, "eu-west-1", sm.Setting("region"))
	assert.Zero(t, sm.Timeout)

	_, err = cfg.VaultBinding("gcp")
	var configErr dserrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "vaults", configErr.Field)
	assert.Contains(t, configErr.Suggestion, "mem, sm, ssm")
}

func TestVaultBindingDoesNotShareSettings(t *testing.T) {
	t.Parallel()

	cfg := load(t, fullConfig)
	a, err := cfg.VaultBinding("sm")
	require.NoError(t, err)
	a.Settings["region"] = "changed"

	b, err := cfg.VaultBinding("sm")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", b.Setting("region"))
	assert.Equal(t, "eu-west-1", cfg.Definition.Defaults["region"])
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := load(t, "version: 1\nstages: [dev]\nvaults:\n  mem: { driver: memory }\n")

	missing, err := cfg.MissingStrategy()
	require.NoError(t, err)
	assert.Equal(t, template.MissingFail, missing)
	assert.Equal(t, 4, cfg.Concurrency())
	assert.Equal(t, template.Loader{Overlay: true, Extension: template.DefaultOverlayExtension}, cfg.TemplateLoader())
	assert.Equal(t, cache.DefaultParams, cfg.CacheParams())
	assert.Equal(t, cache.DefaultDir(), cfg.CacheDir())

	src, err := cfg.CacheKeySource(false)
	require.NoError(t, err)
	assert.IsType(t, cache.KeyringSource{}, src)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "invalid yaml",
			content: "version: 1\nstages: [dev\n",
			want:    "invalid YAML syntax",
		},
		{
			name:    "empty",
			content: "",
			want:    "empty",
		},
		{
			name:    "unsupported version",
			content: "version: 2\nstages: [dev]\nvaults:\n  m: { driver: memory }\n",
			want:    "version",
		},
		{
			name:    "no stages",
			content: "version: 1\nstages: []\nvaults:\n  m: { driver: memory }\n",
			want:    "stages",
		},
		{
			name:    "duplicate stages",
			content: "version: 1\nstages: [dev, dev]\nvaults:\n  m: { driver: memory }\n",
			want:    "unique",
		},
		{
			name:    "unknown field",
			content: "version: 1\nstages: [dev]\nproviders: {}\nvaults:\n  m: { driver: memory }\n",
			want:    "providers",
		},
		{
			name:    "vault without driver",
			content: "version: 1\nstages: [dev]\nvaults:\n  m: { prefix: x }\n",
			want:    "driver",
		},
		{
			name:    "unknown missing strategy",
			content: "version: 1\nstages: [dev]\nmissing: ignore\nvaults:\n  m: { driver: memory }\n",
			want:    "missing",
		},
		{
			name:    "undeclared default vault",
			content: "version: 1\nstages: [dev]\ndefault_vault: ssm\nvaults:\n  m: { driver: memory }\n",
			want:    "default vault is not declared",
		},
		{
			name:    "path format without trailing key",
			content: "version: 1\nstages: [dev]\npath_format: \"{key}/{stage}\"\nvaults:\n  m: { driver: memory }\n",
			want:    "path_format",
		},
		{
			name:    "undeclared default stage",
			content: "version: 1\nstages: [dev]\ndefault_stage: prod\nvaults:\n  m: { driver: memory }\n",
			want:    "default stage is not listed",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Path: writeConfig(t, tt.content)}
			err := cfg.Load()
			var configErr dserrors.ConfigError
			require.ErrorAs(t, err, &configErr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPathFormatter(t *testing.T) {
	t.Parallel()

	base := "version: 1\nnamespace: shop\nstages: [dev]\nvaults:\n  m: { driver: memory, prefix: apps }\n"
	assert.Nil(t, load(t, base).PathFormatter())

	cfg := load(t, base+"path_format: \"{namespace}/{stage}/{key}\"\n")
	f := cfg.PathFormatter()
	require.NotNil(t, f)

	b, err := cfg.VaultBinding("m")
	require.NoError(t, err)
	assert.Equal(t, "shop/dev/DB_URL", f("DB_URL", "dev", b))
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "absent.yaml")}
	err := cfg.Load()
	var configErr dserrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "path", configErr.Field)
	assert.Contains(t, err.Error(), "configuration file not found")
}

func TestResolveStage(t *testing.T) {
	t.Parallel()

	base := "version: 1\nstages: [local, staging, production]\nvaults:\n  m: { driver: memory }\n"
	withDefault := "version: 1\nstages: [local, staging, production]\ndefault_stage: staging\nvaults:\n  m: { driver: memory }\n"

	tests := []struct {
		name     string
		content  string
		env      string
		explicit string
		want     string
		wantErr  bool
	}{
		{name: "first declared", content: base, want: "local"},
		{name: "default stage", content: withDefault, want: "staging"},
		{name: "env beats default", content: withDefault, env: "production", want: "production"},
		{name: "explicit beats env", content: withDefault, env: "production", explicit: "local", want: "local"},
		{name: "unknown explicit", content: base, explicit: "qa", wantErr: true},
		{name: "unknown env", content: base, env: "qa", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := load(t, tt.content)
			cfg.Env.Stage = tt.env

			got, err := cfg.ResolveStage(tt.explicit)
			if tt.wantErr {
				var userErr dserrors.UserError
				require.ErrorAs(t, err, &userErr)
				assert.Contains(t, userErr.Suggestion, "local, staging, production")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheDirExpandsHome(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	cfg := load(t, "version: 1\nstages: [dev]\ncache: { dir: ~/.cache/stagevault }\nvaults:\n  m: { driver: memory }\n")
	assert.Equal(t, filepath.Join(home, ".cache", "stagevault"), cfg.CacheDir())
}

func TestCacheKeySourceFromEnv(t *testing.T) {
	t.Parallel()

	cfg := load(t, fullConfig)
	cfg.Env.CacheKey = "from-env"

	src, err := cfg.CacheKeySource(true)
	require.NoError(t, err)
	assert.Equal(t, cache.StaticSource{Material: "from-env"}, src)
}

func TestConfigSatisfiesRegistrySource(t *testing.T) {
	t.Parallel()

	var _ vaults.ConfigSource = (*Config)(nil)
}
