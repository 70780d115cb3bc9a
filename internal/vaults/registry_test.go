package vaults_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/stagevault/internal/errors"
	"github.com/systmms/stagevault/internal/logging"
	"github.com/systmms/stagevault/internal/vaults"
	"github.com/systmms/stagevault/pkg/vault"
)

type stubSource struct {
	bindings map[string]vault.Binding
	stages   []string
}

func (s stubSource) VaultBinding(name string) (vault.Binding, error) {
	b, ok := s.bindings[name]
	if !ok {
		return vault.Binding{}, dserrors.ConfigError{Field: "vaults." + name, Message: "vault is not defined"}
	}
	return b, nil
}

func (s stubSource) Stages() []string { return s.stages }

func newTestRegistry() *vaults.Registry {
	source := stubSource{
		bindings: map[string]vault.Binding{
			"mem":    {Driver: vaults.DriverMemory, Namespace: "app", Timeout: time.Second},
			"broken": {Driver: "aws.parameterstore"},
		},
		stages: []string{"dev", "staging", "production"},
	}
	return vaults.NewRegistry(source, nil, logging.Discard())
}

func TestRegistrySupportedDrivers(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	assert.Equal(t, []string{"aws.secretsmanager", "aws.ssm", "memory"}, r.SupportedDrivers())
	assert.True(t, r.IsSupported(vaults.DriverSSM))
	assert.False(t, r.IsSupported("azure.keyvault"))
}

func TestRegistryCachesPerStage(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ctx := context.Background()

	dev, err := r.Vault(ctx, "mem", "dev")
	require.NoError(t, err)
	again, err := r.Vault(ctx, "mem", "dev")
	require.NoError(t, err)
	assert.Same(t, dev, again)

	prod, err := r.Vault(ctx, "mem", "production")
	require.NoError(t, err)
	assert.Equal(t, "production", prod.Stage())
	assert.Equal(t, "mem", prod.Name())
	assert.Equal(t, "app/production/KEY", prod.Format("KEY"))

	_, isInstrumented := prod.(*vaults.Instrumented)
	assert.True(t, isInstrumented, "rebinding keeps the instrumentation")
}

func TestRegistryMemoryVaultsShareStorage(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ctx := context.Background()

	dev, err := r.Vault(ctx, "mem", "dev")
	require.NoError(t, err)
	_, err = dev.Set(ctx, "TOKEN", "abc", true)
	require.NoError(t, err)

	staging, err := r.Vault(ctx, "mem", "staging")
	require.NoError(t, err)
	_, err = staging.Get(ctx, "TOKEN")
	assert.True(t, vault.IsNotFound(err), "stages are separate prefixes")

	got, err := staging.ForStage("dev").Get(ctx, "TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Value)
}

func TestRegistryErrors(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Vault(ctx, "mem", "qa")
	var userErr dserrors.UserError
	require.ErrorAs(t, err, &userErr)
	assert.Contains(t, userErr.Suggestion, "dev, staging, production")

	_, err = r.Vault(ctx, "broken", "dev")
	var configErr dserrors.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "vaults.broken.driver", configErr.Field)
	assert.Contains(t, configErr.Suggestion, "aws.ssm")

	_, err = r.Vault(ctx, "undefined", "dev")
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "vaults.undefined", configErr.Field)
}

func TestRegistryFactoryFailure(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.RegisterFactory(vaults.DriverMemory, func(context.Context, vault.Binding, *vaults.ClientFactory, *logging.Logger) (vault.Vault, error) {
		return nil, errors.New("no credentials")
	})

	_, err := r.Vault(context.Background(), "mem", "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault mem: initialize failed")
	assert.Contains(t, err.Error(), "no credentials")
}

func TestRegistryFormatter(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	r.SetFormatter(func(key, stage string, b vault.Binding) string {
		return fmt.Sprintf("%s.%s.%s", b.Namespace, stage, key)
	})

	v, err := r.Vault(context.Background(), "mem", "staging")
	require.NoError(t, err)
	assert.Equal(t, "app.staging.KEY", v.Format("KEY"))
	assert.Equal(t, "app.dev.KEY", v.ForStage("dev").Format("KEY"))
}

func TestRegistryConcurrentLookups(t *testing.T) {
	t.Parallel()

	r := newTestRegistry()
	ctx := context.Background()
	stages := []string{"dev", "staging", "production"}

	var wg sync.WaitGroup
	results := make([]vault.Vault, 30)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Vault(ctx, "mem", stages[i%len(stages)])
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for i, v := range results {
		assert.Same(t, results[i%len(stages)], v)
	}
}
