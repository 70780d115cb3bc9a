package vaults_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/stagevault/internal/vaults"
	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/vault"
	"github.com/systmms/stagevault/tests/testutil"
)

func TestMemoryVaultContract(t *testing.T) {
	t.Parallel()

	testutil.RunVaultContractTests(t, testutil.VaultTestCase{
		Name: "memory",
		NewVault: func(t *testing.T, stage string) vault.Vault {
			return vaults.NewMemoryVault(vault.Binding{Name: "mem", Stage: stage, Namespace: "svc"}, nil)
		},
		RebindsStages: true,
	})
}

func TestMemoryVaultStagesShareStore(t *testing.T) {
	t.Parallel()

	store := vaults.NewMemoryStore()
	dev := vaults.NewMemoryVault(vault.Binding{Name: "mem", Stage: "dev"}, store)
	other := vaults.NewMemoryVault(vault.Binding{Name: "mem", Stage: "production"}, store)
	ctx := context.Background()

	_, err := dev.Set(ctx, "KEY", "from-dev", false)
	require.NoError(t, err)

	_, err = other.ForStage("dev").Get(ctx, "KEY")
	assert.NoError(t, err, "a rebound vault sees the same store")

	_, err = other.Get(ctx, "KEY")
	assert.True(t, vault.IsNotFound(err))
}

func TestMemoryVaultHistoryDates(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	store := vaults.NewMemoryStoreWithClock(func() time.Time {
		tick++
		return base.AddDate(0, 0, tick)
	})
	v := vaults.NewMemoryVault(vault.Binding{Name: "mem", Stage: "dev"}, store)
	ctx := context.Background()

	for _, value := range []string{"a", "b", "c", "d"} {
		_, err := v.Set(ctx, "KEY", value, true)
		require.NoError(t, err)
	}

	since, err := filter.NewDateFilter("2024-03-04", filter.Since, base)
	require.NoError(t, err)

	h, err := v.History(ctx, "KEY", filter.Collection{since}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 3}, h.Versions())
}

func TestMemoryVaultCanceledContext(t *testing.T) {
	t.Parallel()

	v := vaults.NewMemoryVault(vault.Binding{Name: "mem", Stage: "dev"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := v.Get(ctx, "KEY")
	var vaultErr *vault.Error
	require.ErrorAs(t, err, &vaultErr)
	assert.Equal(t, "get", vaultErr.Op)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = v.Set(ctx, "KEY", "value", false)
	assert.ErrorIs(t, err, context.Canceled)
}
