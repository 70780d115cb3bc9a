// Package testutil provides testing utilities and helpers for stagevault tests.
//
// This file implements the vault contract test framework that validates
// every vault driver implements the vault.Vault interface correctly and
// consistently.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/vault"
)

// VaultTestCase defines a vault driver under test.
type VaultTestCase struct {
	// Name is a descriptive name for this test case (usually the driver name)
	Name string

	// NewVault returns an empty vault bound to stage. Each call must return
	// a vault over fresh storage.
	NewVault func(t *testing.T, stage string) vault.Vault

	// RebindsStages is true when ForStage must see the same storage under a
	// different prefix
	RebindsStages bool

	// SkipConcurrency skips the concurrency test if true
	SkipConcurrency bool
}

// RunVaultContractTests runs all contract tests for a vault driver.
//
// This function executes the complete vault contract suite:
//   - Set then Get round-trips values
//   - revisions grow by one per write
//   - Delete removes the key and a second Delete reports not found
//   - History is newest first and honors filters and limits
//   - List is sorted by key
//   - Has agrees with Get
//   - concurrent access is safe
//
// Example usage:
//
//	testutil.RunVaultContractTests(t, testutil.VaultTestCase{
//	    Name: "memory",
//	    NewVault: func(t *testing.T, stage string) vault.Vault {
//	        return vaults.NewMemoryVault(vault.Binding{Name: "mem", Stage: stage}, nil)
//	    },
//	})
func RunVaultContractTests(t *testing.T, tc VaultTestCase) {
	t.Helper()

	require.NotNil(t, tc.NewVault, "NewVault cannot be nil")
	require.NotEmpty(t, tc.Name, "Test case name cannot be empty")

	t.Run("RoundTrip", func(t *testing.T) {
		testVaultRoundTrip(t, tc)
	})

	t.Run("Revisions", func(t *testing.T) {
		testVaultRevisions(t, tc)
	})

	t.Run("Delete", func(t *testing.T) {
		testVaultDelete(t, tc)
	})

	t.Run("History", func(t *testing.T) {
		testVaultHistory(t, tc)
	})

	t.Run("List", func(t *testing.T) {
		testVaultList(t, tc)
	})

	t.Run("HasAgreesWithGet", func(t *testing.T) {
		testVaultHas(t, tc)
	})

	t.Run("StageIsolation", func(t *testing.T) {
		testVaultStageIsolation(t, tc)
	})

	if !tc.SkipConcurrency {
		t.Run("Concurrency", func(t *testing.T) {
			testVaultConcurrency(t, tc)
		})
	}
}

func contractContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testVaultRoundTrip(t *testing.T, tc VaultTestCase) {
	t.Helper()
	ctx := contractContext(t)
	v := tc.NewVault(t, "dev")

	s, err := v.Set(ctx, "DATABASE_URL", "postgres://localhost/app", true)
	require.NoError(t, err, "Set() should succeed")
	assert.Equal(t, "DATABASE_URL", s.Key)
	assert.Equal(t, "postgres://localhost/app", s.Value)
	assert.Equal(t, "dev", s.Stage)
	assert.Equal(t, v.Name(), s.VaultName())

	got, err := v.Get(ctx, "DATABASE_URL")
	require.NoError(t, err, "Get() should find what Set() wrote")
	assert.Equal(t, s.Value, got.Value)
	assert.Equal(t, s.Revision, got.Revision)
	assert.NotEmpty(t, got.Path)
}

func testVaultRevisions(t *testing.T, tc VaultTestCase) {
	t.Helper()
	ctx := contractContext(t)
	v := tc.NewVault(t, "dev")

	first, err := v.Set(ctx, "API_KEY", "one", true)
	require.NoError(t, err)
	second, err := v.Set(ctx, "API_KEY", "two", true)
	require.NoError(t, err)
	third, err := v.Set(ctx, "API_KEY", "three", true)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, first.Revision, 1)
	assert.Equal(t, first.Revision+1, second.Revision, "each write must add one revision")
	assert.Equal(t, second.Revision+1, third.Revision, "each write must add one revision")
}

func testVaultDelete(t *testing.T, tc VaultTestCase) {
	t.Helper()
	ctx := contractContext(t)
	v := tc.NewVault(t, "dev")

	_, err := v.Set(ctx, "TOKEN", "abc", true)
	require.NoError(t, err)

	require.NoError(t, v.Delete(ctx, "TOKEN"))

	_, err = v.Get(ctx, "TOKEN")
	assert.True(t, vault.IsNotFound(err), "Get() after Delete() must report not found, got %v", err)

	err = v.Delete(ctx, "TOKEN")
	assert.True(t, vault.IsNotFound(err), "second Delete() must report not found, got %v", err)
}

func testVaultHistory(t *testing.T, tc VaultTestCase) {
	t.Helper()
	ctx := contractContext(t)
	v := tc.NewVault(t, "dev")

	for _, value := range []string{"v1", "v2", "v3"} {
		_, err := v.Set(ctx, "ROTATED", value, true)
		require.NoError(t, err)
	}

	h, err := v.History(ctx, "ROTATED", nil, 0)
	require.NoError(t, err)
	require.Equal(t, 3, h.Len())

	entries := h.All()
	assert.Equal(t, "v3", entries[0].Value, "history must be newest first")
	assert.Equal(t, "v1", entries[2].Value)
	assert.Greater(t, entries[0].Version, entries[1].Version)
	assert.Greater(t, entries[1].Version, entries[2].Version)

	limited, err := v.History(ctx, "ROTATED", nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, limited.Len())

	filtered, err := v.History(ctx, "ROTATED", filter.Collection{filter.Contains("v2")}, 0)
	require.NoError(t, err)
	require.Equal(t, 1, filtered.Len())
	assert.Equal(t, "v2", filtered.All()[0].Value)

	_, err = v.History(ctx, "NEVER_WRITTEN", nil, 0)
	assert.True(t, vault.IsNotFound(err), "History() of a missing key must report not found, got %v", err)
}

func testVaultList(t *testing.T, tc VaultTestCase) {
	t.Helper()
	ctx := contractContext(t)
	v := tc.NewVault(t, "dev")

	for _, key := range []string{"ZETA", "ALPHA", "MIKE"} {
		_, err := v.Set(ctx, key, "value-"+key, false)
		require.NoError(t, err)
	}

	list, err := v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA", "MIKE", "ZETA"}, list.Keys(), "List() must be sorted by key")

	for _, s := range list.All() {
		assert.Equal(t, "value-"+s.Key, s.Value)
		assert.Equal(t, "dev", s.Stage)
	}
}

func testVaultHas(t *testing.T, tc VaultTestCase) {
	t.Helper()
	ctx := contractContext(t)
	v := tc.NewVault(t, "dev")

	_, err := v.Set(ctx, "PRESENT", "yes", false)
	require.NoError(t, err)

	for _, key := range []string{"PRESENT", "ABSENT"} {
		has, err := vault.Has(ctx, v, key)
		require.NoError(t, err)

		_, getErr := v.Get(ctx, key)
		assert.Equal(t, getErr == nil, has, "Has(%s) must agree with Get()", key)
	}
}

func testVaultStageIsolation(t *testing.T, tc VaultTestCase) {
	t.Helper()
	if !tc.RebindsStages {
		t.Skip("driver does not prefix keys by stage")
	}
	ctx := contractContext(t)
	dev := tc.NewVault(t, "dev")
	prod := dev.ForStage("production")

	assert.Equal(t, "production", prod.Stage())
	assert.Equal(t, dev.Name(), prod.Name())
	assert.NotEqual(t, dev.Format("KEY"), prod.Format("KEY"))

	_, err := dev.Set(ctx, "KEY", "dev-value", true)
	require.NoError(t, err)
	_, err = prod.Set(ctx, "KEY", "prod-value", true)
	require.NoError(t, err)

	devGot, err := dev.Get(ctx, "KEY")
	require.NoError(t, err)
	prodGot, err := prod.Get(ctx, "KEY")
	require.NoError(t, err)

	assert.Equal(t, "dev-value", devGot.Value)
	assert.Equal(t, "prod-value", prodGot.Value)
	assert.Equal(t, "dev", dev.Stage(), "ForStage() must not change the original")
}

func testVaultConcurrency(t *testing.T, tc VaultTestCase) {
	t.Helper()
	ctx := contractContext(t)
	v := tc.NewVault(t, "dev")

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("KEY_%d", i)
			if _, err := v.Set(ctx, key, fmt.Sprintf("value-%d", i), true); err != nil {
				errs <- err
				return
			}
			got, err := v.Get(ctx, key)
			if err != nil {
				errs <- err
				return
			}
			if got.Value != fmt.Sprintf("value-%d", i) {
				errs <- fmt.Errorf("%s: got %q", key, got.Value)
			}
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err, "concurrent access should not fail")
	}

	list, err := v.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, list.Len())
}
