package vaults_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/stagevault/internal/vaults"
	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/vault"
	"github.com/systmms/stagevault/tests/fakes"
	"github.com/systmms/stagevault/tests/testutil"
)

func newSSMVault(t *testing.T, client *fakes.FakeSSMClient, stage string) *vaults.SSMVault {
	t.Helper()
	v, err := vaults.NewSSMVault(context.Background(), vault.Binding{
		Name:   "ssm",
		Driver: vaults.DriverSSM,
		Stage:  stage,
		Prefix: "myapp",
	}, nil, vaults.WithSSMClient(client))
	require.NoError(t, err)
	return v
}

func TestSSMVaultContract(t *testing.T) {
	t.Parallel()

	testutil.RunVaultContractTests(t, testutil.VaultTestCase{
		Name: "aws.ssm",
		NewVault: func(t *testing.T, stage string) vault.Vault {
			client := fakes.NewFakeSSMClient()
			client.PageSize = 2
			return newSSMVault(t, client, stage)
		},
		RebindsStages: true,
	})
}

func TestSSMVaultRequiresClient(t *testing.T) {
	t.Parallel()

	_, err := vaults.NewSSMVault(context.Background(), vault.Binding{Name: "ssm"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SSM client")
}

func TestSSMVaultGet(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	client.AddParameter("/myapp/dev/DB_PASSWORD", "old", true)
	client.AddParameter("/myapp/dev/DB_PASSWORD", "hunter2", true)
	client.AddParameter("/myapp/dev/LOG_LEVEL", "debug", false)
	v := newSSMVault(t, client, "dev")

	tests := []struct {
		name     string
		key      string
		value    string
		secure   bool
		revision int
	}{
		{"secure_string", "DB_PASSWORD", "hunter2", true, 2},
		{"plain_string", "LOG_LEVEL", "debug", false, 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, err := v.Get(context.Background(), tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.value, s.Value)
			assert.Equal(t, tt.secure, s.Secure)
			assert.Equal(t, tt.revision, s.Revision)
			assert.Equal(t, "/myapp/dev/"+tt.key, s.Path)
			assert.Equal(t, "ssm", s.VaultName())
		})
	}
}

func TestSSMVaultErrors(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	client.AddError("/myapp/dev/DENIED", fakes.AccessDenied("ssm:GetParameter"))
	client.AddError("/myapp/dev/SLOW", fakes.Throttled())
	v := newSSMVault(t, client, "dev")
	ctx := context.Background()

	_, err := v.Get(ctx, "MISSING")
	var notFound vault.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ssm", notFound.Vault)
	assert.Equal(t, "dev", notFound.Stage)
	assert.Equal(t, "MISSING", notFound.Key)
	assert.Equal(t, "/myapp/dev/MISSING", notFound.Path)

	_, err = v.Get(ctx, "DENIED")
	assert.True(t, vault.IsAccessDenied(err), "got %v", err)

	_, err = v.Get(ctx, "SLOW")
	var vaultErr *vault.Error
	require.ErrorAs(t, err, &vaultErr)
	assert.Equal(t, "get", vaultErr.Op)
	assert.Contains(t, vaultErr.Message, "ThrottlingException")
	assert.False(t, vault.IsNotFound(err))
}

func TestSSMVaultMutationsDisableRetries(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	v := newSSMVault(t, client, "dev")
	ctx := context.Background()

	_, err := v.Set(ctx, "TOKEN", "abc", true)
	require.NoError(t, err)
	require.NoError(t, v.Delete(ctx, "TOKEN"))

	assert.Equal(t, 1, client.RetryMaxAttempts["PutParameter"])
	assert.Equal(t, 1, client.RetryMaxAttempts["DeleteParameter"])
	assert.Equal(t, 0, client.RetryMaxAttempts["GetParameter"], "reads keep the SDK default")
}

func TestSSMVaultFlatNames(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	v, err := vaults.NewSSMVault(context.Background(), vault.Binding{Name: "flat"}, nil, vaults.WithSSMClient(client))
	require.NoError(t, err)

	s, err := v.Set(context.Background(), "STANDALONE", "value", false)
	require.NoError(t, err)
	assert.Equal(t, "STANDALONE", s.Path, "flat names carry no leading slash")
}

func TestSSMVaultListPaginates(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	client.PageSize = 1
	client.AddParameter("/myapp/dev/B", "2", false)
	client.AddParameter("/myapp/dev/A", "1", false)
	client.AddParameter("/myapp/dev/nested/C", "3", false)
	client.AddParameter("/myapp/production/A", "prod", false)
	v := newSSMVault(t, client, "dev")

	list, err := v.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "nested/C"}, list.Keys())
	assert.Equal(t, 3, client.CallCount("GetParametersByPath"), "one page per parameter")
}

func TestSSMVaultListSkipsUndecryptableParameters(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	client.PageSize = 2
	client.AddParameter("/myapp/dev/A", "plain", false)
	client.AddParameter("/myapp/dev/B", "locked", true)
	client.AddParameter("/myapp/dev/C", "open-secret", true)
	client.AddParameter("/myapp/dev/D", "last", false)
	client.DecryptDenied["/myapp/dev/B"] = true
	v := newSSMVault(t, client, "dev")

	list, err := v.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "D"}, list.Keys())

	c, ok := list.Get("C")
	require.True(t, ok)
	assert.Equal(t, "open-secret", c.Value, "readable SecureStrings are still decrypted")

	_, err = v.Get(context.Background(), "B")
	assert.True(t, vault.IsAccessDenied(err))
}

func TestSSMVaultListHonorsCancellation(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	ctx, cancel := context.WithCancel(context.Background())
	client.GetParametersByPathFunc = func(_ context.Context, _ *ssm.GetParametersByPathInput) (*ssm.GetParametersByPathOutput, error) {
		cancel()
		return &ssm.GetParametersByPathOutput{NextToken: aws.String("more")}, nil
	}
	v := newSSMVault(t, client, "dev")

	_, err := v.List(ctx)
	var vaultErr *vault.Error
	require.ErrorAs(t, err, &vaultErr)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, client.CallCount("GetParametersByPath"))
}

func TestSSMVaultHistory(t *testing.T) {
	t.Parallel()

	client := fakes.NewFakeSSMClient()
	client.PageSize = 2
	for _, value := range []string{"v1", "v2", "v3", "v4", "v5"} {
		client.AddParameter("/myapp/dev/API_KEY", value, true)
	}
	v := newSSMVault(t, client, "dev")
	ctx := context.Background()

	h, err := v.History(ctx, "API_KEY", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4, 3, 2, 1}, h.Versions())

	latest := h.All()[0]
	assert.Equal(t, "v5", latest.Value)
	assert.True(t, latest.Secure)
	assert.Equal(t, "text", latest.DataType)
	assert.NotEmpty(t, latest.LastModifiedUser)
	require.NotNil(t, latest.LastModifiedDate)

	// fake timestamps are one second apart starting 2024-01-01
	until, err := filter.NewDateFilter("2024-01-01T00:00:02Z", filter.Until, time.Now())
	require.NoError(t, err)
	early, err := v.History(ctx, "API_KEY", filter.Collection{until}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, early.Versions())

	top, err := v.History(ctx, "API_KEY", nil, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, top.Versions())
}
