package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	// Init uses sync.Once; every test calls it and checks behavior afterwards.
	Init()
	Init()

	assert.True(t, IsRegistered())
	assert.NotNil(t, VaultOperationsTotal())
	assert.NotNil(t, DiffPairsTotal())
}

func TestRecordVaultOperation(t *testing.T) {
	Init()

	counter := VaultOperationsTotal().WithLabelValues("metrics-test", "get", OutcomeNotFound)
	before := testutil.ToFloat64(counter)

	RecordVaultOperation("metrics-test", "get", OutcomeNotFound, 15*time.Millisecond)
	RecordVaultOperation("metrics-test", "get", OutcomeNotFound, 20*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(counter))
}

func TestRecordDiffPair(t *testing.T) {
	Init()

	counter := DiffPairsTotal().WithLabelValues(OutcomeAccessDenied)
	before := testutil.ToFloat64(counter)

	RecordDiffPair(OutcomeAccessDenied)

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestWriteTextfile(t *testing.T) {
	Init()
	RecordVaultOperation("textfile-test", "list", OutcomeSuccess, time.Millisecond)

	path := filepath.Join(t.TempDir(), "stagevault.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "stagevault_vault_operations_total")
	assert.Contains(t, string(data), `vault="textfile-test"`)
}
