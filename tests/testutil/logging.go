package testutil

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/systmms/stagevault/internal/logging"
)

// LogBuffer collects log output and is safe for concurrent writers.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// Write implements io.Writer.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *LogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewCapturedLogger returns a debug-level logger without colors that writes
// to the returned buffer.
func NewCapturedLogger(t *testing.T) (*logging.Logger, *LogBuffer) {
	t.Helper()
	buf := &LogBuffer{}
	return logging.NewWithWriter(buf, true, true), buf
}

// AssertNoSecretLeak fails the test if any of values appears in output.
func AssertNoSecretLeak(t *testing.T, output string, values ...string) {
	t.Helper()
	for _, v := range values {
		assert.NotContains(t, output, v, "secret value %q leaked into output", v)
	}
}
