package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretRedaction(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"my-secret-password", "", "password123!@#"} {
		assert.Equal(t, "[REDACTED]", Secret(input).String())
		assert.Equal(t, "[REDACTED]", Secret(input).GoString())
	}
}

func TestLoggerLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, true, true)

	logger.Info("formatted %s message", "info")
	logger.Warn("formatted %s message", "warn")
	logger.Error("formatted %s message", "error")
	logger.Debug("formatted %s message", "debug")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"✓ formatted info message",
		"⚠ formatted warn message",
		"✗ formatted error message",
		"[DEBUG] formatted debug message",
	}, lines)
}

func TestLoggerDebugDisabled(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewWithWriter(&buf, false, true)
	logger.Debug("hidden")

	assert.Empty(t, buf.String())
	assert.False(t, logger.DebugEnabled())
}

func TestLoggerColor(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewWithWriter(&buf, false, false).Error("boom")
	assert.Equal(t, "\033[31m✗\033[0m boom\n", buf.String())
}

func TestRedact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		secrets  []string
		expected string
	}{
		{"single", "The password is secret123", []string{"secret123"}, "The password is [REDACTED]"},
		{"multiple", "user admin key abc123", []string{"admin", "abc123"}, "user [REDACTED] key [REDACTED]"},
		{"none", "This has no secrets", nil, "This has no secrets"},
		{"empty_ignored", "This has no secrets", []string{""}, "This has no secrets"},
		{"short_ignored", "Short secret: ab", []string{"ab"}, "Short secret: ab"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Redact(tt.input, tt.secrets))
		})
	}
}
