package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	t.Parallel()

	alphabet := "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	tests := []struct {
		name     string
		value    string
		truncate bool
		want     string
	}{
		{"empty", "", false, "****"},
		{"short", "short", false, "****"},
		{"exactly_eight", "12345678", false, "****"},
		{"nine", "123456789", false, "1234*****"},
		{"long_no_truncate", alphabet, false, "ABCD" + strings.Repeat("*", 22)},
		{"long_truncate", alphabet, true, "ABCD" + strings.Repeat("*", 20) + " (26 chars)"},
		{"exactly_24_truncate", alphabet[:24], true, "ABCD" + strings.Repeat("*", 20)},
		{"multibyte", "пароль-секрет", false, "паро*********"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Mask(tt.value, tt.truncate))
		})
	}
}

func TestEnvValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"empty", "", ""},
		{"alphanumeric", "abc123", "abc123"},
		{"space", "a b", `"a b"`},
		{"url", "postgres://u:p@h/db", `"postgres://u:p@h/db"`},
		{"single_quote_left_alone", "it's", `"it's"`},
		{"double_quote_uses_single", `say "hi"`, `'say "hi"'`},
		{"both_quotes", `it's "x"`, `'it\'s "x"'`},
		{"backslash", `a\b`, `"a\\b"`},
		{"underscore_is_quoted", "a_b", `"a_b"`},
		{"non_ascii_is_quoted", "café", `"café"`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EnvValue(tt.value))
		})
	}
}
