// Package format renders secret values for display and for env files.
package format

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	shortMask     = "****"
	visiblePrefix = 4
	maxMaskedLen  = 24
)

// Mask hides a secret value. Values of up to 8 characters become "****".
// Longer values keep their first 4 characters and replace the rest with
// asterisks. With truncate set, a masked value longer than 24 characters is
// clipped to 24 and suffixed with the original length, e.g. " (26 chars)".
//
// Mask is the only place the length or prefix of a secret may be shown.
func Mask(value string, truncate bool) string {
	runes := []rune(value)
	n := len(runes)
	if n <= 8 {
		return shortMask
	}

	masked := string(runes[:visiblePrefix]) + strings.Repeat("*", n-visiblePrefix)
	if truncate && n > maxMaskedLen {
		return string([]rune(masked)[:maxMaskedLen]) + fmt.Sprintf(" (%d chars)", n)
	}
	return masked
}

// EnvValue renders value as the right-hand side of an env-file assignment.
//
// Empty values stay empty and purely alphanumeric values are left bare.
// Everything else is double-quoted, unless the value itself contains a double
// quote, in which case single quotes are used. Backslashes and the chosen
// delimiter are escaped; the other delimiter is left alone.
func EnvValue(value string) string {
	if value == "" {
		return ""
	}
	if isAlphanumeric(value) {
		return value
	}

	quote := `"`
	if strings.Contains(value, `"`) {
		quote = `'`
	}
	escaped := strings.NewReplacer(`\`, `\\`, quote, `\`+quote).Replace(value)
	return quote + escaped + quote
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
