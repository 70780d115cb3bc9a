package template

import (
	"fmt"
	"strings"

	dserrors "github.com/systmms/stagevault/internal/errors"
)

// MissingSecretStrategy decides what a merge does with a placeholder whose
// secret does not exist.
type MissingSecretStrategy int

const (
	// MissingFail aborts the merge with a ResolutionError
	MissingFail MissingSecretStrategy = iota
	// MissingRemove drops the line
	MissingRemove
	// MissingBlank keeps the line with an empty value
	MissingBlank
	// MissingSkip leaves the placeholder in the output
	MissingSkip
)

var strategyNames = []string{"fail", "remove", "blank", "skip"}

func (s MissingSecretStrategy) String() string {
	if int(s) < 0 || int(s) >= len(strategyNames) {
		return fmt.Sprintf("MissingSecretStrategy(%d)", int(s))
	}
	return strategyNames[s]
}

// ParseMissingSecretStrategy parses fail, remove, blank or skip. An empty
// string means fail.
func ParseMissingSecretStrategy(s string) (MissingSecretStrategy, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return MissingFail, nil
	}
	for i, candidate := range strategyNames {
		if candidate == name {
			return MissingSecretStrategy(i), nil
		}
	}
	return MissingFail, dserrors.ConfigError{
		Field:      "missing",
		Value:      s,
		Message:    "unknown missing-secret strategy",
		Suggestion: "Use one of: " + strings.Join(strategyNames, ", "),
	}
}
