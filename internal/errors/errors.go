package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/vault"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// VaultError wraps a vault failure with a message naming the vault and the
// operation, plus a suggestion when one applies
func VaultError(vaultName, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("vault %s: %s failed", vaultName, operation),
		Details:    err.Error(),
		Suggestion: VaultSuggestion(err),
		Err:        err,
	}
}

// VaultSuggestion returns an actionable hint for a vault or filter error
func VaultSuggestion(err error) string {
	if err == nil {
		return ""
	}

	var parseErr *filter.ParseError
	switch {
	case errors.As(err, &parseErr):
		return `Use a date like 2024-03-01 or a relative expression like "7 days ago"`
	case vault.IsNotFound(err):
		return "Check the key and stage. List existing keys with: stagevault list --stage <stage>"
	case vault.IsAccessDenied(err):
		return "Check credentials and IAM permissions (ssm:GetParameter*, secretsmanager:GetSecretValue, kms:Decrypt)"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timed out"):
		return "The backend did not answer in time. Raise timeout_ms for this vault or check your network"
	case strings.Contains(errStr, "throttl") || strings.Contains(errStr, "rate exceeded"):
		return "Backend rate limit exceeded. Lower 'concurrency' in stagevault.yaml and try again"
	case strings.Contains(errStr, "region"):
		return "Check that the vault's region setting matches where the secrets are stored"
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return "Unable to connect. Check your network and the vault's endpoint setting"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var configErr ConfigError
	if errors.As(err, &configErr) {
		return err
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	if suggestion := VaultSuggestion(err); suggestion != "" {
		return UserError{Message: err.Error(), Suggestion: suggestion, Err: err}
	}

	// Return original error if we can't simplify it
	return err
}
