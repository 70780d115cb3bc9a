package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrSecretNotFound matches every NotFoundError via errors.Is.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrAccessDenied matches every AccessDeniedError via errors.Is.
	ErrAccessDenied = errors.New("access denied")
)

// NotFoundError indicates the backend has no entry for the key.
type NotFoundError struct {
	Vault string
	Stage string
	Key   string
	Path  string
}

func (e NotFoundError) Error() string {
	if e.Path != "" && e.Path != e.Key {
		return fmt.Sprintf("secret %q not found in vault %s (stage %s, path %s)", e.Key, e.Vault, e.Stage, e.Path)
	}
	return fmt.Sprintf("secret %q not found in vault %s (stage %s)", e.Key, e.Vault, e.Stage)
}

// Is makes errors.Is(err, ErrSecretNotFound) true.
func (e NotFoundError) Is(target error) bool {
	return target == ErrSecretNotFound
}

// AccessDeniedError indicates the backend rejected the caller's credentials
// or permissions.
type AccessDeniedError struct {
	Vault   string
	Stage   string
	Key     string
	Message string
}

func (e AccessDeniedError) Error() string {
	target := "vault " + e.Vault
	if e.Key != "" {
		target = fmt.Sprintf("secret %q in vault %s", e.Key, e.Vault)
	}
	if e.Message != "" {
		return fmt.Sprintf("access denied to %s (stage %s): %s", target, e.Stage, e.Message)
	}
	return fmt.Sprintf("access denied to %s (stage %s)", target, e.Stage)
}

// Is makes errors.Is(err, ErrAccessDenied) true.
func (e AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// Error is the catch-all backend failure. Message carries the backend's
// diagnostic text.
type Error struct {
	Vault   string
	Stage   string
	Op      string
	Key     string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Key != "" {
		return fmt.Sprintf("vault %s (stage %s) %s %q: %s", e.Vault, e.Stage, e.Op, e.Key, msg)
	}
	return fmt.Sprintf("vault %s (stage %s) %s: %s", e.Vault, e.Stage, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSecretNotFound)
}

// IsAccessDenied reports whether err is an authorization failure.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}
