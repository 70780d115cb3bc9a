package vaults

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"github.com/systmms/stagevault/pkg/vault"
)

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindAccessDenied
)

// errorTable maps backend error codes to the vault error taxonomy. Codes
// missing from the table are reported as *vault.Error.
type errorTable map[string]errorKind

// classifier refines the table lookup for codes whose meaning depends on the
// message.
type classifier func(code, message string) errorKind

func (t errorTable) classify(code, _ string) errorKind {
	return t[code]
}

// opError describes the call that failed.
type opError struct {
	binding vault.Binding
	op      string
	key     string
	path    string
}

// translate turns a backend failure into a NotFoundError, an
// AccessDeniedError or a *vault.Error. It never returns an SDK error type.
func translate(oe opError, err error, classify classifier) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return oe.failure("timed out waiting for backend", context.DeadlineExceeded)
	}
	if errors.Is(err, context.Canceled) {
		return oe.failure("canceled", context.Canceled)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch classify(apiErr.ErrorCode(), apiErr.ErrorMessage()) {
		case kindNotFound:
			return oe.notFound()
		case kindAccessDenied:
			return vault.AccessDeniedError{
				Vault:   oe.binding.Name,
				Stage:   oe.binding.Stage,
				Key:     oe.key,
				Message: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage(),
			}
		}
		return oe.failure(apiErr.ErrorCode()+": "+apiErr.ErrorMessage(), errors.New(err.Error()))
	}

	return oe.failure(err.Error(), errors.New(err.Error()))
}

func (oe opError) notFound() error {
	return vault.NotFoundError{
		Vault: oe.binding.Name,
		Stage: oe.binding.Stage,
		Key:   oe.key,
		Path:  oe.path,
	}
}

func (oe opError) failure(message string, cause error) error {
	return &vault.Error{
		Vault:   oe.binding.Name,
		Stage:   oe.binding.Stage,
		Op:      oe.op,
		Key:     oe.key,
		Message: message,
		Err:     cause,
	}
}
