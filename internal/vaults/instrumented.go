package vaults

import (
	"context"
	"errors"
	"time"

	"github.com/systmms/stagevault/internal/metrics"
	"github.com/systmms/stagevault/pkg/filter"
	"github.com/systmms/stagevault/pkg/secret"
	"github.com/systmms/stagevault/pkg/vault"
)

// Instrumented bounds every call on the wrapped vault by a timeout and
// records it in the vault operation metrics.
type Instrumented struct {
	inner   vault.Vault
	timeout time.Duration
}

// Instrument wraps v. A zero timeout leaves calls bounded only by the
// caller's context.
func Instrument(v vault.Vault, timeout time.Duration) *Instrumented {
	if already, ok := v.(*Instrumented); ok {
		v = already.inner
	}
	return &Instrumented{inner: v, timeout: timeout}
}

// Unwrap returns the wrapped vault
func (i *Instrumented) Unwrap() vault.Vault { return i.inner }

// Name returns the vault name
func (i *Instrumented) Name() string { return i.inner.Name() }

// Stage returns the bound stage
func (i *Instrumented) Stage() string { return i.inner.Stage() }

// Format returns the backend path for key
func (i *Instrumented) Format(key string) string { return i.inner.Format(key) }

// ForStage rebinds the wrapped vault and keeps the instrumentation
func (i *Instrumented) ForStage(stage string) vault.Vault {
	return &Instrumented{inner: i.inner.ForStage(stage), timeout: i.timeout}
}

// List implements vault.Vault
func (i *Instrumented) List(ctx context.Context) (*secret.Collection, error) {
	ctx, done := i.begin(ctx, "list", "")
	out, err := i.inner.List(ctx)
	return out, done(err)
}

// Get implements vault.Vault
func (i *Instrumented) Get(ctx context.Context, key string) (secret.Secret, error) {
	ctx, done := i.begin(ctx, "get", key)
	out, err := i.inner.Get(ctx, key)
	return out, done(err)
}

// Set implements vault.Vault
func (i *Instrumented) Set(ctx context.Context, key, value string, secure bool) (secret.Secret, error) {
	ctx, done := i.begin(ctx, "set", key)
	out, err := i.inner.Set(ctx, key, value, secure)
	return out, done(err)
}

// Delete implements vault.Vault
func (i *Instrumented) Delete(ctx context.Context, key string) error {
	ctx, done := i.begin(ctx, "delete", key)
	return done(i.inner.Delete(ctx, key))
}

// History implements vault.Vault
func (i *Instrumented) History(ctx context.Context, key string, filters filter.Collection, limit int) (*secret.HistoryCollection, error) {
	ctx, done := i.begin(ctx, "history", key)
	out, err := i.inner.History(ctx, key, filters, limit)
	return out, done(err)
}

func (i *Instrumented) begin(ctx context.Context, op, key string) (context.Context, func(error) error) {
	start := time.Now()
	cancel := func() {}
	if i.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
	}

	return ctx, func(err error) error {
		defer cancel()
		err = i.normalize(op, key, err)
		metrics.RecordVaultOperation(i.inner.Name(), op, outcome(err), time.Since(start))
		return err
	}
}

// normalize makes sure a timeout surfaces as *vault.Error even when the
// wrapped vault returned the bare context error.
func (i *Instrumented) normalize(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var vaultErr *vault.Error
	if errors.As(err, &vaultErr) || vault.IsNotFound(err) || vault.IsAccessDenied(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return translate(opError{binding: vault.Binding{Name: i.inner.Name(), Stage: i.inner.Stage()}, op: op, key: key}, err, nil)
	}
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case vault.IsNotFound(err):
		return metrics.OutcomeNotFound
	case vault.IsAccessDenied(err):
		return metrics.OutcomeAccessDenied
	default:
		return metrics.OutcomeError
	}
}
